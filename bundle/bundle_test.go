package bundle_test

import (
	"sync"
	"testing"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/event"
)

// noopPoster collects posted events for assertions; PostLocal never
// blocks, matching the real daemon's contract for reentrant posts.
type noopPoster struct {
	mu     sync.Mutex
	posted []event.Event
}

func (p *noopPoster) Post(ev event.Event) { p.PostLocal(ev) }
func (p *noopPoster) PostLocal(ev event.Event) {
	p.mu.Lock()
	p.posted = append(p.posted, ev)
	p.mu.Unlock()
}

func (p *noopPoster) freedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.posted {
		if ev.Kind == event.BundleFree {
			n++
		}
	}
	return n
}

func newTestBundle(id uint32, poster event.Poster) *bundle.Bundle {
	return bundle.New(id, poster)
}

// Scenario 1 (§8): push/pop identity.
func TestPushPopIdentity(t *testing.T) {
	poster := &noopPoster{}
	l := bundle.NewBundleList("L")

	bundles := make([]*bundle.Bundle, 10)
	for i := range bundles {
		bundles[i] = newTestBundle(uint32(i), poster)
		l.PushBack(bundles[i])
	}

	for i := 0; i < 10; i++ {
		b, ok := l.PopFront()
		if !ok {
			t.Fatalf("pop %d: list empty early", i)
		}
		if b.ID() != uint32(i) {
			t.Fatalf("pop %d: got bundle %d, want %d", i, b.ID(), i)
		}
		if b.NumMappings() != 0 {
			t.Fatalf("bundle %d: expected 0 mappings after pop, got %d", i, b.NumMappings())
		}
		// Pop transfers the ref; the caller's transient hold is the only
		// one left, so refcount must be back to 1.
		if rc := b.RefCount(); rc != 1 {
			t.Fatalf("bundle %d: refcount = %d, want 1", i, rc)
		}
	}
}

// Scenario 2 (§8): multi-list membership.
func TestMultiListMembership(t *testing.T) {
	poster := &noopPoster{}
	l1 := bundle.NewBundleList("L1")
	l2 := bundle.NewBundleList("L2")
	l3 := bundle.NewBundleList("L3")

	bundles := make([]*bundle.Bundle, 10)
	for i := range bundles {
		b := newTestBundle(uint32(i), poster)
		bundles[i] = b
		l1.PushBack(b)
		if i%2 == 0 {
			l2.PushBack(b)
		} else {
			l2.PushFront(b)
		}
		if i%3 == 0 {
			l3.PushBack(b)
		}
	}

	b0 := bundles[0]
	if n := b0.NumMappings(); n != 3 {
		t.Fatalf("B0.NumMappings() = %d, want 3", n)
	}

	b0.EraseFromAllMappings()

	if n := b0.NumMappings(); n != 0 {
		t.Fatalf("after erase: B0.NumMappings() = %d, want 0", n)
	}
	if rc := b0.RefCount(); rc != 1 {
		t.Fatalf("after erase: B0.RefCount() = %d, want 1", rc)
	}
}

func TestInsertSortedFragmentOffsetNonDecreasing(t *testing.T) {
	poster := &noopPoster{}
	l := bundle.NewBundleList("frags")
	offsets := []uint64{30, 10, 20, 0, 25}
	for i, off := range offsets {
		b := newTestBundle(uint32(i), poster)
		b.FragOffset = off
		l.InsertSorted(b, bundle.ByFragmentOffset)
	}
	var prev uint64
	popped := 0
	for {
		b, ok := l.PopFront()
		if !ok {
			break
		}
		if b.FragOffset < prev {
			t.Fatalf("non-decreasing violated: %d after %d", b.FragOffset, prev)
		}
		prev = b.FragOffset
		popped++
	}
	if popped != len(offsets) {
		t.Fatalf("popped %d bundles, want %d (InsertSorted must not drop any)", popped, len(offsets))
	}
}

func TestPopBlockingZeroTimeoutReturnsImmediately(t *testing.T) {
	l := bundle.NewBundleList("empty")
	if _, ok := l.PopBlocking(0); ok {
		t.Fatal("expected no bundle from an empty list")
	}
}

func TestRefcountDropToZeroPostsBundleFree(t *testing.T) {
	poster := &noopPoster{}
	b := newTestBundle(42, poster)
	l := bundle.NewBundleList("L")
	l.PushBack(b)
	b.DelRef("transient") // drop the constructor's transient hold

	l.Erase(b)

	if got := poster.freedCount(); got != 1 {
		t.Fatalf("BundleFree posted %d times, want 1", got)
	}
}
