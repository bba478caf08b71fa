package bundle

import (
	"sync"

	"github.com/dtnd/dtnd/cmn/atomic"
	"github.com/dtnd/dtnd/cmn/debug"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/hk"
)

// mapping is the back-pointer-only variant chosen to resolve the two
// BundleMapping shapes the original source carried (§9): a bundle's
// mappings record only which BundleList it sits on and the node within
// that list's internal linked representation; all forwarding metadata
// lives in ForwardingInfo/ForwardingLog instead.
type mapping struct {
	list *BundleList
	node *bundleNode
}

// Bundle is the atomic, reference-counted unit of the Bundle Protocol
// (§3). Its own lock protects only mappings and the refcount decision;
// everything else is set once at construction or is itself
// independently synchronized (ForwardingLog).
type Bundle struct {
	mu sync.Mutex

	id uint32

	Source, Dest, ReplyTo, Custodian eid.ID
	Priority                        Priority
	Flags                           Flags
	Creation                        CreationTimestamp
	ExpirationSec                   int64 // seconds after Creation.Seconds
	FragOffset, OrigLength          uint64
	Payload                         PayloadHandle

	Log *ForwardingLog

	mappings []mapping
	refcount atomic.Int64

	// ExpirationTimer is non-zero iff the bundle is live in memory and
	// its expiration is in the future (§3 invariant).
	ExpirationTimer hk.TimerID

	poster event.Poster
}

// New constructs a Bundle with refcount 1 (the caller's transient hold,
// per the invariant "refcount == mappings + app-hold + transient-hold").
// poster is used solely to post BundleFree when the refcount later drops
// to zero; it is set once and never mutated.
func New(id uint32, poster event.Poster) *Bundle {
	b := &Bundle{
		id:     id,
		Log:    &ForwardingLog{},
		poster: poster,
	}
	b.refcount.Store(1)
	return b
}

func (b *Bundle) ID() uint32 { return b.id }

// SetID assigns the bundleid once allocated; used by admission paths
// that construct a Bundle before a bundleid is known (§4.8 step 2).
func (b *Bundle) SetID(id uint32) { b.id = id }

// Identity returns the duplicate-detection tuple (§3).
func (b *Bundle) Identity() Identity {
	return Identity{
		Source:     b.Source,
		Creation:   b.Creation,
		IsFragment: b.Flags.Has(FlagIsFragment),
		FragOffset: b.FragOffset,
		OrigLength: b.OrigLength,
	}
}

// Ref returns the comparable handle naming this bundle.
func (b *Bundle) Ref() Ref {
	return Ref{BundleID: b.id, Digest: b.Identity().Digest()}
}

// ExpirationDeadlineMono is a placeholder the daemon combines with
// mono.NanoTime() bookkeeping recorded at recovery time; the bundle
// itself only stores the relative lifetime (Creation + ExpirationSec),
// matching the persisted record layout (§6).
func (b *Bundle) ExpirationDeadlineMono(creationMonoAnchor, nowWallDeltaSec int64) int64 {
	return creationMonoAnchor + (b.ExpirationSec-nowWallDeltaSec)*1e9
}

//
// refcounting
//

// AddRef increments the refcount. reason is an opaque debug-tracing tag,
// never interpreted.
func (b *Bundle) AddRef(_ reason) {
	b.refcount.Inc()
}

// DelRef decrements the refcount. If it drops to zero, a BundleFree
// event is posted — never handled inline, so that a caller holding a
// list or bundle lock is never re-entered into daemon mutation from
// within DelRef itself (§3 invariant, §9 "timer-callback re-entrancy"
// design note applied equally here).
func (b *Bundle) DelRef(_ reason) {
	if b.refcount.Dec() == 0 {
		if b.poster != nil {
			b.poster.PostLocal(event.Event{Kind: event.BundleFree, BundleID: b.id})
		}
	}
}

func (b *Bundle) RefCount() int64 { return b.refcount.Load() }

// reason is an opaque string used only for debug tracing (§4.3).
type reason = string

const (
	ReasonApp       reason = "app"
	ReasonTransient reason = "transient"
	ReasonList      reason = "list"
)

//
// mappings — mutated only while b.mu is held, and only by BundleList,
// always paired with AddRef/DelRef (§3, §4.3).
//

func (b *Bundle) addMapping(l *BundleList, n *bundleNode) {
	b.mu.Lock()
	b.mappings = append(b.mappings, mapping{list: l, node: n})
	b.mu.Unlock()
}

// delMapping removes the mapping entry for l (matched by node identity,
// since a bundle can in principle appear on the same list via distinct
// nodes — not expected in practice, but the match is by node to stay
// correct if it ever does).
func (b *Bundle) delMapping(l *BundleList, n *bundleNode) {
	b.mu.Lock()
	for i, m := range b.mappings {
		if m.list == l && m.node == n {
			b.mappings = append(b.mappings[:i], b.mappings[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// NumMappings returns how many BundleLists currently hold this bundle.
func (b *Bundle) NumMappings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mappings)
}

// EraseFromAllMappings removes this bundle from every list currently
// holding it, e.g. for scenario 2 of §8 ("erase B0 from all three lists
// via its mappings iterator"). Each erase drops one ref.
func (b *Bundle) EraseFromAllMappings() {
	b.mu.Lock()
	snapshot := make([]mapping, len(b.mappings))
	copy(snapshot, b.mappings)
	b.mu.Unlock()

	for _, m := range snapshot {
		m.list.EraseNode(b, m.node)
	}
}

// lock/unlock expose the bundle's own lock to BundleList, whose
// discipline requires acquiring the list lock first and the bundle lock
// second, never the reverse (§4.3 "Locking discipline").
func (b *Bundle) lock()    { b.mu.Lock() }
func (b *Bundle) unlock()  { b.mu.Unlock() }
func (b *Bundle) assertLockedByCaller() { debug.AssertMutexLocked(&b.mu) }
