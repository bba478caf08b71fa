package bundle

import (
	"sync"
	"time"

	"github.com/dtnd/dtnd/cmn/atomic"
)

// Order selects the comparison insert_sorted uses (§4.3).
type Order int

const (
	ByFragmentOffset Order = iota
	ByPriority
)

type bundleNode struct {
	b          *Bundle
	prev, next *bundleNode
}

var listSeqGen atomic.Int64

// BundleList is an ordered multi-membership container: a doubly-linked
// sequence of bundle references plus an optional notifier used by a
// blocking consumer (§3, §4.3). It is the only structure in this module
// whose internal lock is shared across multiple producer goroutines (a
// per-link outbound queue is read by the daemon and written by CL
// callbacks) and the daemon itself (§5).
type BundleList struct {
	mu   sync.Mutex
	seq  int64 // assigns a total order to list identity for lock ordering
	name string

	head, tail *bundleNode
	length     int

	notify chan struct{} // buffered 1; signaled when the list becomes non-empty
}

func NewBundleList(name string) *BundleList {
	return &BundleList{
		seq:    listSeqGen.Inc(),
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

func (l *BundleList) Name() string { return l.name }

func (l *BundleList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

func (l *BundleList) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// PushBack appends b to the tail: acquire list lock, append, record the
// mapping on b, AddRef; if the list was empty, notify blocked waiters.
func (l *BundleList) PushBack(b *Bundle) {
	l.mu.Lock()
	n := &bundleNode{b: b}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.length++
	wasEmpty := l.length == 1
	l.mu.Unlock()

	b.addMapping(l, n)
	b.AddRef(ReasonList)
	if wasEmpty {
		l.signal()
	}
}

// PushFront prepends b to the head; same contract as PushBack.
func (l *BundleList) PushFront(b *Bundle) {
	l.mu.Lock()
	n := &bundleNode{b: b}
	if l.head == nil {
		l.head, l.tail = n, n
	} else {
		n.next = l.head
		l.head.prev = n
		l.head = n
	}
	l.length++
	wasEmpty := l.length == 1
	l.mu.Unlock()

	b.addMapping(l, n)
	b.AddRef(ReasonList)
	if wasEmpty {
		l.signal()
	}
}

// InsertSorted performs a linear scan under the list lock to find the
// insertion point per order, ties broken by insertion order (§4.3).
func (l *BundleList) InsertSorted(b *Bundle, order Order) {
	l.mu.Lock()
	n := &bundleNode{b: b}

	key := func(x *Bundle) uint64 {
		if order == ByFragmentOffset {
			return x.FragOffset
		}
		// Priority: higher priority sorts first, so invert for ascending scan.
		return uint64(Expedited - x.Priority)
	}
	nk := key(b)

	var cur *bundleNode
	for cur = l.head; cur != nil; cur = cur.next {
		if key(cur.b) > nk {
			break
		}
	}
	switch {
	case cur == nil && l.tail == nil:
		l.head, l.tail = n, n
	case cur == nil:
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	case cur.prev == nil:
		n.next = cur
		cur.prev = n
		l.head = n
	default:
		n.prev = cur.prev
		n.next = cur
		cur.prev.next = n
		cur.prev = n
	}
	l.length++
	wasEmpty := l.length == 1
	l.mu.Unlock()

	b.addMapping(l, n)
	b.AddRef(ReasonList)
	if wasEmpty {
		l.signal()
	}
}

// unlinkLocked removes n from the list; caller holds l.mu.
func (l *BundleList) unlinkLocked(n *bundleNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.length--
}

// PopFront unlinks the head under the list lock, removes the mapping —
// but does NOT DelRef; the ref is transferred to the caller, so moving a
// bundle between lists never touches refcount mid-flight (§4.3).
func (l *BundleList) PopFront() (*Bundle, bool) {
	l.mu.Lock()
	n := l.head
	if n == nil {
		l.mu.Unlock()
		return nil, false
	}
	l.unlinkLocked(n)
	l.mu.Unlock()

	n.b.delMapping(l, n)
	return n.b, true
}

// PopBack is PopFront's tail-side twin.
func (l *BundleList) PopBack() (*Bundle, bool) {
	l.mu.Lock()
	n := l.tail
	if n == nil {
		l.mu.Unlock()
		return nil, false
	}
	l.unlinkLocked(n)
	l.mu.Unlock()

	n.b.delMapping(l, n)
	return n.b, true
}

// Erase finds b by scanning under the list lock, unlinks it, and DelRefs
// (§4.3) — unlike Pop*, Erase owns the removed reference.
func (l *BundleList) Erase(b *Bundle) bool {
	l.mu.Lock()
	var found *bundleNode
	for n := l.head; n != nil; n = n.next {
		if n.b == b {
			found = n
			break
		}
	}
	if found == nil {
		l.mu.Unlock()
		return false
	}
	l.unlinkLocked(found)
	l.mu.Unlock()

	b.delMapping(l, found)
	b.DelRef(ReasonList)
	return true
}

// EraseNode is Erase's O(1) twin used when the caller already holds the
// node from a mapping (e.g. Bundle.EraseFromAllMappings).
func (l *BundleList) EraseNode(b *Bundle, n *bundleNode) bool {
	l.mu.Lock()
	// guard against a node that was already unlinked concurrently
	if n.prev == nil && n.next == nil && l.head != n {
		l.mu.Unlock()
		return false
	}
	l.unlinkLocked(n)
	l.mu.Unlock()

	b.delMapping(l, n)
	b.DelRef(ReasonList)
	return true
}

// Find performs a linear scan under the list lock.
func (l *BundleList) Find(bundleID uint32) (*Bundle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n := l.head; n != nil; n = n.next {
		if n.b.ID() == bundleID {
			return n.b, true
		}
	}
	return nil, false
}

// Range calls fn for every bundle currently on the list, in order,
// holding the list lock for the duration (§4.3 "iteration requires
// holding the list's lock"). fn must not call back into l; stop early
// by returning false. Used by callers that need a snapshot predicate
// over every live bundle, e.g. draining a link's in-flight sends.
func (l *BundleList) Range(fn func(*Bundle) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n := l.head; n != nil; n = n.next {
		if !fn(n.b) {
			return
		}
	}
}

// PopBlocking atomically drops the list lock, waits on the notifier
// (bounded by timeout), and retries. timeout == 0 returns immediately
// without a bundle if the list is empty (§8 boundary behaviour).
func (l *BundleList) PopBlocking(timeout time.Duration) (*Bundle, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if b, ok := l.PopFront(); ok {
			return b, true
		}
		if timeout <= 0 {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		select {
		case <-l.notify:
		case <-time.After(remaining):
			return nil, false
		}
	}
}

// MoveContents transfers all items from l into other, lock-ordered on
// list identity to avoid deadlock (§4.3).
func (l *BundleList) MoveContents(other *BundleList) {
	first, second := l, other
	if other.seq < l.seq {
		first, second = other, l
	}
	first.mu.Lock()
	second.mu.Lock()

	for n := l.head; n != nil; {
		next := n.next
		n.prev, n.next = nil, nil

		if other.tail == nil {
			other.head, other.tail = n, n
		} else {
			n.prev = other.tail
			other.tail.next = n
			other.tail = n
		}
		other.length++

		n.b.remapList(l, other, n)
		n = next
	}
	l.head, l.tail, l.length = nil, nil, 0

	second.mu.Unlock()
	first.mu.Unlock()
	other.signal()
}

// remapList rewrites the single mapping entry that pointed at (from, n)
// to point at (to, n) instead, used only by MoveContents which already
// holds both list locks; no ref change since the node (and its ref) is
// simply relocated.
func (b *Bundle) remapList(from, to *BundleList, n *bundleNode) {
	b.mu.Lock()
	for i, m := range b.mappings {
		if m.list == from && m.node == n {
			b.mappings[i].list = to
			break
		}
	}
	b.mu.Unlock()
}
