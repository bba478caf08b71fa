package daemon

import (
	"encoding/binary"
	"sync"

	cuckoofilter "github.com/seiflotfy/cuckoofilter"

	"github.com/dtnd/dtnd/bundle"
)

// duplicateIndex implements the §7 DuplicateIdentity pre-filter: a
// cuckoo filter short-circuits the overwhelmingly common non-duplicate
// case before the daemon pays for an exact scan over pending_bundles.
// The filter only produces false positives, never false negatives, so
// a Lookup miss proves uniqueness on its own; a Lookup hit still needs
// the exact-identity confirmation findDuplicate performs.
type duplicateIndex struct {
	mu     sync.Mutex
	filter *cuckoofilter.Filter
}

// duplicateFilterCapacity is sized for a node holding on the order of a
// million in-flight bundle identities before the filter's false-positive
// rate starts costing meaningful scan overhead.
const duplicateFilterCapacity = 1 << 20

func newDuplicateIndex() *duplicateIndex {
	return &duplicateIndex{filter: cuckoofilter.NewFilter(duplicateFilterCapacity)}
}

func identityKey(id bundle.Identity) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id.Digest())
	return buf[:]
}

func (x *duplicateIndex) maybeSeen(id bundle.Identity) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.filter.Lookup(identityKey(id))
}

func (x *duplicateIndex) record(id bundle.Identity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.filter.Insert(identityKey(id))
}

func (x *duplicateIndex) forget(id bundle.Identity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.filter.Delete(identityKey(id))
}

// findDuplicate confirms a cuckoo-filter hit against pending_bundles by
// exact identity comparison — (source, creation_ts, is_fragment?,
// frag_offset, orig_length) per §3 — before the daemon treats it as a
// genuine DuplicateIdentity.
func (d *Daemon) findDuplicate(id bundle.Identity) (*bundle.Bundle, bool) {
	if !d.dup.maybeSeen(id) {
		return nil, false
	}
	var found *bundle.Bundle
	d.Pending.Range(func(b *bundle.Bundle) bool {
		if b.Identity() == id {
			found = b
			return false
		}
		return true
	})
	return found, found != nil
}
