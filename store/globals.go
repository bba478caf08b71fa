package store

import (
	"sync"

	"github.com/dtnd/dtnd/cmn/atomic"
	"github.com/dtnd/dtnd/cmn/cos"
)

const globalsKey = "globals"

// Globals is the write-through singleton counter record (§3, §4.6 ADDED):
// next_bundleid, next_regid, and the opportunistic-link sequence are each
// monotonic and never reused, surviving restarts because every allocation
// persists before it is handed out.
type Globals struct {
	table Table

	mu            sync.Mutex
	version       int
	nextBundleID  atomic.Uint32
	nextRegID     atomic.Uint32
	nextOpLinkSeq uint64
}

// OpenGlobals loads the globals record from table, initializing a fresh
// one (version 1, all counters starting at 1) if the table is empty.
func OpenGlobals(table Table) (*Globals, error) {
	g := &Globals{table: table}
	raw, err := table.Get(globalsKey)
	if cos.IsErrNotFound(err) {
		g.version = 1
		g.nextBundleID.Store(1)
		g.nextRegID.Store(1)
		g.nextOpLinkSeq = 1
		if err := g.persistLocked(); err != nil {
			return nil, err
		}
		return g, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalGlobalsRecord(raw)
	if err != nil {
		return nil, err
	}
	g.version = rec.Version
	g.nextBundleID.Store(rec.NextBundleID)
	g.nextRegID.Store(rec.NextRegID)
	g.nextOpLinkSeq = rec.NextOpLinkSeq
	return g, nil
}

func (g *Globals) record() GlobalsRecord {
	return GlobalsRecord{
		Version:       g.version,
		NextBundleID:  g.nextBundleID.Load(),
		NextRegID:     g.nextRegID.Load(),
		NextOpLinkSeq: g.nextOpLinkSeq,
	}
}

func (g *Globals) persistLocked() error {
	data, err := json.Marshal(g.record())
	if err != nil {
		return err
	}
	return g.table.Put(globalsKey, data, CreateOrReplace)
}

// NextBundleID allocates and persists the next bundleid before returning
// it, so a crash right after allocation never hands out the same id twice.
func (g *Globals) NextBundleID() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextBundleID.Load()
	g.nextBundleID.Store(id + 1)
	if err := g.persistLocked(); err != nil {
		g.nextBundleID.Store(id) // roll back the in-memory allocation
		return 0, err
	}
	return id, nil
}

func (g *Globals) NextRegID() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextRegID.Load()
	g.nextRegID.Store(id + 1)
	if err := g.persistLocked(); err != nil {
		g.nextRegID.Store(id)
		return 0, err
	}
	return id, nil
}

// NextOpLinkSeq allocates the suffix used to name an opportunistic link
// (contact/manager.go), e.g. "opp-<seq>-<shortid>".
func (g *Globals) NextOpLinkSeq() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq := g.nextOpLinkSeq
	g.nextOpLinkSeq++
	if err := g.persistLocked(); err != nil {
		g.nextOpLinkSeq = seq
		return 0, err
	}
	return seq, nil
}

func unmarshalGlobalsRecord(data []byte) (GlobalsRecord, error) {
	var r GlobalsRecord
	err := json.Unmarshal(data, &r)
	return r, err
}
