package daemon

import (
	"fmt"
	"sort"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/store"
)

// AddRegistration persists and activates a new application registration
// (§3), posting RegistrationAdded for the router to observe.
func (d *Daemon) AddRegistration(pattern string, failureAction int, expiration int64) (uint32, error) {
	pat, err := eid.Parse(pattern)
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid registration pattern: %w", err)
	}
	id, err := d.Globals.NextRegID()
	if err != nil {
		return 0, fmt.Errorf("daemon: allocating regid: %w", err)
	}

	reg := &Registration{
		RegID: id, Pattern: pat, FailureAction: failureAction, Expiration: expiration,
		Queue: bundle.NewBundleList(fmt.Sprintf("registration/%d", id)),
	}
	d.regMu.Lock()
	d.regs[id] = reg
	d.regMu.Unlock()

	rec := store.RegistrationRecord{RegID: id, Pattern: pattern, FailureAction: failureAction, Expiration: expiration}
	data, err := store.MarshalRegistrationRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := d.RegistrationsTable.Put(regKey(id), data, store.Create); err != nil {
		return 0, err
	}

	d.Post(event.Event{Kind: event.RegistrationAdded, RegID: id})
	return id, nil
}

// RemoveRegistration deletes and deactivates a registration, posting
// RegistrationRemoved.
func (d *Daemon) RemoveRegistration(regID uint32) error {
	d.regMu.Lock()
	_, ok := d.regs[regID]
	delete(d.regs, regID)
	d.regMu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: unknown registration %d", regID)
	}
	if err := d.RegistrationsTable.Del(regKey(regID)); err != nil {
		return err
	}
	d.Post(event.Event{Kind: event.RegistrationRemoved, RegID: regID})
	return nil
}

func (d *Daemon) Registration(regID uint32) (*Registration, bool) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	r, ok := d.regs[regID]
	return r, ok
}

// MatchRegistrations implements router.RegistrationSource: every
// registration whose pattern matches dest, in regid order so delivery
// order is deterministic given the same registration set (§4.7
// determinism requirement extends naturally to this fan-out too).
func (d *Daemon) MatchRegistrations(dest eid.ID) []uint32 {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	var out []uint32
	for id, r := range d.regs {
		if r.Pattern.Matches(dest) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
