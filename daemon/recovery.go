package daemon

import (
	"fmt"
	"time"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/store"
)

// Recover implements the crash-recovery sequence (§4.8 "Crash
// recovery"): globals are already loaded by the caller (Globals is
// constructed before the Daemon), so this loads bundles, then
// registrations, synthesising BundleExpired for anything whose
// lifetime has already elapsed. Call this before Run(); CL
// initialization and normal event processing both happen after it
// returns, per the spec's ordering.
func (d *Daemon) Recover() error {
	var reErr error
	err := d.BundlesTable.Iterate(func(_ string, value []byte) bool {
		rec, err := store.UnmarshalBundleRecord(value)
		if err != nil {
			reErr = err
			return false
		}
		d.recoverBundle(rec)
		return true
	})
	if err != nil {
		return err
	}
	if reErr != nil {
		return reErr
	}

	return d.RegistrationsTable.Iterate(func(_ string, value []byte) bool {
		rec, err := store.UnmarshalRegistrationRecord(value)
		if err != nil {
			reErr = err
			return false
		}
		d.recoverRegistration(rec)
		return true
	})
}

func (d *Daemon) recoverBundle(rec store.BundleRecord) {
	b := store.Materialize(rec, d)
	d.Pending.PushBack(b)
	b.DelRef("recovery-transient")
	d.dup.record(b.Identity())

	remaining := b.Creation.Seconds + b.ExpirationSec - time.Now().Unix()
	id := b.ID()
	if remaining <= 0 {
		d.Post(event.Event{Kind: event.BundleExpired, BundleID: id})
		return
	}
	b.ExpirationTimer = d.HK.ScheduleIn(time.Duration(remaining)*time.Second, func() {
		d.Post(event.Event{Kind: event.BundleExpired, BundleID: id})
	})
}

func (d *Daemon) recoverRegistration(rec store.RegistrationRecord) {
	pattern, err := eid.Parse(rec.Pattern)
	if err != nil {
		return
	}
	d.regMu.Lock()
	d.regs[rec.RegID] = &Registration{
		RegID:         rec.RegID,
		Pattern:       pattern,
		FailureAction: rec.FailureAction,
		Expiration:    rec.Expiration,
		Queue:         bundle.NewBundleList(fmt.Sprintf("registration/%d", rec.RegID)),
	}
	d.regMu.Unlock()
}
