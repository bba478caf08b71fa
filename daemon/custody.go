package daemon

import (
	"errors"
	"time"

	"github.com/dtnd/dtnd/bpcodec"
	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/event"
)

// custodySignalLifetimeSec bounds how long an outbound custody signal
// itself may live in pending_bundles before it is treated like any
// other expiring bundle.
const custodySignalLifetimeSec = 3600

// custodyReasonFor maps a §4.8 step-4 delete reason (or the
// "duplicate" tag admit.go uses) onto the admin-record refusal code
// bpcodec.CustodySignal carries.
func custodyReasonFor(reason string) bpcodec.CustodyReason {
	switch reason {
	case "expired":
		return bpcodec.CustodyReasonExpired
	case "duplicate":
		return bpcodec.CustodyReasonRedundant
	default:
		return bpcodec.CustodyReasonNoInfo
	}
}

// sendCustodySignal builds the admin-record payload §1/§7/§4.8 step 4
// "Delete" requires whenever a custody-requesting bundle is deleted or
// discarded as a duplicate. When a previous custodian is known, the
// signal is submitted as a new admin bundle through the ordinary
// admission path (§9 resolved "inject_bundle" route), so it gets
// persisted, timed, and forwarded onward exactly like any other bundle
// — including, if the previous custodian is itself unreachable right
// now, sitting in pending_bundles until a route appears.
func (d *Daemon) sendCustodySignal(b *bundle.Bundle, reason string) {
	sig := bpcodec.CustodySignal{
		Accepted:          reason == "",
		Reason:            custodyReasonFor(reason),
		BundleSource:      b.Source.String(),
		CreationSeconds:   b.Creation.Seconds,
		CreationSequence:  b.Creation.Sequence,
		SignalTimeSeconds: time.Now().Unix(),
	}
	payload := bpcodec.EncodeCustodySignal(sig)

	if b.Custodian.IsZero() || b.Custodian.Equal(d.cfg.LocalEID) {
		nlog.Infof("daemon: custody signal for bundle %d (reason=%q) has no previous custodian to address", b.ID(), reason)
		return
	}

	id, err := d.Globals.NextBundleID()
	if err != nil {
		nlog.Errorf("daemon: allocating bundleid for custody signal on bundle %d: %v", b.ID(), err)
		return
	}
	loc, err := d.Payload.Put(id, payload)
	if err != nil {
		nlog.Errorf("daemon: storing custody signal payload for bundle %d: %v", b.ID(), err)
		return
	}

	admin := bundle.New(id, d)
	admin.Source = d.cfg.LocalEID
	admin.Dest = b.Custodian
	admin.ReplyTo = d.cfg.LocalEID
	admin.Priority = bundle.Expedited
	admin.Flags |= bundle.FlagIsAdmin
	admin.Creation = bundle.CreationTimestamp{Seconds: time.Now().Unix(), Sequence: 0}
	admin.ExpirationSec = custodySignalLifetimeSec
	admin.Payload = bundle.PayloadHandle{Length: len(payload), Location: loc}
	admin.OrigLength = uint64(len(payload))

	ev, err := d.admit(admin, event.FromApp)
	if err != nil {
		if !errors.Is(err, ErrDuplicateDiscarded) {
			nlog.Errorf("daemon: admitting custody signal for bundle %d: %v", b.ID(), err)
		}
		return
	}
	d.Post(ev)
}
