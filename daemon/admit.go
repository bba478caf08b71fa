package daemon

import (
	"errors"
	"fmt"
	"time"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn"
	"github.com/dtnd/dtnd/cmn/cos"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/event"
)

// duplicateDiscardedError is a zero-field sentinel so errors.Is still
// works by plain equality, while also satisfying cmn.Kinded as
// KindDuplicateIdentity (§7) for callers that classify by kind rather
// than by identity (e.g. an eventual control-console error response).
type duplicateDiscardedError struct{}

func (duplicateDiscardedError) Error() string {
	return "daemon: duplicate bundle identity discarded"
}
func (duplicateDiscardedError) Kind() cmn.Kind { return cmn.KindDuplicateIdentity }

// ErrDuplicateDiscarded is returned by InjectBundle (and, in principle,
// any future peer-receive entry point sharing admit) when a bundle's
// identity tuple — (source, creation_ts, is_fragment?, frag_offset,
// orig_length), §3 — already matches one on pending_bundles. The core
// retains the first copy and discards this one (§7 DuplicateIdentity).
var ErrDuplicateDiscarded error = duplicateDiscardedError{}

// admit performs §4.8 step 2 — assign a bundleid, persist, insert into
// pending_bundles, start the expiration timer — synchronously on the
// calling goroutine (an app-facing call or a CL's receive path), before
// the BundleReceived event it returns is ever posted to the daemon
// queue. This is what lets InjectBundle and a future peer-receive path
// share one admission routine instead of duplicating it inside dispatch.
//
// Before insertion it consults the duplicate-identity index (§7): a
// genuine duplicate is never inserted into pending_bundles. If the
// duplicate requested custody, a custody-refusal signal is still built
// and handed to sendCustodySignal, which admits it as an admin bundle
// addressed to the previous custodian when one is known, per §7's
// carve-out; otherwise it is dropped silently. Either way ErrDuplicateDiscarded is
// returned so the caller knows not to treat this as a new admission.
func (d *Daemon) admit(b *bundle.Bundle, source event.Source) (event.Event, error) {
	if b.ID() == 0 {
		id, err := d.Globals.NextBundleID()
		if err != nil {
			return event.Event{}, fmt.Errorf("daemon: allocating bundleid: %w", err)
		}
		b.SetID(id)
	}

	identity := b.Identity()
	if dup, ok := d.findDuplicate(identity); ok {
		nlog.Warningf("daemon: bundle %d duplicates identity of pending bundle %d, discarding",
			b.ID(), dup.ID())
		if b.Flags.Has(bundle.FlagCustodyRequested) {
			d.sendCustodySignal(b, "duplicate")
		}
		b.DelRef("admission-transient")
		return event.Event{}, ErrDuplicateDiscarded
	}

	d.Pending.PushBack(b)
	b.DelRef("admission-transient")
	d.dup.record(identity)
	if d.Stats != nil {
		d.Stats.BundlesReceived.Inc()
		d.Stats.PendingGauge.Set(float64(d.Pending.Len()))
	}

	if err := d.persistBundle(b.ID()); err != nil {
		// §7 StoreError: fatal at add-time — the daemon cannot safely
		// acknowledge a bundle it failed to persist, and it has already
		// been inserted into pending_bundles by this point.
		cos.ExitLogf("daemon: failed to persist bundle %d at add-time: %v", b.ID(), err)
	}

	remaining := b.Creation.Seconds + b.ExpirationSec - time.Now().Unix()
	id := b.ID()
	if remaining <= 0 {
		d.Post(event.Event{Kind: event.BundleExpired, BundleID: id})
	} else {
		b.ExpirationTimer = d.HK.ScheduleIn(time.Duration(remaining)*time.Second, func() {
			d.Post(event.Event{Kind: event.BundleExpired, BundleID: id})
		})
	}

	return event.Event{Kind: event.BundleReceived, BundleID: id, Source: source}, nil
}

// InjectBundle resolves the inject_bundle Open Question (§9): validate
// source/dest, build a Bundle from the submission, admit it, and post
// BundleReceived(App) for the normal event path to pick up from step 3.
func (d *Daemon) InjectBundle(inj *event.Injection) (uint32, error) {
	src, err := eid.Parse(inj.Source)
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid source eid: %w", err)
	}
	dest, err := eid.Parse(inj.Dest)
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid dest eid: %w", err)
	}
	replyTo := eid.None
	if inj.ReplyTo != "" {
		replyTo, err = eid.Parse(inj.ReplyTo)
		if err != nil {
			return 0, fmt.Errorf("daemon: invalid replyto eid: %w", err)
		}
	}

	id, err := d.Globals.NextBundleID()
	if err != nil {
		return 0, fmt.Errorf("daemon: allocating bundleid: %w", err)
	}

	b := bundle.New(id, d)
	b.Source = src
	b.Dest = dest
	b.ReplyTo = replyTo
	b.Priority = bundle.Priority(inj.Priority)
	b.Creation = bundle.CreationTimestamp{Seconds: time.Now().Unix(), Sequence: 0}
	b.ExpirationSec = inj.LifetimeSec
	if inj.CustodyRequested {
		b.Flags |= bundle.FlagCustodyRequested
	}
	if inj.DoNotFragment {
		b.Flags |= bundle.FlagDoNotFragment
	}

	loc, err := d.Payload.Put(id, inj.Payload)
	if err != nil {
		return 0, fmt.Errorf("daemon: storing payload: %w", err)
	}
	b.Payload = bundle.PayloadHandle{Length: len(inj.Payload), Location: loc}
	b.OrigLength = uint64(len(inj.Payload))

	ev, err := d.admit(b, event.FromApp)
	if err != nil {
		if errors.Is(err, ErrDuplicateDiscarded) {
			if delErr := d.Payload.Del(loc); delErr != nil {
				nlog.Warningf("daemon: cleaning up payload for discarded duplicate: %v", delErr)
			}
			return b.ID(), err
		}
		return 0, err
	}
	d.Post(ev)
	return ev.BundleID, nil
}
