package router

import (
	"time"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/event"
)

const defaultCustodyTimer = 30 * time.Second

// BundleLookup resolves a bundleid to the live Bundle so the router can
// read the fields it needs (destination, flags, forwarding log) without
// holding any list reference itself (§4.7: "no direct access to lists").
type BundleLookup interface {
	Find(bundleID uint32) (*bundle.Bundle, bool)
}

// LinkSource enumerates the links a destination EID could go out on.
type LinkSource interface {
	ResolveForEID(dest eid.ID) []*contact.Link
}

// RegistrationSource enumerates the local registrations (§3) whose
// pattern matches a bundle's destination, so Basic can deliver to them
// in addition to (not instead of) forwarding onward: a bundle addressed
// to this node is still subject to flood-style forwarding if the
// registration's pattern is itself a wildcard shared with a remote peer.
type RegistrationSource interface {
	MatchRegistrations(dest eid.ID) []uint32
}

// Basic is the deterministic flood-style router shipped as a working
// default (§4.7 ADDED): every BundleReceived fans out to every
// currently-Open link whose remote EID pattern matches the bundle's
// destination, and delivers to every local registration whose pattern
// matches too.
type Basic struct {
	bundles BundleLookup
	links   LinkSource
	regs    RegistrationSource
}

func NewBasic(bundles BundleLookup, links LinkSource, regs RegistrationSource) *Basic {
	return &Basic{bundles: bundles, links: links, regs: regs}
}

func (r *Basic) HandleEvent(ev event.Event) []event.Action {
	switch ev.Kind {
	case event.BundleReceived:
		return r.handleReceived(ev)
	case event.BundleExpired:
		return []event.Action{{Kind: event.Delete, BundleID: ev.BundleID, DeleteReason: "expired"}}
	case event.BundleTransmitted:
		return []event.Action{{Kind: event.StoreUpdate, BundleID: ev.BundleID}}
	case event.CustodyTimeout:
		return []event.Action{{Kind: event.StoreUpdate, BundleID: ev.BundleID}}
	default:
		// LinkCreated/Deleted/Available/Unavailable, ContactUp/Down,
		// BundleTransmitFailed, registrations, operator commands: the
		// deterministic default router observes but does not react;
		// a production router would re-evaluate pending bundles here.
		return nil
	}
}

func (r *Basic) handleReceived(ev event.Event) []event.Action {
	b, ok := r.bundles.Find(ev.BundleID)
	if !ok {
		return nil
	}
	actions := []event.Action{{Kind: event.StoreAdd, BundleID: ev.BundleID}}

	for _, l := range r.links.ResolveForEID(b.Dest) {
		if l.State() != contact.Open {
			continue
		}
		a := event.Action{
			Kind:     event.Enqueue,
			BundleID: ev.BundleID,
			Link:     l.Name,
			Forward:  event.ForwardUnique,
		}
		if b.Flags.Has(bundle.FlagCustodyRequested) && !custodyHeld(b) {
			a.CustodyTimer = int64(defaultCustodyTimer)
		}
		actions = append(actions, a)
	}
	if r.regs != nil {
		for _, regID := range r.regs.MatchRegistrations(b.Dest) {
			actions = append(actions, event.Action{Kind: event.Deliver, BundleID: ev.BundleID, RegID: regID})
		}
	}
	return actions
}

// custodyHeld reports whether some link's forwarding log already shows
// this bundle transmitted or delivered, i.e. custody already transferred
// onward, so a second custody-timer request would be redundant.
func custodyHeld(b *bundle.Bundle) bool {
	for _, e := range b.Log.Entries() {
		if e.State == bundle.StateTransmitted || e.State == bundle.StateDelivered {
			return true
		}
	}
	return false
}
