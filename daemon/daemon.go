// Package daemon implements the single-consumer Bundle Daemon (§4.8):
// the event loop that owns pending_bundles, the Contact Manager, the
// registration table, and every persistent-store handle, and that
// alone is permitted to execute Router actions.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package daemon

import (
	"strconv"
	"sync"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cla"
	"github.com/dtnd/dtnd/cmn"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/cmn/mono"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/hk"
	"github.com/dtnd/dtnd/router"
	"github.com/dtnd/dtnd/stats"
	"github.com/dtnd/dtnd/store"
)

// Registration is the in-memory form of an application's subscription
// to an endpoint-id pattern (§3). Queue is the BundleList a matching
// bundle is delivered onto; draining it is the out-of-scope
// application-facing delivery API's job, per spec.md's carve-out — the
// core's contract ends at "a bundle with a matching destination appears
// on this list".
type Registration struct {
	RegID         uint32
	Pattern       eid.ID
	FailureAction int
	Expiration    int64
	Queue         *bundle.BundleList
}

// localQueue is the non-blocking internal event queue PostLocal feeds
// (§5, §4.8 ADDED): an unbounded mutex-protected slice rather than a
// channel, so a reentrant post from inside dispatch (e.g. a refcount
// drop to zero) can never block on queue capacity.
type localQueue struct {
	mu    sync.Mutex
	items []event.Event
	wake  chan struct{}
}

func newLocalQueue() *localQueue {
	return &localQueue{wake: make(chan struct{}, 1)}
}

func (q *localQueue) push(ev event.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *localQueue) popAll() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Daemon is the event-driven core (§4.8). It implements event.Poster
// itself: Post is the bounded external channel, PostLocal is the
// unbounded internal queue drained ahead of it on every iteration.
type Daemon struct {
	cfg *cmn.Config

	BundlesTable       store.Table
	RegistrationsTable store.Table
	Globals            *store.Globals
	Payload            store.PayloadStore

	HK      *hk.Housekeeper
	Contact *contact.Manager
	CLs     *cla.Manager
	Router  router.Router

	Pending *bundle.BundleList
	dup     *duplicateIndex
	Stats   *stats.Tracker // nil is valid: every call site below guards it

	regMu sync.Mutex
	regs  map[uint32]*Registration

	queue chan event.Event
	local *localQueue

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Deps bundles every externally-constructed collaborator the Daemon is
// wired together from; cmd/dtnd and tests both build one of these.
type Deps struct {
	Config             *cmn.Config
	BundlesTable       store.Table
	RegistrationsTable store.Table
	Globals            *store.Globals
	Payload            store.PayloadStore
	HK                 *hk.Housekeeper
	Contact            *contact.Manager
	CLs                *cla.Manager
	Stats              *stats.Tracker
}

func New(d Deps) *Daemon {
	dm := &Daemon{
		cfg:                d.Config,
		BundlesTable:       d.BundlesTable,
		RegistrationsTable: d.RegistrationsTable,
		Globals:            d.Globals,
		Payload:            d.Payload,
		HK:                 d.HK,
		Contact:            d.Contact,
		CLs:                d.CLs,
		Pending:            bundle.NewBundleList("pending_bundles"),
		dup:                newDuplicateIndex(),
		Stats:              d.Stats,
		regs:               make(map[uint32]*Registration),
		queue:              make(chan event.Event, maxInt(d.Config.EventQueueHWM, 1)),
		local:              newLocalQueue(),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
	if dm.Contact != nil {
		dm.Contact.SetOnClose(dm.drainInFlight)
	}
	return dm
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SetRouter installs the Router instance; separated from New because
// router.Basic needs a BundleLookup/LinkSource backed by this Daemon.
func (d *Daemon) SetRouter(r router.Router) { d.Router = r }

// WireContact installs the Contact Manager after construction. The
// Manager itself needs an event.Poster at construction time, and the
// Daemon is that poster — so a caller (cmd/dtnd, a test harness) builds
// the Daemon first, builds the Manager with the Daemon as its poster,
// then calls WireContact to close the loop, exactly as New does
// in-line when Deps.Contact is already populated (e.g. when a caller
// prefers to construct both eagerly via a two-phase Deps).
func (d *Daemon) WireContact(mgr *contact.Manager) {
	d.Contact = mgr
	d.Contact.SetOnClose(d.drainInFlight)
}

// Find implements router.BundleLookup.
func (d *Daemon) Find(bundleID uint32) (*bundle.Bundle, bool) {
	return d.Pending.Find(bundleID)
}

//
// event.Poster
//

func (d *Daemon) Post(ev event.Event)      { d.queue <- ev }
func (d *Daemon) PostLocal(ev event.Event) { d.local.push(ev) }

//
// run loop
//

// Run is the daemon task; call it in its own goroutine. It drains the
// internal queue to exhaustion before ever pulling from the external
// channel, so reentrant events (BundleFree, custody follow-ups) never
// queue up behind external producers (§4.8 ADDED).
func (d *Daemon) Run() {
	defer close(d.done)
	for {
		if evs := d.local.popAll(); len(evs) > 0 {
			for _, ev := range evs {
				d.dispatch(ev)
			}
			continue
		}
		select {
		case <-d.stop:
			return
		case ev := <-d.queue:
			d.dispatch(ev)
		case <-d.local.wake:
			continue
		}
	}
}

func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func bundleKey(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

func regKey(id uint32) string { return "reg:" + strconv.FormatUint(uint64(id), 10) }

//
// event dispatch (§4.8 steps 3-5; step 2 happens at admission, before
// the event is ever posted — see admit.go)
//

func (d *Daemon) dispatch(ev event.Event) {
	if ev.Kind == event.BundleFree {
		nlog.Infof("daemon: bundle %d freed", ev.BundleID)
		return
	}
	if d.handleControlCommand(ev) {
		return
	}
	if ev.Kind == event.BundleTransmitFailed {
		if link, ok := d.Contact.Get(ev.Link); ok {
			link.Stats.BundlesFailed.Inc()
		}
		if d.Stats != nil {
			d.Stats.RecordFailed(ev.Link)
		}
	}
	if ev.Kind == event.BundleTransmitted {
		if b, ok := d.Pending.Find(ev.BundleID); ok {
			b.Log.Update(ev.Link, bundle.StateTransmitted, mono.NanoTime())
		}
	}

	var actions []event.Action
	if d.Router != nil {
		actions = d.Router.HandleEvent(ev)
	}
	for _, a := range actions {
		d.execute(a)
	}
}

func (d *Daemon) execute(a event.Action) {
	switch a.Kind {
	case event.Enqueue:
		d.execEnqueue(a)
	case event.Cancel:
		d.execCancel(a)
	case event.Delete:
		d.execDelete(a)
	case event.StoreAdd, event.StoreUpdate:
		d.persistBundle(a.BundleID)
	case event.StoreDel:
		if err := d.BundlesTable.Del(bundleKey(a.BundleID)); err != nil {
			nlog.Warningf("daemon: store del %d: %v", a.BundleID, err)
		}
	case event.Deliver:
		d.execDeliver(a)
	}
}

// execDeliver hands a bundle to a local registration's queue (§3
// Registration, §4.7 RegistrationSource): the app-facing delivery API
// itself is out of scope, but placing the bundle on the registration's
// BundleList — as one more membership the bundle's mappings track — is
// the core's side of the contract.
func (d *Daemon) execDeliver(a event.Action) {
	reg, ok := d.Registration(a.RegID)
	if !ok {
		nlog.Errorf("daemon: Deliver to unknown registration %d", a.RegID)
		return
	}
	b, ok := d.Pending.Find(a.BundleID)
	if !ok {
		nlog.Errorf("daemon: Deliver for unknown bundle %d", a.BundleID)
		return
	}
	reg.Queue.PushBack(b)
	if d.Stats != nil {
		d.Stats.BundlesDelivered.Inc()
	}
}

func (d *Daemon) execEnqueue(a event.Action) {
	link, ok := d.Contact.Get(a.Link)
	if !ok {
		nlog.Errorf("daemon: Enqueue on unknown link %q", a.Link)
		return
	}
	if link.State() != contact.Open {
		nlog.Errorf("daemon: Enqueue on link %q not Open", a.Link)
		return
	}
	b, ok := d.Pending.Find(a.BundleID)
	if !ok {
		nlog.Errorf("daemon: Enqueue for unknown bundle %d", a.BundleID)
		return
	}
	if b.Log.IsInFlight(a.Link) {
		nlog.Errorf("daemon: bundle %d already in flight on link %q", a.BundleID, a.Link)
		return
	}
	if link.MTU > 0 && int64(b.Payload.Length) > link.MTU {
		nlog.Errorf("daemon: bundle %d (%d bytes) exceeds mtu %d on link %q",
			a.BundleID, b.Payload.Length, link.MTU, a.Link)
		return
	}
	ct := link.Contact()
	if ct == nil {
		nlog.Errorf("daemon: link %q Open with no Contact", a.Link)
		return
	}
	drv, err := d.CLs.Get(link.CLName)
	if err != nil {
		nlog.Errorf("daemon: %v", err)
		return
	}

	b.Log.AddEntry(a.Link, toBundleForwardAction(a.Forward), bundle.StateInFlight, mono.NanoTime())
	link.Stats.BundlesSent.Inc()
	link.Stats.BytesSent.Add(int64(b.Payload.Length))
	if d.Stats != nil {
		d.Stats.RecordSend(a.Link, int64(b.Payload.Length))
	}
	drv.SendBundle(ct, b)
}

func (d *Daemon) execCancel(a event.Action) {
	link, ok := d.Contact.Get(a.Link)
	if !ok || link.State() != contact.Open {
		return
	}
	b, ok := d.Pending.Find(a.BundleID)
	if !ok {
		return
	}
	ct := link.Contact()
	if ct == nil {
		return
	}
	b.Log.Update(a.Link, bundle.StateCancelled, mono.NanoTime())
	drv, err := d.CLs.Get(link.CLName)
	if err != nil {
		return
	}
	drv.CancelBundle(ct, b)
}

func (d *Daemon) execDelete(a event.Action) {
	b, ok := d.Pending.Find(a.BundleID)
	if !ok {
		return
	}
	if b.Flags.Has(bundle.FlagCustodyRequested) {
		d.sendCustodySignal(b, a.DeleteReason)
	}
	d.HK.Cancel(b.ExpirationTimer)
	if d.Payload != nil && b.Payload.Location != "" {
		if err := d.Payload.Del(b.Payload.Location); err != nil {
			nlog.Warningf("daemon: payload del for bundle %d: %v", a.BundleID, err)
		}
	}
	if err := d.BundlesTable.Del(bundleKey(a.BundleID)); err != nil {
		nlog.Warningf("daemon: store del for bundle %d: %v", a.BundleID, err)
	}
	d.dup.forget(b.Identity())
	b.EraseFromAllMappings()
	if d.Stats != nil {
		d.Stats.BundlesDeleted.Inc()
		if a.DeleteReason == "expired" {
			d.Stats.BundlesExpired.Inc()
		}
		d.Stats.PendingGauge.Set(float64(d.Pending.Len()))
	}
}

// persistBundle writes bundleID's current record to the store. The
// returned error is non-nil on a marshal or store failure; callers on
// the add-time path (admit) must treat that as fatal per §7
// (StoreError is fatal at add-time), while callers reacting to a later
// StoreUpdate action only log it here and retry on the next state
// change (§7 "subsequent update failures are logged at critical and
// retried").
func (d *Daemon) persistBundle(bundleID uint32) error {
	b, ok := d.Pending.Find(bundleID)
	if !ok {
		return nil
	}
	rec := store.ToRecord(b)
	data, err := store.MarshalBundleRecord(rec)
	if err != nil {
		nlog.Errorf("daemon: marshal bundle %d: %v", bundleID, err)
		return err
	}
	if err := d.BundlesTable.Put(bundleKey(bundleID), data, store.CreateOrReplace); err != nil {
		nlog.Errorf("daemon: persist bundle %d: %v", bundleID, err)
		return err
	}
	return nil
}

func toBundleForwardAction(a event.ForwardAction) bundle.ForwardAction {
	switch a {
	case event.ForwardCopy:
		return bundle.ForwardCopy
	case event.ForwardFirst:
		return bundle.ForwardFirst
	case event.ForwardReassemble:
		return bundle.ForwardReassemble
	default:
		return bundle.ForwardUnique
	}
}
