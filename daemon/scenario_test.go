package daemon_test

import (
	"testing"
	"time"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cla"
	"github.com/dtnd/dtnd/cla/loopback"
	"github.com/dtnd/dtnd/cmn"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/daemon"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/hk"
	"github.com/dtnd/dtnd/router"
	"github.com/dtnd/dtnd/store"
)

// harness wires a complete Daemon — buntdb-backed store, file-backed
// payloads, the loopback CL, and router.Basic — the way cmd/dtnd does,
// so the §8 end-to-end scenarios exercise the real event loop rather
// than any component in isolation.
type harness struct {
	t   *testing.T
	dm  *daemon.Daemon
	hk  *hk.Housekeeper
	cm  *contact.Manager
	cls *cla.Manager

	dbdir, paydir string
}

func newHarness(t *testing.T, bytesPerSec int64) *harness {
	t.Helper()
	dbdir := t.TempDir()
	paydir := t.TempDir()
	return buildHarness(t, dbdir, paydir, bytesPerSec)
}

func buildHarness(t *testing.T, dbdir, paydir string, bytesPerSec int64) *harness {
	t.Helper()

	bundles, err := store.OpenBuntTable(dbdir, "bundles")
	if err != nil {
		t.Fatalf("open bundles table: %v", err)
	}
	t.Cleanup(func() { bundles.Close() })
	regs, err := store.OpenBuntTable(dbdir, "registrations")
	if err != nil {
		t.Fatalf("open registrations table: %v", err)
	}
	t.Cleanup(func() { regs.Close() })
	globalsTbl, err := store.OpenBuntTable(dbdir, "globals")
	if err != nil {
		t.Fatalf("open globals table: %v", err)
	}
	t.Cleanup(func() { globalsTbl.Close() })

	globals, err := store.OpenGlobals(globalsTbl)
	if err != nil {
		t.Fatalf("OpenGlobals: %v", err)
	}

	payload, err := store.NewFilePayload(paydir)
	if err != nil {
		t.Fatalf("NewFilePayload: %v", err)
	}

	h := hk.New()
	go h.Run()
	t.Cleanup(h.Stop)

	clmgr := cla.NewManager()

	cfg := cmn.DefaultConfig(dbdir, paydir)

	dm := daemon.New(daemon.Deps{
		Config:             cfg,
		BundlesTable:       bundles,
		RegistrationsTable: regs,
		Globals:            globals,
		Payload:            payload,
		HK:                 h,
		CLs:                clmgr,
	})

	cm := contact.NewManager(dm, clmgr, globals)
	dm.WireContact(cm)

	loop := loopback.New(dm, cm, h, bytesPerSec)
	clmgr.Register("loopback", loop)

	dm.SetRouter(router.NewBasic(dm, cm, dm))

	go dm.Run()
	t.Cleanup(dm.Stop)

	return &harness{t: t, dm: dm, hk: h, cm: cm, cls: clmgr, dbdir: dbdir, paydir: paydir}
}

func (h *harness) createLink(name, remoteEID string, alwaysOn bool, mtu int64) *contact.Link {
	h.t.Helper()
	l, err := h.cm.CreateLink(name, "loop://"+name, remoteEID, "loopback", nil, alwaysOn, mtu)
	if err != nil {
		h.t.Fatalf("CreateLink(%s): %v", name, err)
	}
	return l
}

func (h *harness) inject(inj *event.Injection) uint32 {
	h.t.Helper()
	id, err := h.dm.InjectBundle(inj)
	if err != nil {
		h.t.Fatalf("InjectBundle: %v", err)
	}
	return id
}

// waitFor polls pred until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, pred func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Scenario 3 (§8): single-link send success.
func TestScenarioSingleLinkSendSuccess(t *testing.T) {
	h := newHarness(t, 0) // unlimited throughput: completes on the next hk tick
	h.createLink("L", "dtn://b/*", true, 0)

	id := h.inject(&event.Injection{
		Source: "dtn://a/app", Dest: "dtn://b/app", LifetimeSec: 3600,
		Payload: []byte("12345678"),
	})

	ok := waitFor(t, 2*time.Second, func() bool {
		b, found := h.dm.Find(id)
		if !found {
			return false
		}
		e, ok := b.Log.GetLatestEntry("L")
		return ok && e.State == bundle.StateTransmitted
	})
	if !ok {
		t.Fatal("bundle never reached StateTransmitted on link L")
	}
}

// Scenario 4 (§8): link close mid-transmission.
func TestScenarioLinkCloseMidTransmission(t *testing.T) {
	// A throughput slow enough that an 8-byte payload cannot possibly
	// complete before the link is closed out from under it.
	h := newHarness(t, 1)
	h.createLink("L", "dtn://b/*", true, 0)

	id := h.inject(&event.Injection{
		Source: "dtn://a/app", Dest: "dtn://b/app", LifetimeSec: 3600,
		Payload: []byte("12345678"),
	})

	if !waitFor(t, time.Second, func() bool {
		b, found := h.dm.Find(id)
		return found && b.Log.IsInFlight("L")
	}) {
		t.Fatal("bundle never reached InFlight on link L")
	}

	h.dm.Post(event.Event{Kind: event.LinkCloseRequest, Link: "L", Reason: event.User})

	ok := waitFor(t, time.Second, func() bool {
		b, found := h.dm.Find(id)
		if !found {
			return false
		}
		e, ok := b.Log.GetLatestEntry("L")
		return ok && e.State == bundle.StateCancelled
	})
	if !ok {
		t.Fatal("forwarding log never reached StateCancelled after link close")
	}
	if _, found := h.dm.Find(id); !found {
		t.Fatal("bundle should remain on pending_bundles after a failed send")
	}
}

// Scenario 5 (§8): expiration with no link.
func TestScenarioExpiration(t *testing.T) {
	h := newHarness(t, 0)

	id := h.inject(&event.Injection{
		Source: "dtn://a/app", Dest: "dtn://nowhere/app", LifetimeSec: 1,
	})

	if _, found := h.dm.Find(id); !found {
		t.Fatal("bundle should be pending immediately after injection")
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		_, found := h.dm.Find(id)
		return !found
	})
	if !ok {
		t.Fatal("expired bundle was never removed from pending_bundles")
	}
}

// Scenario 6 (§8): crash recovery.
func TestScenarioCrashRecovery(t *testing.T) {
	dbdir := t.TempDir()
	paydir := t.TempDir()

	h1 := buildHarness(t, dbdir, paydir, 0)
	ids := make([]uint32, 3)
	identities := make([]bundle.Identity, 3)
	for i := range ids {
		id := h1.inject(&event.Injection{
			Source: "dtn://a/app", Dest: "dtn://nowhere/app", LifetimeSec: 3600,
			Payload: []byte{byte(i)},
		})
		ids[i] = id
		b, ok := h1.dm.Find(id)
		if !ok {
			t.Fatalf("bundle %d not pending right after injection", id)
		}
		identities[i] = b.Identity()
	}

	// Simulate an ungraceful stop: no clean shutdown sequence, just halt
	// the daemon and timer driver.
	h1.dm.Stop()
	h1.hk.Stop()

	h2 := buildHarness(t, dbdir, paydir, 0)
	if err := h2.dm.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	for i, id := range ids {
		b, ok := h2.dm.Find(id)
		if !ok {
			t.Fatalf("bundle %d not restored to pending_bundles after recovery", id)
		}
		if b.Identity() != identities[i] {
			t.Fatalf("bundle %d identity changed across recovery: got %+v want %+v",
				id, b.Identity(), identities[i])
		}
		if b.ExpirationTimer.IsZero() {
			t.Fatalf("bundle %d has no expiration timer after recovery", id)
		}
	}
}
