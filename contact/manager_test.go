package contact_test

import (
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/event"
)

// fakePoster records every posted event instead of feeding a real
// daemon queue, so a spec can assert on exactly what the Manager
// announced.
type fakePoster struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *fakePoster) Post(ev event.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}
func (p *fakePoster) PostLocal(ev event.Event) { p.Post(ev) }

func (p *fakePoster) kinds() []event.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Kind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

// fakeDriver is a no-op CLDriver that never completes OpenContact on its
// own: every spec that needs Open drives HandleContactUp explicitly,
// giving deterministic control over the Opening->Open transition
// without a real convergence layer.
type fakeDriver struct {
	mu          sync.Mutex
	initLinks   int
	openCalls   int
	closeCalls  int
	deleteCalls int
	failInit    bool
	failOpen    bool
}

func (d *fakeDriver) InitLink(*contact.Link, map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initLinks++
	if d.failInit {
		return errTest
	}
	return nil
}
func (d *fakeDriver) DeleteLink(*contact.Link) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteCalls++
	return nil
}
func (d *fakeDriver) OpenContact(*contact.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCalls++
	if d.failOpen {
		return errTest
	}
	return nil
}
func (d *fakeDriver) CloseContact(*contact.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}
func (d *fakeDriver) SendBundle(*contact.Contact, *bundle.Bundle)       {}
func (d *fakeDriver) CancelBundle(*contact.Contact, *bundle.Bundle) bool { return false }
func (d *fakeDriver) IsQueued(*contact.Link, *bundle.Bundle) bool        { return false }

var errTest = fakeErr("contact: induced test failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// fakeResolver hands back a single fakeDriver under whatever name a
// Link was configured with.
type fakeResolver struct{ drv *fakeDriver }

func (r *fakeResolver) Resolve(string) (contact.CLDriver, bool) { return r.drv, true }

// fakeOpLinks is a sequence allocator that never touches disk,
// standing in for store.Globals in these specs.
type fakeOpLinks struct {
	mu   sync.Mutex
	next uint64
}

func (o *fakeOpLinks) NextOpLinkSeq() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	return o.next, nil
}

var _ = Describe("Manager", func() {
	var (
		poster *fakePoster
		drv    *fakeDriver
		mgr    *contact.Manager
	)

	BeforeEach(func() {
		poster = &fakePoster{}
		drv = &fakeDriver{}
		mgr = contact.NewManager(poster, &fakeResolver{drv: drv}, &fakeOpLinks{})
	})

	It("creates a permanent link in Unavailable", func() {
		l, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.State()).To(Equal(contact.Unavailable))
		Expect(poster.kinds()).To(ContainElement(event.LinkCreated))
	})

	It("rejects creating a link under a name already in use", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).To(HaveOccurred())
	})

	It("drives Unavailable -> Available -> Opening -> Open through the normal sequence", func() {
		l, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(mgr.SetAvailable("L")).To(Succeed())
		Expect(l.State()).To(Equal(contact.Available))

		Expect(mgr.OpenRequest("L")).To(Succeed())
		Expect(l.State()).To(Equal(contact.Opening))
		Expect(drv.openCalls).To(Equal(1))

		mgr.HandleContactUp("L", 1)
		Expect(l.State()).To(Equal(contact.Open))
		Expect(poster.kinds()).To(ContainElement(event.ContactUp))
	})

	It("auto-opens an AlwaysOn link as soon as it becomes Available", func() {
		l, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.State()).To(Equal(contact.Opening))
		Expect(drv.openCalls).To(Equal(1))
	})

	It("treats a duplicate open_request on an Opening link as an idempotent no-op", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(drv.openCalls).To(Equal(1))

		Expect(mgr.OpenRequest("L")).To(Succeed())
		Expect(drv.openCalls).To(Equal(1), "a duplicate open_request must not re-invoke OpenContact")
	})

	It("drains in-flight and reports ContactDown when an Open link closes", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, true, 0)
		Expect(err).NotTo(HaveOccurred())
		mgr.HandleContactUp("L", 1)

		var drained string
		var reason event.Reason
		mgr.SetOnClose(func(name string, r event.Reason) {
			drained = name
			reason = r
		})

		mgr.CloseRequest("L", event.User)
		l, _ := mgr.Get("L")
		Expect(l.State()).To(Equal(contact.Closed))
		Expect(drained).To(Equal("L"))
		Expect(reason).To(Equal(event.User))
		Expect(poster.kinds()).To(ContainElement(event.ContactDown))
	})

	It("reverts Opening -> Unavailable if the contact never comes up", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, true, 0)
		Expect(err).NotTo(HaveOccurred())
		mgr.HandleClosed("L", event.Broken)
		l, _ := mgr.Get("L")
		Expect(l.State()).To(Equal(contact.Unavailable))
	})

	It("logs but does not panic on a duplicate close", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(func() { mgr.CloseRequest("L", event.User) }).NotTo(Panic())
	})

	It("toggles Open <-> Busy", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, true, 0)
		Expect(err).NotTo(HaveOccurred())
		mgr.HandleContactUp("L", 1)

		mgr.HandleBusy("L", event.NoInfo)
		l, _ := mgr.Get("L")
		Expect(l.State()).To(Equal(contact.Busy))

		mgr.HandleUnblocked("L")
		Expect(l.State()).To(Equal(contact.Open))
	})

	It("tears a link down from any state on delete_request", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.DeleteLink("L")).To(Succeed())
		_, ok := mgr.Get("L")
		Expect(ok).To(BeFalse())
		Expect(drv.deleteCalls).To(Equal(1))
	})

	It("synthesises an opportunistic link with a persisted, collision-free sequence", func() {
		l1, err := mgr.DiscoverOpportunistic("dtn://peer/app", "peer", "fake", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(l1.Kind).To(Equal(contact.Opportunistic))
		Expect(l1.State()).To(Equal(contact.Opening))

		l2, err := mgr.DiscoverOpportunistic("dtn://peer2/app", "peer2", "fake", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(l2.Name).NotTo(Equal(l1.Name))
	})

	It("resolves links whose RemoteEID pattern matches a destination", func() {
		_, err := mgr.CreateLink("L", "peer", "dtn://b/*", "fake", nil, false, 0)
		Expect(err).NotTo(HaveOccurred())
		dest := eid.MustParse("dtn://b/app")
		Expect(mgr.ResolveForEID(dest)).To(HaveLen(1))
	})
})
