package contact

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/dtnd/dtnd/cmn/atomic"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/cmn/mono"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/event"
)

// OpLinkAllocator persists the monotonic opportunistic-link counter
// (§4.6 ADDED); store.Globals satisfies this without the contact
// package needing to import the store package's buntdb dependency.
type OpLinkAllocator interface {
	NextOpLinkSeq() (uint64, error)
}

// Manager owns every Link and drives the §4.6 transition table. It
// never touches bundle bytes; it only creates/destroys Contacts and
// tells the daemon (via posted events) when a Link's world changes.
type Manager struct {
	mu    sync.Mutex
	links map[string]*Link

	poster   event.Poster
	resolver Resolver
	oplinks  OpLinkAllocator

	contactGen atomic.Int64

	// onClose runs synchronously from HandleClosed, while the Contact
	// being torn down is still reachable via link.Contact(), so the
	// caller can drain in-flight sends before it is destroyed (§4.6
	// transition table: "drain in-flight -> BundleTransmitFailed;
	// destroy Contact; post ContactDown(reason)"). The Contact Manager
	// has no bundle-level knowledge itself, so this is supplied by
	// whoever does: the Daemon.
	onClose func(linkName string, reason event.Reason)
}

func NewManager(poster event.Poster, resolver Resolver, oplinks OpLinkAllocator) *Manager {
	return &Manager{
		links:    make(map[string]*Link),
		poster:   poster,
		resolver: resolver,
		oplinks:  oplinks,
	}
}

// SetOnClose installs the pre-teardown hook described above. Called
// once at wiring time, before Run starts.
func (m *Manager) SetOnClose(fn func(linkName string, reason event.Reason)) {
	m.onClose = fn
}

func (m *Manager) Get(name string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[name]
	return l, ok
}

// Links returns a stable snapshot, used by the router to enumerate
// candidates for flood-style forwarding.
func (m *Manager) Links() []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) driverFor(l *Link) (CLDriver, error) {
	drv, ok := m.resolver.Resolve(l.CLName)
	if !ok {
		return nil, fmt.Errorf("contact: no convergence layer registered under %q", l.CLName)
	}
	return drv, nil
}

// CreateLink configures a permanent Link (§4.6): one-time init_link,
// then Unavailable, ready for set_available/open_request.
func (m *Manager) CreateLink(name, nextHop, remoteEID, clName string, params map[string]string, alwaysOn bool, mtu int64) (*Link, error) {
	m.mu.Lock()
	if _, exists := m.links[name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("contact: link %q already exists", name)
	}
	l := newLink(name, Permanent)
	l.NextHop = nextHop
	l.RemoteEID = remoteEID
	l.CLName = clName
	l.Params = params
	l.AlwaysOn = alwaysOn
	l.MTU = mtu
	m.links[name] = l
	m.mu.Unlock()

	drv, err := m.driverFor(l)
	if err != nil {
		m.mu.Lock()
		delete(m.links, name)
		m.mu.Unlock()
		return nil, err
	}
	if err := drv.InitLink(l, params); err != nil {
		m.mu.Lock()
		delete(m.links, name)
		m.mu.Unlock()
		return nil, errors.Wrapf(err, "contact: init_link %q", name)
	}
	m.poster.Post(event.Event{Kind: event.LinkCreated, Link: name})
	if alwaysOn {
		m.SetAvailable(name)
	}
	return l, nil
}

// SetAvailable transitions Unavailable -> Available (§4.6). If the link
// is AlwaysOn, it immediately drives an open_request.
func (m *Manager) SetAvailable(name string) error {
	l, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("contact: unknown link %q", name)
	}
	if l.State() != Unavailable {
		return nil
	}
	l.setState(Available)
	m.poster.Post(event.Event{Kind: event.LinkAvailable, Link: name})
	if l.AlwaysOn {
		return m.OpenRequest(name)
	}
	return nil
}

// OpenRequest transitions Available -> Opening and invokes open_contact
// (§4.6). Duplicate requests on an already-opening/open link are a
// idempotent no-op per "Idempotence".
func (m *Manager) OpenRequest(name string) error {
	l, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("contact: unknown link %q", name)
	}
	switch l.State() {
	case Opening, Open, Busy:
		nlog.Warningf("contact: duplicate open_request on link %q in state %s", name, l.State())
		return nil
	case Available:
		// proceed
	default:
		return fmt.Errorf("contact: link %q not Available (state=%s)", name, l.State())
	}
	drv, err := m.driverFor(l)
	if err != nil {
		return err
	}
	l.setState(Opening)
	c := &Contact{
		Handle:    uint64(m.contactGen.Inc()),
		Link:      l,
		StartMono: mono.NanoTime(),
	}
	l.setPending(c)
	if err := drv.OpenContact(c); err != nil {
		l.setPending(nil)
		l.setState(Unavailable)
		return err
	}
	return nil
}

// HandleContactUp completes Opening -> Open when the CL reports success
// (§4.6), creating the live Contact and notifying the router. handle
// must match the Contact object OpenRequest handed to the CL.
func (m *Manager) HandleContactUp(name string, handle uint64) {
	l, ok := m.Get(name)
	if !ok {
		return
	}
	if l.State() != Opening {
		nlog.Warningf("contact: ContactUp for link %q not in Opening (state=%s)", name, l.State())
		return
	}
	c, ok := l.takePending(handle)
	if !ok {
		nlog.Warningf("contact: ContactUp for link %q with unknown contact handle %d", name, handle)
		return
	}
	l.setContact(c)
	l.setState(Open)
	m.poster.Post(event.Event{Kind: event.ContactUp, Link: name, Contact: c.Handle})
}

// HandleClosed applies a CL-reported or operator-requested close
// (§4.6): Opening -> Unavailable if the contact never came up, or
// Open/Busy -> Closed draining in-flight bundles to BundleTransmitFailed
// (the drain itself is the daemon's job; this just flips state and
// notifies).
func (m *Manager) HandleClosed(name string, reason event.Reason) {
	l, ok := m.Get(name)
	if !ok {
		return
	}
	switch l.State() {
	case Opening:
		l.setState(Unavailable)
		m.poster.Post(event.Event{Kind: event.LinkUnavailable, Link: name, Reason: reason})
	case Open, Busy:
		c := l.Contact()
		if m.onClose != nil {
			m.onClose(name, reason)
		}
		l.setState(Closed)
		l.setContact(nil)
		handle := uint64(0)
		if c != nil {
			handle = c.Handle
		}
		m.poster.Post(event.Event{Kind: event.ContactDown, Link: name, Contact: handle, Reason: reason})
	default:
		nlog.Warningf("contact: duplicate close on link %q in state %s", name, l.State())
	}
}

// CloseRequest is the operator/idle-timeout path into HandleClosed.
func (m *Manager) CloseRequest(name string, reason event.Reason) {
	m.HandleClosed(name, reason)
}

// HandleBusy and HandleUnblocked implement the Open<->Busy leg of the
// transition table.
func (m *Manager) HandleBusy(name string, reason event.Reason) {
	l, ok := m.Get(name)
	if !ok || l.State() != Open {
		return
	}
	l.setState(Busy)
	m.poster.Post(event.Event{Kind: event.LinkBusy, Link: name, Reason: reason})
}

func (m *Manager) HandleUnblocked(name string) {
	l, ok := m.Get(name)
	if !ok || l.State() != Busy {
		return
	}
	l.setState(Open)
	m.poster.Post(event.Event{Kind: event.LinkUnblocked, Link: name, Reason: event.Unblocked})
}

// DeleteLink tears a Link down from any state (§4.6 "any, delete_request").
func (m *Manager) DeleteLink(name string) error {
	l, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("contact: unknown link %q", name)
	}
	if drv, err := m.driverFor(l); err == nil {
		_ = drv.DeleteLink(l)
	}
	l.setState(Deleted)
	m.mu.Lock()
	delete(m.links, name)
	m.mu.Unlock()
	m.poster.Post(event.Event{Kind: event.LinkDeleted, Link: name})
	return nil
}

// DiscoverOpportunistic synthesises a new Link when a CL reports a
// contact from an unrecognized peer (§4.6 "Opportunistic-link
// creation"), driving it straight through
// Unavailable -> Available -> Opening -> Open. The name is
// "opp-<seq>-<shortid>": the persisted seq guarantees no collision
// across restarts, the shortid suffix keeps concurrently-created names
// human-distinguishable in logs.
func (m *Manager) DiscoverOpportunistic(remoteEID, nextHop, clName string, params map[string]string) (*Link, error) {
	seq, err := m.oplinks.NextOpLinkSeq()
	if err != nil {
		return nil, fmt.Errorf("contact: persisting opportunistic link sequence: %w", err)
	}
	sid, err := shortid.Generate()
	if err != nil {
		sid = fmt.Sprintf("%d", seq)
	}
	name := fmt.Sprintf("opp-%d-%s", seq, sid)

	m.mu.Lock()
	l := newLink(name, Opportunistic)
	l.NextHop = nextHop
	l.RemoteEID = remoteEID
	l.CLName = clName
	l.Params = params
	// An opportunistic link drives itself straight through to Open
	// (§4.6 "Opportunistic-link creation"); AlwaysOn is what makes
	// SetAvailable below carry it into Opening instead of leaving it
	// sitting in Available.
	l.AlwaysOn = true
	m.links[name] = l
	m.mu.Unlock()

	drv, err := m.driverFor(l)
	if err != nil {
		m.mu.Lock()
		delete(m.links, name)
		m.mu.Unlock()
		return nil, err
	}
	if err := drv.InitLink(l, params); err != nil {
		m.mu.Lock()
		delete(m.links, name)
		m.mu.Unlock()
		return nil, err
	}
	m.poster.Post(event.Event{Kind: event.LinkCreated, Link: name})

	if err := m.SetAvailable(name); err != nil {
		return nil, err
	}
	return l, nil
}

// ResolveForEID returns the links whose RemoteEID pattern matches dest,
// used by router.Basic for flood-style forwarding (§4.7 ADDED).
func (m *Manager) ResolveForEID(dest eid.ID) []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Link
	for _, l := range m.links {
		if l.RemoteEID == "" {
			continue
		}
		pat, err := eid.Parse(l.RemoteEID)
		if err != nil {
			continue
		}
		if pat.Matches(dest) {
			out = append(out, l)
		}
	}
	return out
}
