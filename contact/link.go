// Package contact implements the Link state machine and opportunistic
// Contact lifecycle (§4.6): the Contact Manager owns every Link, drives
// its transitions, and synthesises opportunistic links the way the
// teacher's target registers a mountpath it discovers at runtime rather
// than only ones named in config.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package contact

import (
	"sync"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/atomic"
)

// State is a Link's position in the §4.6 transition table.
type State int

const (
	Unavailable State = iota
	Available
	Opening
	Open
	Busy
	Closed
	Deleted
)

func (s State) String() string {
	switch s {
	case Unavailable:
		return "Unavailable"
	case Available:
		return "Available"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Busy:
		return "Busy"
	case Closed:
		return "Closed"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Kind distinguishes a link configured up front from one the Contact
// Manager synthesised when a CL reported an unrecognized peer.
type Kind int

const (
	Permanent Kind = iota
	Opportunistic
)

// Stats are the link-scoped counters §6 exposes via the stats package.
type Stats struct {
	BundlesSent   atomic.Int64
	BytesSent     atomic.Int64
	BundlesFailed atomic.Int64
}

// Link is a named, stateful path to a peer, driven by CL callbacks and
// operator commands (§4.6). CLState is the opaque handle the core never
// inspects, set and read only by the CL instance assigned to this link.
type Link struct {
	mu sync.Mutex

	Name      string
	Kind      Kind
	CLName    string
	NextHop   string
	RemoteEID string // pattern; matched against a bundle's destination
	Params    map[string]string
	AlwaysOn  bool
	MTU       int64 // 0 means unbounded

	state   State
	current *Contact
	pending *Contact // set while Opening, moved to current on ContactUp

	Stats Stats

	// Outbound is this link's per-link pending-send queue, shared
	// between the daemon (which pushes Enqueue actions onto it) and
	// whatever goroutine a CL uses to drain it (§5 "BundleList is
	// shared across CL tasks and the daemon").
	Outbound *bundle.BundleList

	CLState any
}

func newLink(name string, kind Kind) *Link {
	return &Link{
		Name:     name,
		Kind:     kind,
		state:    Unavailable,
		Outbound: bundle.NewBundleList(name + "/outbound"),
	}
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Contact returns the link's current Contact, if any (Open/Busy only).
func (l *Link) Contact() *Contact {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Link) setContact(c *Contact) {
	l.mu.Lock()
	l.current = c
	l.mu.Unlock()
}

func (l *Link) setPending(c *Contact) {
	l.mu.Lock()
	l.pending = c
	l.mu.Unlock()
}

// takePending returns and clears the pending Contact if its handle
// matches, used when a ContactUp event confirms an in-flight
// open_contact call.
func (l *Link) takePending(handle uint64) (*Contact, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil && l.pending.Handle == handle {
		c := l.pending
		l.pending = nil
		return c, true
	}
	return nil, false
}

// Contact records one opportunity to reach a peer over a Link: a start
// time, an optional planned duration, CL-reported capacity hints, and
// the opaque CL-private state that hangs off it (§4.5 "CL-private state
// hangs off each Link/Contact via an opaque handle").
type Contact struct {
	Handle    uint64 // per-Manager monotonic counter, matches event.Event.Contact
	Link      *Link
	StartMono int64
	DurationS int64 // 0 means open-ended
	Bandwidth int64 // bytes/sec, 0 if unknown
	LatencyMS int64

	CLState any
}
