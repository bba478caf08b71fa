// Package loopback is an in-process convergence layer used by tests and
// by cmd/dtnd's default configuration: "sending" a bundle simply
// schedules a completion event after a configurable throughput delay,
// the way the teacher's memsys exercises a real allocator path without
// a real disk behind it.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package loopback

import (
	"sync"
	"time"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/atomic"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/hk"
)

type inflightKey struct {
	contact  uint64
	bundleID uint32
}

type inflightEntry struct {
	timer hk.TimerID
	fired atomic.Bool
}

// CL implements cla.CL entirely in-process. BytesPerSec of 0 means
// unlimited throughput: SendBundle completes on the housekeeper's next
// tick rather than truly synchronously, preserving the "asynchronous"
// contract every caller relies on.
type CL struct {
	poster      event.Poster
	mgr         *contact.Manager
	hk          *hk.Housekeeper
	bytesPerSec int64

	mu       sync.Mutex
	inflight map[inflightKey]*inflightEntry
}

func New(poster event.Poster, mgr *contact.Manager, housekeeper *hk.Housekeeper, bytesPerSec int64) *CL {
	return &CL{
		poster:      poster,
		mgr:         mgr,
		hk:          housekeeper,
		bytesPerSec: bytesPerSec,
		inflight:    make(map[inflightKey]*inflightEntry),
	}
}

func (c *CL) InitInterface(string, map[string]string) error { return nil }
func (c *CL) DestroyInterface(string) error                 { return nil }
func (c *CL) InitLink(*contact.Link, map[string]string) error { return nil }
func (c *CL) DeleteLink(*contact.Link) error                 { return nil }

// OpenContact completes synchronously: loopback has no real peer to
// wait on, so the Opening state is only ever momentary.
func (c *CL) OpenContact(ct *contact.Contact) error {
	c.mgr.HandleContactUp(ct.Link.Name, ct.Handle)
	return nil
}

func (c *CL) CloseContact(ct *contact.Contact) error {
	c.mgr.HandleClosed(ct.Link.Name, event.User)
	return nil
}

func (c *CL) transmitDelay(length int) time.Duration {
	if c.bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(length) * time.Second / time.Duration(c.bytesPerSec)
}

// SendBundle schedules delivery after the configured throughput delay
// and posts BundleTransmitted when it completes, unless cancelled first.
func (c *CL) SendBundle(ct *contact.Contact, b *bundle.Bundle) {
	key := inflightKey{contact: ct.Handle, bundleID: b.ID()}
	entry := &inflightEntry{}

	c.mu.Lock()
	c.inflight[key] = entry
	c.mu.Unlock()

	length := b.Payload.Length
	deliver := func() {
		if !entry.fired.CAS(false, true) {
			return
		}
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		c.poster.Post(event.Event{
			Kind:         event.BundleTransmitted,
			BundleID:     b.ID(),
			Link:         ct.Link.Name,
			Contact:      ct.Handle,
			BytesSent:    int64(length),
			ReliablySent: true,
		})
	}
	entry.timer = c.hk.ScheduleIn(c.transmitDelay(length), deliver)
}

// CancelBundle returns true iff it beat the natural completion, in
// which case it alone is responsible for posting BundleTransmitFailed.
func (c *CL) CancelBundle(ct *contact.Contact, b *bundle.Bundle) bool {
	key := inflightKey{contact: ct.Handle, bundleID: b.ID()}
	c.mu.Lock()
	entry, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !entry.fired.CAS(false, true) {
		return false // already fired naturally; BundleTransmitted is the outcome
	}
	c.hk.Cancel(entry.timer)
	c.poster.Post(event.Event{
		Kind:     event.BundleTransmitFailed,
		BundleID: b.ID(),
		Link:     ct.Link.Name,
		Contact:  ct.Handle,
		Reason:   event.Cancelled,
	})
	return true
}

func (c *CL) IsQueued(link *contact.Link, b *bundle.Bundle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.inflight {
		if k.bundleID == b.ID() {
			cur := link.Contact()
			if cur != nil && cur.Handle == k.contact {
				return true
			}
		}
	}
	return false
}
