// Package hk provides a monotonic priority queue driving bundle
// expiration, retransmission, and link idle timers (§4.1). A single
// driver goroutine sleeps until the earliest deadline or until woken by
// a newly scheduled timer that beats the current earliest one.
// Cancellation is lazy: a cancelled entry stays in the heap with a
// cancelled bit and is discarded, not fired, when it reaches the top.
//
// Timer callbacks must never mutate daemon state directly — by
// convention every callback registered here does nothing but call
// event.Poster.Post/PostLocal, keeping all mutation on the daemon task.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/dtnd/dtnd/cmn/atomic"
	"github.com/dtnd/dtnd/cmn/mono"
	"github.com/dtnd/dtnd/cmn/nlog"
)

type entry struct {
	deadline  int64
	cb        func()
	cancelled atomic.Bool
	index     int // heap.Interface bookkeeping
}

// TimerID is an opaque handle returned by Schedule*; the zero value
// names no timer. Per §3, a Bundle's expiration_timer field is this
// type, non-zero iff the bundle is live in memory with a future
// expiration.
type TimerID struct{ e *entry }

func (id TimerID) IsZero() bool { return id.e == nil }

type pq []*entry

func (q pq) Len() int            { return len(q) }
func (q pq) Less(i, j int) bool  { return q[i].deadline < q[j].deadline }
func (q pq) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index, q[j].index = i, j }
func (q *pq) Push(x any)         { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Housekeeper is the timer subsystem's single driver.
type Housekeeper struct {
	mu     sync.Mutex
	q      pq
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	active atomic.Bool
}

func New() *Housekeeper {
	h := &Housekeeper{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	heap.Init(&h.q)
	return h
}

// Run is the driver loop; call it in its own goroutine. It returns when
// Stop is called.
func (h *Housekeeper) Run() {
	h.active.Store(true)
	defer close(h.done)
	for {
		d, ok := h.sleepUntilDue()
		if !ok {
			return
		}
		if d != nil {
			d.cb()
		}
	}
}

// sleepUntilDue blocks until the earliest live timer is due (firing any
// timers whose deadline has already elapsed, logging lateness), or until
// Stop is called. ok is false only on Stop.
func (h *Housekeeper) sleepUntilDue() (fired *entry, ok bool) {
	for {
		h.mu.Lock()
		for h.q.Len() > 0 && h.q[0].cancelled.Load() {
			heap.Pop(&h.q)
		}
		if h.q.Len() == 0 {
			h.mu.Unlock()
			select {
			case <-h.stop:
				return nil, false
			case <-h.wake:
				continue
			}
		}
		next := h.q[0]
		now := mono.NanoTime()
		if next.deadline <= now {
			heap.Pop(&h.q)
			h.mu.Unlock()
			if late := now - next.deadline; late > int64(50*time.Millisecond) {
				nlog.Warningf("hk: timer fired %s late", time.Duration(late))
			}
			return next, true
		}
		h.mu.Unlock()
		timer := time.NewTimer(time.Duration(next.deadline - now))
		select {
		case <-h.stop:
			timer.Stop()
			return nil, false
		case <-h.wake:
			timer.Stop()
			continue
		case <-timer.C:
			continue
		}
	}
}

// ScheduleAt schedules cb to run at the given mono.NanoTime() deadline.
func (h *Housekeeper) ScheduleAt(deadline int64, cb func()) TimerID {
	e := &entry{deadline: deadline, cb: cb}
	h.mu.Lock()
	wasEarliest := h.q.Len() == 0 || deadline < h.q[0].deadline
	heap.Push(&h.q, e)
	h.mu.Unlock()
	if wasEarliest {
		h.signal()
	}
	return TimerID{e: e}
}

// ScheduleIn schedules cb to run after d elapses.
func (h *Housekeeper) ScheduleIn(d time.Duration, cb func()) TimerID {
	return h.ScheduleAt(mono.NanoTime()+int64(d), cb)
}

// ScheduleImmediate schedules cb to run as soon as the driver next wakes.
func (h *Housekeeper) ScheduleImmediate(cb func()) TimerID {
	return h.ScheduleAt(mono.NanoTime(), cb)
}

// Cancel marks id as cancelled. It is idempotent and safe to call after
// the timer has already fired (a no-op in that case).
func (h *Housekeeper) Cancel(id TimerID) {
	if id.e == nil {
		return
	}
	id.e.cancelled.Store(true)
}

func (h *Housekeeper) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Stop halts the driver loop; Run's goroutine exits once any in-flight
// callback returns.
func (h *Housekeeper) Stop() {
	select {
	case <-h.stop:
		return
	default:
		close(h.stop)
	}
	<-h.done
}
