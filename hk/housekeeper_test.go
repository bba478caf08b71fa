/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"sync"
	"time"

	"github.com/dtnd/dtnd/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	var h *hk.Housekeeper

	BeforeEach(func() {
		h = hk.New()
		go h.Run()
	})

	AfterEach(func() {
		h.Stop()
	})

	It("fires timers in deadline order", func() {
		var (
			mu   sync.Mutex
			fire []int
			wg   sync.WaitGroup
		)
		wg.Add(3)
		h.ScheduleIn(30*time.Millisecond, func() {
			mu.Lock()
			fire = append(fire, 3)
			mu.Unlock()
			wg.Done()
		})
		h.ScheduleIn(10*time.Millisecond, func() {
			mu.Lock()
			fire = append(fire, 1)
			mu.Unlock()
			wg.Done()
		})
		h.ScheduleIn(20*time.Millisecond, func() {
			mu.Lock()
			fire = append(fire, 2)
			mu.Unlock()
			wg.Done()
		})
		wg.Wait()
		Expect(fire).To(Equal([]int{1, 2, 3}))
	})

	It("never fires a cancelled timer", func() {
		fired := false
		id := h.ScheduleIn(10*time.Millisecond, func() { fired = true })
		h.Cancel(id)
		time.Sleep(40 * time.Millisecond)
		Expect(fired).To(BeFalse())
	})

	It("tolerates a double cancel", func() {
		id := h.ScheduleIn(10*time.Millisecond, func() {})
		h.Cancel(id)
		Expect(func() { h.Cancel(id) }).NotTo(Panic())
	})

	It("fires immediate timers promptly", func() {
		done := make(chan struct{})
		h.ScheduleImmediate(func() { close(done) })
		Eventually(done, time.Second).Should(BeClosed())
	})
})
