// Package atomic provides typed wrappers over sync/atomic, used
// throughout for refcounts, generation counters, and sequence numbers
// that must be read and written without a surrounding mutex.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type Int64 struct{ v int64 }

func (x *Int64) Load() int64         { return atomic.LoadInt64(&x.v) }
func (x *Int64) Store(val int64)     { atomic.StoreInt64(&x.v, val) }
func (x *Int64) Add(delta int64) int64 { return atomic.AddInt64(&x.v, delta) }
func (x *Int64) Inc() int64          { return x.Add(1) }
func (x *Int64) Dec() int64          { return x.Add(-1) }
func (x *Int64) CAS(old, new int64) bool {
	return atomic.CompareAndSwapInt64(&x.v, old, new)
}

type Uint32 struct{ v uint32 }

func (x *Uint32) Load() uint32     { return atomic.LoadUint32(&x.v) }
func (x *Uint32) Store(val uint32) { atomic.StoreUint32(&x.v, val) }
func (x *Uint32) Inc() uint32      { return atomic.AddUint32(&x.v, 1) }
func (x *Uint32) CAS(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&x.v, old, new)
}

type Bool struct{ v uint32 }

func (x *Bool) Load() bool { return atomic.LoadUint32(&x.v) != 0 }
func (x *Bool) Store(val bool) {
	if val {
		atomic.StoreUint32(&x.v, 1)
	} else {
		atomic.StoreUint32(&x.v, 0)
	}
}

// CAS compares-and-swaps the boolean, returning whether it took effect.
func (x *Bool) CAS(old, new bool) bool {
	var o, n uint32
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&x.v, o, n)
}
