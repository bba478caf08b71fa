// Package mono provides low-level monotonic time used by the timer
// subsystem and by every deadline computed from a bundle's creation
// timestamp and lifetime.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// epoch anchors every NanoTime reading to process start; time.Since on a
// value produced by time.Now() walks Go's monotonic clock reading, never
// the wall clock, so a clock step never perturbs deadline ordering.
var epoch = time.Now()

// NanoTime returns a monotonic nanosecond counter. It is never compared
// to wall-clock time and never perturbed by a clock step.
func NanoTime() int64 { return int64(time.Since(epoch)) }

// Since returns the elapsed duration in nanoseconds given a past NanoTime value.
func Since(start int64) int64 { return NanoTime() - start }
