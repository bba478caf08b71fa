// Package router defines the pluggable Router contract (§4.7): a pure,
// synchronous function from one Event to zero or more Actions, invoked
// only from the daemon task. Router implementations never touch lists
// or bundles directly — every mutation is expressed as a returned
// Action for the daemon to execute.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package router

import "github.com/dtnd/dtnd/event"

// Router MUST be deterministic given the same sequence of events, which
// is what makes replay testing meaningful (§4.7).
type Router interface {
	HandleEvent(ev event.Event) []event.Action
}
