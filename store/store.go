// Package store implements the Persistent Store contract (§4.2): a
// per-table get/put/del/iterate interface backed by an embedded
// buntdb key-value engine, one database file per table so the core
// never assumes transactions across tables.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"github.com/dtnd/dtnd/cmn/cos"
)

// PutMode selects put's create-vs-replace semantics (§4.2).
type PutMode int

const (
	Create PutMode = iota
	CreateOrReplace
)

// ErrAlreadyExists is returned by Put(Create) when the key is occupied.
type ErrAlreadyExists struct{ Key string }

func (e *ErrAlreadyExists) Error() string { return "key already exists: " + e.Key }

// Table is the per-table contract every persistent table satisfies:
// bundles (keyed by bundleid), registrations (keyed by regid), globals
// (a singleton record) all implement it identically.
type Table interface {
	// Get returns the raw record for key, or cos.ErrNotFound.
	Get(key string) ([]byte, error)
	Put(key string, value []byte, mode PutMode) error
	Del(key string) error
	// Iterate calls fn for every key in ascending key order, reflecting
	// a consistent point-in-time snapshot (§4.2). Iteration stops early
	// if fn returns false.
	Iterate(fn func(key string, value []byte) bool) error
	Close() error
}

func errNotFound(key string) error { return cos.NewErrNotFound("store record %q", key) }
