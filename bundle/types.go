// Package bundle implements the Bundle Protocol data model: the atomic,
// reference-counted Bundle, its multi-list membership (BundleList), and
// the per-bundle forwarding audit trail (ForwardingLog) (§3, §4.3, §4.4).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package bundle

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/dtnd/dtnd/cmn/eid"
)

type Priority int

const (
	Bulk Priority = iota
	Normal
	Expedited
)

// Flags bundle processing-control flags (§3).
type Flags uint16

const (
	FlagIsFragment Flags = 1 << iota
	FlagIsAdmin
	FlagDoNotFragment
	FlagReactiveFragment
	FlagCustodyRequested
	// five status-report-request bits
	FlagReportReceipt
	FlagReportCustodyAccept
	FlagReportForward
	FlagReportDelivery
	FlagReportDeletion
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// CreationTimestamp is seconds-since-epoch plus a sequence number that
// disambiguates bundles created within the same second by the same
// source; it is immutable and forms part of identity.
type CreationTimestamp struct {
	Seconds  int64
	Sequence uint64
}

// Identity is the tuple spec.md uses for duplicate detection:
// (source, creation_ts, is_fragment?, frag_offset, orig_length).
type Identity struct {
	Source     eid.ID
	Creation   CreationTimestamp
	IsFragment bool
	FragOffset uint64
	OrigLength uint64
}

// Digest hashes the identity tuple with xxhash, used by the daemon's
// probabilistic duplicate-identity pre-filter and by Ref below.
func (id Identity) Digest() uint64 {
	h := xxhash.New64()
	fmt.Fprintf(h, "%s|%d|%d|%t|%d|%d",
		id.Source.String(), id.Creation.Seconds, id.Creation.Sequence,
		id.IsFragment, id.FragOffset, id.OrigLength)
	return h.Sum64()
}

// PayloadHandle is the opaque payload reference stored on a Bundle: a
// length and a storage-location key resolved through a store.PayloadStore.
// The bundle package never reads payload bytes itself.
type PayloadHandle struct {
	Length   int
	Location string
}

// Ref is a small, comparable, copyable handle naming a bundle without
// pinning a strong reference to it — grounded on the teacher's LIF
// (LOM-in-flight) pattern: enough information to resolve back to the
// full Bundle later, safe to pass across a lock boundary or store in a
// map key.
type Ref struct {
	BundleID uint32
	Digest   uint64
}

func (r Ref) String() string { return fmt.Sprintf("bundle#%d", r.BundleID) }
