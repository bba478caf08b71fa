package bpcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Custody signal reason codes (§7, §1 ADDED "custody-signal admin
// record encoder"). These are a closed, small set local to this
// implementation — the core does not claim conformance with any
// particular Bundle Protocol administrative-record registry.
type CustodyReason byte

const (
	CustodyReasonNoInfo CustodyReason = iota
	CustodyReasonExpired
	CustodyReasonRedundant
	CustodyReasonDepleted
	CustodyReasonDeliveryFailed
)

// adminTypeCustodySignal tags the one admin-record shape this core
// produces: everything else in §1's "admin-record parsing of inbound
// signals" stays out of scope beyond what custody timeout handling
// needs, per the spec's own carve-out.
const adminTypeCustodySignal = 1

// CustodySignal is the payload of a custody-acceptance/refusal signal
// bundle sent back to the previous custodian (§1 ADDED, §7, §4.8 step 4
// "Delete"). It identifies the referenced bundle by its identity tuple
// rather than by bundleid, since bundleid is only meaningful to the
// node that assigned it.
type CustodySignal struct {
	Accepted bool
	Reason   CustodyReason

	BundleSource     string
	CreationSeconds  int64
	CreationSequence uint64

	SignalTimeSeconds int64
}

// EncodeCustodySignal serializes sig into an admin-record payload
// suitable for carrying as the payload of a bundle with FlagIsAdmin set.
func EncodeCustodySignal(sig CustodySignal) []byte {
	var buf bytes.Buffer
	buf.WriteByte(adminTypeCustodySignal)
	if sig.Accepted {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(byte(sig.Reason))
	writeString(&buf, sig.BundleSource)
	_ = binary.Write(&buf, binary.BigEndian, sig.CreationSeconds)
	_ = binary.Write(&buf, binary.BigEndian, sig.CreationSequence)
	_ = binary.Write(&buf, binary.BigEndian, sig.SignalTimeSeconds)
	return buf.Bytes()
}

// DecodeCustodySignal parses an admin-record payload produced by
// EncodeCustodySignal. It is the limited inbound parsing §1 keeps in
// scope: enough to drive custody-timeout handling, nothing more.
func DecodeCustodySignal(data []byte) (CustodySignal, error) {
	r := bytes.NewReader(data)
	typ, err := r.ReadByte()
	if err != nil {
		return CustodySignal{}, ErrShortBuffer
	}
	if typ != adminTypeCustodySignal {
		return CustodySignal{}, fmt.Errorf("bpcodec: not a custody signal admin record (type %d)", typ)
	}
	var sig CustodySignal
	accepted, err := r.ReadByte()
	if err != nil {
		return CustodySignal{}, ErrShortBuffer
	}
	sig.Accepted = accepted != 0

	reason, err := r.ReadByte()
	if err != nil {
		return CustodySignal{}, ErrShortBuffer
	}
	sig.Reason = CustodyReason(reason)

	if sig.BundleSource, err = readString(r); err != nil {
		return CustodySignal{}, err
	}
	if err := readInt64(r, &sig.CreationSeconds); err != nil {
		return CustodySignal{}, err
	}
	if err := readUint64(r, &sig.CreationSequence); err != nil {
		return CustodySignal{}, err
	}
	if err := readInt64(r, &sig.SignalTimeSeconds); err != nil {
		return CustodySignal{}, err
	}
	return sig, nil
}
