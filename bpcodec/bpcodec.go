// Package bpcodec implements the Bundle Protocol wire codec (§6): a
// primary block plus a mandatory canonical payload block, read and
// written with encoding/binary over a bytes.Buffer. This is the one
// place in the module built directly on the standard library rather
// than a corpus serialization library — see DESIGN.md for why a
// bit-for-bit external wire format is not a fit for a general-purpose
// marshaling package.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package bpcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
)

// Version is the primary block's version byte. The core does not claim
// bit-for-bit compatibility with any particular Bundle Protocol RFC
// revision; it picks one stable value and is self-consistent about it.
const Version uint8 = 6

// payloadBlockType tags the only canonical block this core ever
// produces or parses (§6: "payload block mandatory").
const payloadBlockType = 1

// ErrShortBuffer is returned by Decode when data does not yet contain a
// complete primary+payload block pair; callers streaming bytes in over
// a CL connection treat it as "need more input", not a framing error.
var ErrShortBuffer = errors.New("bpcodec: short buffer")

// Primary mirrors the primary-block fields of §3/§6: every field the
// Bundle data model carries that must survive the wire, independent of
// any particular in-memory Bundle representation.
type Primary struct {
	Flags    bundle.Flags
	Priority bundle.Priority

	Source, Dest, ReplyTo, Custodian eid.ID

	CreationSeconds  int64
	CreationSequence uint64
	Lifetime         int64

	FragOffset uint64
	OrigLength uint64
}

// PrimaryFromBundle extracts the wire-relevant fields of a live Bundle.
func PrimaryFromBundle(b *bundle.Bundle) Primary {
	return Primary{
		Flags:            b.Flags,
		Priority:         b.Priority,
		Source:           b.Source,
		Dest:             b.Dest,
		ReplyTo:          b.ReplyTo,
		Custodian:        b.Custodian,
		CreationSeconds:  b.Creation.Seconds,
		CreationSequence: b.Creation.Sequence,
		Lifetime:         b.ExpirationSec,
		FragOffset:       b.FragOffset,
		OrigLength:       b.OrigLength,
	}
}

// ApplyTo writes the decoded primary-block fields onto a Bundle the
// caller already constructed with bundle.New (which needs an allocated
// id and an event.Poster bpcodec has no business knowing about).
func (p Primary) ApplyTo(b *bundle.Bundle) {
	b.Flags = p.Flags
	b.Priority = p.Priority
	b.Source = p.Source
	b.Dest = p.Dest
	b.ReplyTo = p.ReplyTo
	b.Custodian = p.Custodian
	b.Creation = bundle.CreationTimestamp{Seconds: p.CreationSeconds, Sequence: p.CreationSequence}
	b.ExpirationSec = p.Lifetime
	b.FragOffset = p.FragOffset
	b.OrigLength = p.OrigLength
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", ErrShortBuffer
	}
	if r.Len() < int(n) {
		return "", ErrShortBuffer
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", ErrShortBuffer
	}
	return string(buf), nil
}

func readEID(r *bytes.Reader) (eid.ID, error) {
	s, err := readString(r)
	if err != nil {
		return eid.ID{}, err
	}
	if s == "" {
		return eid.ID{}, nil
	}
	id, err := eid.Parse(s)
	if err != nil {
		return eid.ID{}, fmt.Errorf("bpcodec: malformed endpoint id %q: %w", s, err)
	}
	return id, nil
}

func readInt64(r *bytes.Reader, dst *int64) error {
	if r.Len() < 8 {
		return ErrShortBuffer
	}
	return binary.Read(r, binary.BigEndian, dst)
}

func readUint64(r *bytes.Reader, dst *uint64) error {
	if r.Len() < 8 {
		return ErrShortBuffer
	}
	return binary.Read(r, binary.BigEndian, dst)
}

// Encode produces the on-wire primary block followed by one canonical
// payload block carrying payload verbatim (§6 "zero or more canonical
// blocks (payload block mandatory)").
func Encode(p Primary, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	_ = binary.Write(&buf, binary.BigEndian, uint16(p.Flags))
	buf.WriteByte(byte(p.Priority))
	writeString(&buf, p.Source.String())
	writeString(&buf, p.Dest.String())
	writeString(&buf, p.ReplyTo.String())
	writeString(&buf, p.Custodian.String())
	_ = binary.Write(&buf, binary.BigEndian, p.CreationSeconds)
	_ = binary.Write(&buf, binary.BigEndian, p.CreationSequence)
	_ = binary.Write(&buf, binary.BigEndian, p.Lifetime)
	_ = binary.Write(&buf, binary.BigEndian, p.FragOffset)
	_ = binary.Write(&buf, binary.BigEndian, p.OrigLength)

	buf.WriteByte(payloadBlockType)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}

// FormattedLength reports the exact encoded size without retaining the
// buffer, for callers that size a CL send before producing it.
func FormattedLength(p Primary, payload []byte) int {
	return len(Encode(p, payload))
}

// Decode parses a complete primary+payload block pair. It returns
// ErrShortBuffer (not a framing error) if data is well-formed so far
// but incomplete, so a streaming Consumer can distinguish "need more
// bytes" from "this is garbage".
func Decode(data []byte) (Primary, []byte, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return Primary{}, nil, ErrShortBuffer
	}
	if version != Version {
		return Primary{}, nil, fmt.Errorf("bpcodec: unsupported primary block version %d", version)
	}

	var p Primary
	var flags uint16
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return Primary{}, nil, ErrShortBuffer
	}
	p.Flags = bundle.Flags(flags)

	prio, err := r.ReadByte()
	if err != nil {
		return Primary{}, nil, ErrShortBuffer
	}
	p.Priority = bundle.Priority(prio)

	if p.Source, err = readEID(r); err != nil {
		return Primary{}, nil, err
	}
	if p.Dest, err = readEID(r); err != nil {
		return Primary{}, nil, err
	}
	if p.ReplyTo, err = readEID(r); err != nil {
		return Primary{}, nil, err
	}
	if p.Custodian, err = readEID(r); err != nil {
		return Primary{}, nil, err
	}
	if err := readInt64(r, &p.CreationSeconds); err != nil {
		return Primary{}, nil, err
	}
	if err := readUint64(r, &p.CreationSequence); err != nil {
		return Primary{}, nil, err
	}
	if err := readInt64(r, &p.Lifetime); err != nil {
		return Primary{}, nil, err
	}
	if err := readUint64(r, &p.FragOffset); err != nil {
		return Primary{}, nil, err
	}
	if err := readUint64(r, &p.OrigLength); err != nil {
		return Primary{}, nil, err
	}

	blockType, err := r.ReadByte()
	if err != nil {
		return Primary{}, nil, ErrShortBuffer
	}
	if blockType != payloadBlockType {
		return Primary{}, nil, fmt.Errorf("bpcodec: expected payload block, got type %d", blockType)
	}
	var length uint32
	if r.Len() < 4 {
		return Primary{}, nil, ErrShortBuffer
	}
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Primary{}, nil, ErrShortBuffer
	}
	if r.Len() < int(length) {
		return Primary{}, nil, ErrShortBuffer
	}
	payload := make([]byte, length)
	if _, err := r.Read(payload); err != nil {
		return Primary{}, nil, ErrShortBuffer
	}

	return p, payload, nil
}
