// Package eid implements Bundle Protocol endpoint identifiers: URI-like
// names of the form "scheme:ssp", plus patterns that match against a set
// of concrete endpoint identifiers (e.g. "dtn:*" or "dtn://b/*").
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package eid

import (
	"fmt"
	"strings"
)

// ID is a parsed, immutable endpoint identifier.
type ID struct {
	scheme string
	ssp    string
	raw    string
}

// None is the null endpoint, dtn:none — used as replyto when no report
// is requested. It is distinct from the zero ID, whose string form is "".
var None = ID{scheme: "dtn", ssp: "none", raw: "dtn:none"}

// Parse validates and parses a "scheme:ssp" endpoint identifier.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("eid: empty endpoint id")
	}
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return ID{}, fmt.Errorf("eid: %q is not a valid scheme:ssp endpoint id", s)
	}
	return ID{scheme: s[:idx], ssp: s[idx+1:], raw: s}, nil
}

// MustParse panics on a malformed id; used only for compile-time constants
// and test fixtures.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string  { return id.raw }
func (id ID) Scheme() string  { return id.scheme }
func (id ID) SSP() string     { return id.ssp }
func (id ID) IsZero() bool    { return id.raw == "" }
func (id ID) Equal(o ID) bool { return id.raw == o.raw }

// IsPattern reports whether this id contains a "*" wildcard segment and
// is therefore only valid as a registration/remote-eid pattern, never as
// a bundle source or destination.
func (id ID) IsPattern() bool { return strings.Contains(id.ssp, "*") }

// Matches reports whether the concrete id `other` is accepted by the
// pattern `id`. If `id` is not a pattern, Matches is equivalent to Equal.
func (id ID) Matches(other ID) bool {
	if !id.IsPattern() {
		return id.Equal(other)
	}
	if id.scheme != other.scheme {
		return false
	}
	prefix, _, found := strings.Cut(id.ssp, "*")
	if !found {
		return id.ssp == other.ssp
	}
	return strings.HasPrefix(other.ssp, prefix)
}
