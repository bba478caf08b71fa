package cmn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/dtnd/dtnd/cmn/cos"
)

// Kind classifies an error from the §7 taxonomy so the router and the
// daemon can branch on kind without a type switch on every concrete
// error type, mirroring the teacher's cos.IsErrNotFound-style
// classifier functions.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicateIdentity
	KindLinkNotOpen
	KindMtuExceeded
	KindStoreError
	KindCustodyTimeout
	KindExpired
	KindCLInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindDuplicateIdentity:
		return "DuplicateIdentity"
	case KindLinkNotOpen:
		return "LinkNotOpen"
	case KindMtuExceeded:
		return "MtuExceeded"
	case KindStoreError:
		return "StoreError"
	case KindCustodyTimeout:
		return "CustodyTimeout"
	case KindExpired:
		return "Expired"
	case KindCLInternal:
		return "CLInternal"
	default:
		return "Unknown"
	}
}

// Kinded is implemented by any error outside this package that still
// wants to classify under the §7 taxonomy — e.g. daemon.ErrDuplicateDiscarded,
// which must also satisfy errors.Is as a plain sentinel, so it can't be
// one of this package's own *kindedError values.
type Kinded interface {
	error
	Kind() Kind
}

type kindedError struct {
	kind Kind
	msg  string
}

func (e *kindedError) Error() string { return e.msg }
func (e *kindedError) Kind() Kind    { return e.kind }

func newKinded(kind Kind, format string, a ...any) *kindedError {
	return &kindedError{kind: kind, msg: fmt.Sprintf(format, a...)}
}

func NewErrDuplicateIdentity(format string, a ...any) error {
	return newKinded(KindDuplicateIdentity, format, a...)
}

func NewErrLinkNotOpen(link string) error {
	return newKinded(KindLinkNotOpen, "link %q is not open", link)
}

func NewErrMtuExceeded(length, mtu int) error {
	return newKinded(KindMtuExceeded, "bundle length %d exceeds link mtu %d", length, mtu)
}

// NewErrStoreError wraps cause with pkg/errors so the call site that
// first observed the failure stays attached (§7 StoreError), the way
// the teacher's cos.Errs aggregator keeps the originating context
// instead of flattening every store failure to one generic message.
func NewErrStoreError(op string, cause error) error {
	return newKinded(KindStoreError, "store %s failed: %v", op, errors.Wrap(cause, op))
}

func NewErrCustodyTimeout(bundleID uint32, link string) error {
	return newKinded(KindCustodyTimeout, "custody timeout for bundle %d on link %q", bundleID, link)
}

func NewErrExpired(bundleID uint32) error {
	return newKinded(KindExpired, "bundle %d expired", bundleID)
}

func NewErrCLInternal(cl string, cause error) error {
	return newKinded(KindCLInternal, "convergence layer %q: %v", cl, cause)
}

// ErrorKind classifies err into one of the §7 kinds. cos.ErrNotFound is
// folded in so callers never need to know which package minted the
// NotFound error.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if cos.IsErrNotFound(err) {
		return KindNotFound
	}
	if ke, ok := err.(Kinded); ok {
		return ke.Kind()
	}
	return KindUnknown
}
