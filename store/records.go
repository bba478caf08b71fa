package store

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/event"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BundleRecord is the self-describing persisted form of a Bundle (§6
// "Persisted record layout"): every field §3 enumerates, plus the
// forwarding log, versioned implicitly by GlobalsRecord.Version.
type BundleRecord struct {
	BundleID   uint32
	Source     string
	Dest       string
	ReplyTo    string
	Custodian  string
	Priority   int
	Flags      uint16
	CreationTS int64
	CreationSeq uint64
	Expiration int64
	FragOffset uint64
	OrigLength uint64

	PayloadLength   int
	PayloadLocation string

	ForwardingLog []ForwardingLogRecord
}

type ForwardingLogRecord struct {
	Link      string
	Action    int
	State     int
	Timestamp int64
}

func ToRecord(b *bundle.Bundle) BundleRecord {
	logEntries := b.Log.Entries()
	flr := make([]ForwardingLogRecord, len(logEntries))
	for i, e := range logEntries {
		flr[i] = ForwardingLogRecord{Link: e.Link, Action: int(e.Action), State: int(e.State), Timestamp: e.Timestamp}
	}
	id := b.Identity()
	return BundleRecord{
		BundleID:        b.ID(),
		Source:          b.Source.String(),
		Dest:            b.Dest.String(),
		ReplyTo:         b.ReplyTo.String(),
		Custodian:       b.Custodian.String(),
		Priority:        int(b.Priority),
		Flags:           uint16(b.Flags),
		CreationTS:      id.Creation.Seconds,
		CreationSeq:     id.Creation.Sequence,
		Expiration:      b.ExpirationSec,
		FragOffset:      b.FragOffset,
		OrigLength:      b.OrigLength,
		PayloadLength:   b.Payload.Length,
		PayloadLocation: b.Payload.Location,
		ForwardingLog:   flr,
	}
}

func MarshalBundleRecord(r BundleRecord) ([]byte, error) { return json.Marshal(r) }

func UnmarshalBundleRecord(data []byte) (BundleRecord, error) {
	var r BundleRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

// Materialize rebuilds a live Bundle from a persisted record, in the
// "builder state" crash recovery describes (§4.8): no expiration timer
// yet, refcount starts at 1 for the caller's transient hold during
// recovery.
func Materialize(r BundleRecord, poster event.Poster) *bundle.Bundle {
	b := bundle.New(r.BundleID, poster)
	b.Source = mustParseOrZero(r.Source)
	b.Dest = mustParseOrZero(r.Dest)
	b.ReplyTo = mustParseOrZero(r.ReplyTo)
	b.Custodian = mustParseOrZero(r.Custodian)
	b.Priority = bundle.Priority(r.Priority)
	b.Flags = bundle.Flags(r.Flags)
	b.Creation = bundle.CreationTimestamp{Seconds: r.CreationTS, Sequence: r.CreationSeq}
	b.ExpirationSec = r.Expiration
	b.FragOffset = r.FragOffset
	b.OrigLength = r.OrigLength
	b.Payload = bundle.PayloadHandle{Length: r.PayloadLength, Location: r.PayloadLocation}
	for _, e := range r.ForwardingLog {
		b.Log.AddEntry(e.Link, bundle.ForwardAction(e.Action), bundle.ForwardState(e.State), e.Timestamp)
	}
	return b
}

func mustParseOrZero(s string) eid.ID {
	if s == "" {
		return eid.ID{}
	}
	id, err := eid.Parse(s)
	if err != nil {
		return eid.ID{}
	}
	return id
}

// RegistrationRecord is the persisted form of a Registration (§3).
type RegistrationRecord struct {
	RegID         uint32
	Pattern       string
	FailureAction int
	Expiration    int64
}

func MarshalRegistrationRecord(r RegistrationRecord) ([]byte, error) { return json.Marshal(r) }

func UnmarshalRegistrationRecord(data []byte) (RegistrationRecord, error) {
	var r RegistrationRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

// GlobalsRecord is the singleton persisted (version, next_bundleid,
// next_regid) record (§3), extended with the opportunistic-link counter
// the §9 Open Question asks to persist.
type GlobalsRecord struct {
	Version       int
	NextBundleID  uint32
	NextRegID     uint32
	NextOpLinkSeq uint64
}
