package store_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/dtnd/dtnd/bundle"
	"github.com/dtnd/dtnd/cmn/cos"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/event"
	"github.com/dtnd/dtnd/store"
)

type noopPoster struct{ mu sync.Mutex }

func (p *noopPoster) Post(event.Event)      {}
func (p *noopPoster) PostLocal(event.Event) {}

func openTable(t *testing.T, name string) *store.BuntTable {
	t.Helper()
	tbl, err := store.OpenBuntTable(t.TempDir(), name)
	if err != nil {
		t.Fatalf("OpenBuntTable: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

// §4.2: Put(Create) must reject an occupied key.
func TestTablePutCreateRejectsExisting(t *testing.T) {
	tbl := openTable(t, "bundles")
	if err := tbl.Put("1", []byte("a"), store.Create); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := tbl.Put("1", []byte("b"), store.Create)
	if err == nil {
		t.Fatal("expected ErrAlreadyExists, got nil")
	}
	if _, ok := err.(*store.ErrAlreadyExists); !ok {
		t.Fatalf("expected *ErrAlreadyExists, got %T: %v", err, err)
	}
}

func TestTablePutCreateOrReplaceOverwrites(t *testing.T) {
	tbl := openTable(t, "bundles")
	if err := tbl.Put("1", []byte("a"), store.Create); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tbl.Put("1", []byte("b"), store.CreateOrReplace); err != nil {
		t.Fatalf("replace: %v", err)
	}
	v, err := tbl.Get("1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "b" {
		t.Fatalf("got %q, want %q", v, "b")
	}
}

func TestTableGetMissingReturnsErrNotFound(t *testing.T) {
	tbl := openTable(t, "bundles")
	_, err := tbl.Get("missing")
	if !cos.IsErrNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTableDelMissingReturnsErrNotFound(t *testing.T) {
	tbl := openTable(t, "bundles")
	err := tbl.Del("missing")
	if !cos.IsErrNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTableIterateAscendingSnapshot(t *testing.T) {
	tbl := openTable(t, "bundles")
	for _, k := range []string{"3", "1", "2"} {
		if err := tbl.Put(k, []byte(k), store.Create); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	var seen []string
	err := tbl.Iterate(func(key string, _ []byte) bool {
		seen = append(seen, key)
		return true
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"1", "2", "3"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

// Round-trip laws (§8): ToRecord/Materialize must reproduce every field
// a forwarding decision depends on.
func TestBundleRecordRoundTrip(t *testing.T) {
	poster := &noopPoster{}
	b := bundle.New(7, poster)
	b.Source = eid.MustParse("dtn://src/app")
	b.Dest = eid.MustParse("dtn://dst/app")
	b.Priority = bundle.Expedited
	b.Flags = bundle.FlagCustodyRequested
	b.Creation = bundle.CreationTimestamp{Seconds: 1000, Sequence: 3}
	b.ExpirationSec = 3600
	b.FragOffset = 0
	b.OrigLength = 128
	b.Payload = bundle.PayloadHandle{Length: 128, Location: "mem://7"}
	b.Log.AddEntry("L1", bundle.ForwardUnique, bundle.StateTransmitted, 42)

	rec := store.ToRecord(b)
	data, err := store.MarshalBundleRecord(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec2, err := store.UnmarshalBundleRecord(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := store.Materialize(rec2, poster)
	if got.ID() != b.ID() {
		t.Fatalf("id mismatch: got %d want %d", got.ID(), b.ID())
	}
	if got.Source != b.Source || got.Dest != b.Dest {
		t.Fatalf("eid mismatch: got %+v/%+v want %+v/%+v", got.Source, got.Dest, b.Source, b.Dest)
	}
	if got.Priority != b.Priority || got.Flags != b.Flags {
		t.Fatalf("priority/flags mismatch")
	}
	if got.Creation != b.Creation {
		t.Fatalf("creation mismatch: got %+v want %+v", got.Creation, b.Creation)
	}
	if got.Payload != b.Payload {
		t.Fatalf("payload mismatch: got %+v want %+v", got.Payload, b.Payload)
	}
	entries := got.Log.Entries()
	if len(entries) != 1 || entries[0].Link != "L1" || entries[0].State != bundle.StateTransmitted {
		t.Fatalf("forwarding log not reconstructed: %+v", entries)
	}
}

func TestPayloadStoreMemRoundTrip(t *testing.T) {
	m := store.NewMemPayload()
	loc, err := m.Put(1, []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.Get(loc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	if err := m.Del(loc); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := m.Get(loc); !cos.IsErrNotFound(err) {
		t.Fatalf("expected ErrNotFound after del, got %v", err)
	}
}

func TestPayloadStoreFileRoundTripAndCompression(t *testing.T) {
	dir := t.TempDir()
	f, err := store.NewFilePayload(dir)
	if err != nil {
		t.Fatalf("NewFilePayload: %v", err)
	}
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	loc, err := f.Put(99, payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if filepath.Dir(loc) != dir {
		t.Fatalf("location %q not under %q", loc, dir)
	}
	got, err := f.Get(loc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestPayloadStoreReconcileOrphans(t *testing.T) {
	dir := t.TempDir()
	f, err := store.NewFilePayload(dir)
	if err != nil {
		t.Fatalf("NewFilePayload: %v", err)
	}
	liveLoc, err := f.Put(1, []byte("live"))
	if err != nil {
		t.Fatalf("put live: %v", err)
	}
	orphanLoc, err := f.Put(2, []byte("orphan"))
	if err != nil {
		t.Fatalf("put orphan: %v", err)
	}

	if err := f.ReconcileOrphans(map[uint32]struct{}{1: {}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := f.Get(liveLoc); err != nil {
		t.Fatalf("live payload removed: %v", err)
	}
	if _, err := f.Get(orphanLoc); !cos.IsErrNotFound(err) {
		t.Fatalf("orphan payload not removed: %v", err)
	}
}

func TestGlobalsMonotonicAndPersisted(t *testing.T) {
	dir := t.TempDir()
	tbl, err := store.OpenBuntTable(dir, "globals")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g, err := store.OpenGlobals(tbl)
	if err != nil {
		t.Fatalf("OpenGlobals: %v", err)
	}
	first, err := g.NextBundleID()
	if err != nil {
		t.Fatalf("NextBundleID: %v", err)
	}
	second, err := g.NextBundleID()
	if err != nil {
		t.Fatalf("NextBundleID: %v", err)
	}
	if second != first+1 {
		t.Fatalf("not monotonic: %d then %d", first, second)
	}
	tbl.Close()

	tbl2, err := store.OpenBuntTable(dir, "globals")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tbl2.Close()
	g2, err := store.OpenGlobals(tbl2)
	if err != nil {
		t.Fatalf("OpenGlobals reopen: %v", err)
	}
	third, err := g2.NextBundleID()
	if err != nil {
		t.Fatalf("NextBundleID after reopen: %v", err)
	}
	if third != second+1 {
		t.Fatalf("counter not persisted across reopen: got %d, want %d", third, second+1)
	}
}
