package registry

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTripPreservesOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := &Document{Runs: []RunRecord{
		sampleRecordWithID("run_03", StatusActive),
		sampleRecordWithID("run_01", StatusDeleted),
		sampleRecordWithID("run_02", StatusActive),
	}}
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// A second save replaces, not appends.
	doc.Runs = doc.Runs[:1]
	if err := s.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load(ctx)
	if len(got.Runs) != 1 {
		t.Errorf("after replace got %d runs, want 1", len(got.Runs))
	}
}

func TestSQLiteStore_PreservesExtraKeys(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecordWithID("run_01", StatusActive)
	rec.Extra = map[string]json.RawMessage{"queue": json.RawMessage(`"long"`)}
	if err := s.Save(ctx, &Document{Runs: []RunRecord{rec}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got.Runs[0].Extra["queue"]) != `"long"` {
		t.Errorf("Extra = %v, want queue kept", got.Runs[0].Extra)
	}
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("open %d: NewSQLiteStore() error = %v", i, err)
		}
		if err := s.Save(context.Background(), &Document{Runs: []RunRecord{sampleRecordWithID("run_01", StatusActive)}}); err != nil {
			t.Fatalf("open %d: Save() error = %v", i, err)
		}
		s.Close()
	}
}

func TestSQLiteStore_EmptyLoad(t *testing.T) {
	s := newTestSQLiteStore(t)
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(doc.Runs) != 0 {
		t.Errorf("expected empty registry, got %d runs", len(doc.Runs))
	}
}

func TestSQLiteStore_WithRegistry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	reg, err := Open(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(t.TempDir(), "out")
	rec, err := reg.Add(ctx, sampleRecord(outDir))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	reopened, err := Open(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Lookup(rec.ID)
	if got == nil || got.Status != StatusDeleted {
		t.Errorf("reopened record = %+v, want deleted", got)
	}
}

func TestSQLiteStore_ImportJSON(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "rundb.json")
	ctx := context.Background()

	src := &Document{Runs: []RunRecord{
		sampleRecordWithID("run_01", StatusActive),
		sampleRecordWithID("run_02", StatusActive),
	}}
	if err := NewJSONFileStore(jsonPath).Save(ctx, src); err != nil {
		t.Fatal(err)
	}

	s := newTestSQLiteStore(t)
	n, err := s.ImportJSON(ctx, jsonPath)
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ImportJSON() = %d, want 2", n)
	}
	got, _ := s.Load(ctx)
	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("imported mismatch (-want +got):\n%s", diff)
	}
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"", false},
		{BackendJSON, false},
		{BackendSQLite, false},
		{BackendMemory, false},
		{"postgres", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, err := NewStore(tt.backend, filepath.Join(dir, tt.backend+"registry"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStore(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
