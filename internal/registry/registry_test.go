package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleRecord(outputDir string) RunRecord {
	return RunRecord{
		Particle:     "gamma",
		Ion:          "None",
		Energy:       "662 keV",
		SourceVolume: "Cryostat",
		OutputDir:    outputDir,
		OutputFile:   "cs137",
		NumEvents:    1000,
		NumJobs:      2,
		RandomSeed:   4242,
	}
}

func openMemory(t *testing.T, doc *Document, opts ...Option) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(doc)
	reg, err := Open(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return reg, store
}

func TestOpen_DefaultsMissingStatus(t *testing.T) {
	doc := &Document{Runs: []RunRecord{
		{ID: "run_01", Particle: "gamma", OutputDir: "/tmp/r1", NumJobs: 1},
		{ID: "run_02", Particle: "e-", OutputDir: "/tmp/r2", NumJobs: 1, Status: StatusDeleted},
	}}

	reg, store := openMemory(t, doc)

	if got := reg.Lookup("run_01").Status; got != StatusActive {
		t.Errorf("run_01 status = %q, want active", got)
	}
	if got := reg.Lookup("run_02").Status; got != StatusDeleted {
		t.Errorf("run_02 status = %q, want deleted", got)
	}
	if store.Saves() != 1 {
		t.Errorf("expected migrated document to be saved once, got %d saves", store.Saves())
	}

	persisted, _ := store.Load(context.Background())
	if persisted.Runs[0].Status != StatusActive {
		t.Errorf("persisted run_01 status = %q, want active", persisted.Runs[0].Status)
	}
}

func TestOpen_NoMigrationNoSave(t *testing.T) {
	doc := &Document{Runs: []RunRecord{
		{ID: "run_01", Particle: "gamma", OutputDir: "/tmp/r1", NumJobs: 1, Status: StatusActive},
	}}
	_, store := openMemory(t, doc)
	if store.Saves() != 0 {
		t.Errorf("expected no save when nothing migrated, got %d", store.Saves())
	}
}

func TestLookup(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	rec, err := reg.Add(ctx, sampleRecord("/tmp/a"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got := reg.Lookup(rec.ID)
	if got == nil {
		t.Fatal("Lookup() returned nil for existing run")
	}
	if got.ID != rec.ID {
		t.Errorf("Lookup(%q).ID = %q", rec.ID, got.ID)
	}

	if reg.Lookup("run_99") != nil {
		t.Error("Lookup() should return nil for unknown id")
	}

	// Returned records are copies.
	got.OutputDir = "/elsewhere"
	if reg.Lookup(rec.ID).OutputDir != "/tmp/a" {
		t.Error("mutating a looked-up record changed the registry")
	}
}

func TestAdd_AssignsMonotonicIDs(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := reg.Add(ctx, sampleRecord(filepath.Join(t.TempDir(), "out")))
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}

	if diff := cmp.Diff([]string{"run_01", "run_02", "run_03"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	// Deleting the last run must not free its id.
	if err := reg.Delete(ctx, "run_03"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	rec, err := reg.Add(ctx, sampleRecord(filepath.Join(t.TempDir(), "out")))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if rec.ID != "run_04" {
		t.Errorf("id after delete = %q, want run_04", rec.ID)
	}
	if rec.Status != StatusActive {
		t.Errorf("new run status = %q, want active", rec.Status)
	}
}

func TestAdd_SkipsPastGaps(t *testing.T) {
	doc := &Document{Runs: []RunRecord{
		{ID: "run_07", Particle: "gamma", OutputDir: "/tmp/r7", NumJobs: 1, Status: StatusActive},
	}}
	reg, _ := openMemory(t, doc)

	rec, err := reg.Add(context.Background(), sampleRecord("/tmp/r8"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if rec.ID != "run_08" {
		t.Errorf("Add() id = %q, want run_08", rec.ID)
	}
}

func TestAdd_Validation(t *testing.T) {
	reg, store := openMemory(t, nil)

	rec := sampleRecord("")
	if _, err := reg.Add(context.Background(), rec); err == nil {
		t.Error("Add() should reject a record without outputDir")
	}
	if store.Saves() != 0 {
		t.Error("rejected record should not be persisted")
	}
}

func TestList(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := reg.Add(ctx, sampleRecord(filepath.Join(t.TempDir(), "out"))); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := reg.Delete(ctx, "run_02"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	ids := func(runs []RunRecord) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	if diff := cmp.Diff([]string{"run_01", "run_03"}, ids(reg.List(false))); diff != "" {
		t.Errorf("List(false) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"run_01", "run_02", "run_03"}, ids(reg.List(true))); diff != "" {
		t.Errorf("List(true) mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete_SoftDeletesAndRemovesOutput(t *testing.T) {
	reg, store := openMemory(t, nil)
	ctx := context.Background()

	outDir := filepath.Join(t.TempDir(), "20240601_120000")
	if err := os.MkdirAll(filepath.Join(outDir, "logs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "cs137_0.root"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec, err := reg.Add(ctx, sampleRecord(outDir))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := reg.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got := reg.Lookup(rec.ID)
	if got == nil {
		t.Fatal("deleted run should still be in the registry")
	}
	if got.Status != StatusDeleted {
		t.Errorf("status = %q, want deleted", got.Status)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("output dir should be removed, stat err = %v", err)
	}

	persisted, _ := store.Load(ctx)
	if persisted.Runs[0].Status != StatusDeleted {
		t.Errorf("persisted status = %q, want deleted", persisted.Runs[0].Status)
	}
	for _, r := range reg.List(false) {
		if r.ID == rec.ID {
			t.Error("deleted run should be excluded from default listing")
		}
	}
}

func TestDelete_Unknown(t *testing.T) {
	reg, _ := openMemory(t, nil)
	err := reg.Delete(context.Background(), "run_42")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestDelete_MissingDirIsFine(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	rec, _ := reg.Add(ctx, sampleRecord(filepath.Join(t.TempDir(), "never-created")))
	if err := reg.Delete(ctx, rec.ID); err != nil {
		t.Errorf("Delete() error = %v, want nil for missing output dir", err)
	}
}

func TestDelete_CleanupFailureKeepsStatus(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside")
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatal(err)
	}

	reg, store := openMemory(t, nil, WithDataRoots(root))
	ctx := context.Background()

	rec, _ := reg.Add(ctx, sampleRecord(outside))
	err := reg.Delete(ctx, rec.ID)

	var cerr *CleanupError
	if !errors.As(err, &cerr) {
		t.Fatalf("Delete() error = %v, want *CleanupError", err)
	}
	if cerr.ID != rec.ID || cerr.Dir != outside {
		t.Errorf("CleanupError = %+v", cerr)
	}

	if _, err := os.Stat(outside); err != nil {
		t.Errorf("directory outside data root must survive: %v", err)
	}
	persisted, _ := store.Load(ctx)
	if persisted.Runs[0].Status != StatusDeleted {
		t.Errorf("status should stay deleted after failed cleanup, got %q", persisted.Runs[0].Status)
	}
}

func TestSetStatus(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	rec, _ := reg.Add(ctx, sampleRecord("/tmp/a"))

	if err := reg.SetStatus(ctx, rec.ID, StatusDeleted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if reg.Lookup(rec.ID).Status != StatusDeleted {
		t.Error("status not updated")
	}
	if err := reg.SetStatus(ctx, rec.ID, StatusActive); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if reg.Lookup(rec.ID).Status != StatusActive {
		t.Error("status not restored")
	}

	if err := reg.SetStatus(ctx, rec.ID, Status("archived")); err == nil {
		t.Error("SetStatus() should reject unknown status")
	}
	if err := reg.SetStatus(ctx, "run_77", StatusActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestMutationsReloadFromStore(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	a, err := Open(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(ctx, store)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.Add(ctx, sampleRecord("/tmp/a")); err != nil {
		t.Fatal(err)
	}
	rec, err := b.Add(ctx, sampleRecord("/tmp/b"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "run_02" {
		t.Errorf("second registry assigned %q, want run_02", rec.ID)
	}
	if len(b.List(true)) != 2 {
		t.Errorf("b should see both runs after its own mutation, got %d", len(b.List(true)))
	}

	if a.Lookup("run_02") != nil {
		t.Error("a should not see run_02 before Reload")
	}
	if err := a.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Lookup("run_02") == nil {
		t.Error("a should see run_02 after Reload")
	}
}

func TestOutputFiles(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	outDir := t.TempDir()
	for _, name := range []string{"cs137_1.root", "cs137_0.root", "cs137_0.arrow", "settings.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(outDir, "jobs.root"), 0755); err != nil {
		t.Fatal(err)
	}

	rec, _ := reg.Add(ctx, sampleRecord(outDir))

	files, err := reg.OutputFiles(rec.ID)
	if err != nil {
		t.Fatalf("OutputFiles() error = %v", err)
	}
	want := []string{
		filepath.Join(outDir, "cs137_0.arrow"),
		filepath.Join(outDir, "cs137_0.root"),
		filepath.Join(outDir, "cs137_1.root"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("OutputFiles mismatch (-want +got):\n%s", diff)
	}

	first, ok, err := reg.FirstOutputFile(rec.ID)
	if err != nil || !ok || first != want[0] {
		t.Errorf("FirstOutputFile() = %q, %v, %v; want %q", first, ok, err, want[0])
	}

	rootOnly, _ := openMemory(t, &Document{Runs: []RunRecord{rec}}, WithOutputExtensions(".root"))
	files, _ = rootOnly.OutputFiles(rec.ID)
	if len(files) != 2 {
		t.Errorf("with .root only got %d files, want 2", len(files))
	}
}

func TestOutputFiles_AbsentCases(t *testing.T) {
	reg, _ := openMemory(t, nil)
	ctx := context.Background()

	files, err := reg.OutputFiles("run_01")
	if err != nil || files != nil {
		t.Errorf("unknown run: got %v, %v", files, err)
	}
	if _, ok, _ := reg.FirstOutputFile("run_01"); ok {
		t.Error("unknown run should have no first file")
	}

	missing, _ := reg.Add(ctx, sampleRecord(filepath.Join(t.TempDir(), "gone")))
	files, err = reg.OutputFiles(missing.ID)
	if err != nil || len(files) != 0 {
		t.Errorf("missing dir: got %v, %v", files, err)
	}

	outDir := t.TempDir()
	os.WriteFile(filepath.Join(outDir, "a.root"), []byte("x"), 0644)
	deleted, _ := reg.Add(ctx, sampleRecord(outDir))
	reg.SetStatus(ctx, deleted.ID, StatusDeleted)
	files, err = reg.OutputFiles(deleted.ID)
	if err != nil || len(files) != 0 {
		t.Errorf("deleted run: got %v, %v", files, err)
	}
}

func TestSettings_AbsentIsNotError(t *testing.T) {
	doc := &Document{Runs: []RunRecord{
		{ID: "run_01", Particle: "gamma", OutputDir: filepath.Join(t.TempDir(), "r1"), NumJobs: 1, Status: StatusActive},
	}}
	reg, _ := openMemory(t, doc)

	settings, err := reg.Settings("run_01", true)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if settings != nil {
		t.Errorf("Settings() = %v, want nil", settings)
	}

	settings, err = reg.Settings("run_09", false)
	if err != nil || settings != nil {
		t.Errorf("unknown run: Settings() = %v, %v", settings, err)
	}
}

func TestSettings_Normalize(t *testing.T) {
	outDir := t.TempDir()
	content := `{
    "verbose": 0,
    "gps_settings": {"particle": "gamma", "energy": "1 MeV", "posRadius": "2 cm"},
    "detector_configuration": {"geometryFileName": "geometry.json"},
    "worldSize": "1 m"
}`
	if err := os.WriteFile(filepath.Join(outDir, "settings.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	reg, _ := openMemory(t, nil)
	rec, _ := reg.Add(context.Background(), sampleRecord(outDir))

	raw, err := reg.Settings(rec.ID, false)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if raw["worldSize"] != "1 m" {
		t.Errorf("raw worldSize = %v, want \"1 m\"", raw["worldSize"])
	}

	norm, err := reg.Settings(rec.ID, true)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if norm["worldSize"] != 1000.0 {
		t.Errorf("normalized worldSize = %v, want 1000", norm["worldSize"])
	}
	gps := norm["gps_settings"].(map[string]any)
	if gps["energy"] != 1000.0 || gps["posRadius"] != 20.0 {
		t.Errorf("normalized gps = %v", gps)
	}

	if err := reg.SetStatus(context.Background(), rec.ID, StatusDeleted); err != nil {
		t.Fatal(err)
	}
	if s, _ := reg.Settings(rec.ID, false); s != nil {
		t.Error("deleted run should have no settings")
	}
}

func TestSettings_BadJSON(t *testing.T) {
	outDir := t.TempDir()
	os.WriteFile(filepath.Join(outDir, "settings.json"), []byte("{not json"), 0644)

	reg, _ := openMemory(t, nil)
	rec, _ := reg.Add(context.Background(), sampleRecord(outDir))

	if _, err := reg.Settings(rec.ID, false); err == nil {
		t.Error("Settings() should fail on malformed JSON")
	}
}

func TestSettingsPath(t *testing.T) {
	tests := []struct {
		name string
		rec  RunRecord
		want string
	}{
		{"default", RunRecord{OutputDir: "/data/r1"}, "/data/r1/settings.json"},
		{"relative", RunRecord{OutputDir: "/data/r1", SettingsFile: "cfg/s.json"}, "/data/r1/cfg/s.json"},
		{"absolute", RunRecord{OutputDir: "/data/r1", SettingsFile: "/etc/simrun/s.json"}, "/etc/simrun/s.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SettingsPath(tt.rec); got != filepath.FromSlash(tt.want) {
				t.Errorf("SettingsPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
