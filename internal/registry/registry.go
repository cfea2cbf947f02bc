package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/logging"
	"github.com/nvandessel/simrun/internal/pathutil"
	"github.com/nvandessel/simrun/internal/units"
)

// CleanupError reports that a run was marked deleted and persisted, but its
// output directory could not be removed. The status change is not rolled
// back; the directory is orphaned until removed by hand or by retrying Delete.
type CleanupError struct {
	ID  string
	Dir string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("run %s marked deleted but output %s was not removed: %v", e.ID, e.Dir, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// Registry is the run registry. It keeps an in-memory copy of the document
// for reads; every mutation reloads the document from the store, applies the
// change and saves it back before returning.
//
// A Registry assumes it is the only writer of its store.
type Registry struct {
	mu         sync.RWMutex
	store      Store
	doc        *Document
	logger     *slog.Logger
	audit      *logging.AuditLogger
	extensions []string
	dataRoots  []string
	normalizer *units.Normalizer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithAudit records every mutation to al.
func WithAudit(al *logging.AuditLogger) Option {
	return func(r *Registry) { r.audit = al }
}

// WithOutputExtensions sets the file extensions treated as run output.
func WithOutputExtensions(exts ...string) Option {
	return func(r *Registry) { r.extensions = exts }
}

// WithDataRoots restricts Delete to output directories below one of roots.
func WithDataRoots(roots ...string) Option {
	return func(r *Registry) { r.dataRoots = roots }
}

// WithNormalizer sets the unit normalizer used by Settings.
func WithNormalizer(n *units.Normalizer) Option {
	return func(r *Registry) { r.normalizer = n }
}

// Open loads the registry from store. Records written before the status
// field existed are marked active, and the document is saved back if that
// changed anything.
func Open(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:      store,
		extensions: constants.DefaultOutputExtensions,
		normalizer: units.NewNormalizer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)

	doc, migrated, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if migrated > 0 {
		if err := r.store.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("saving migrated registry: %w", err)
		}
		r.logger.Info("registry records given default status", "count", migrated)
	}
	r.doc = doc
	return r, nil
}

// load reads the document and fills in missing statuses. It returns how
// many records were changed.
func (r *Registry) load(ctx context.Context) (*Document, int, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("loading registry: %w", err)
	}
	migrated := 0
	for i := range doc.Runs {
		if doc.Runs[i].Status == "" {
			doc.Runs[i].Status = StatusActive
			migrated++
		}
	}
	return doc, migrated, nil
}

// mutate runs fn against a freshly loaded document and persists the result.
func (r *Registry) mutate(ctx context.Context, fn func(doc *Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, _, err := r.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := r.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("saving registry: %w", err)
	}
	r.doc = doc
	return nil
}

// Reload refreshes the in-memory copy from the store.
func (r *Registry) Reload(ctx context.Context) error {
	doc, _, err := r.load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return nil
}

// Lookup returns a copy of the run with the given id, or nil if there is none.
// Deleted runs are returned too.
func (r *Registry) Lookup(id string) *RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.doc.index(id)
	if i < 0 {
		return nil
	}
	rec := r.doc.Runs[i]
	return &rec
}

// List returns runs in insertion order, leaving out deleted runs unless
// includeDeleted is set.
func (r *Registry) List(includeDeleted bool) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RunRecord, 0, len(r.doc.Runs))
	for _, rec := range r.doc.Runs {
		if !includeDeleted && rec.Status == StatusDeleted {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Add registers a new run. The id is assigned here and is never reused,
// even after the run is deleted.
func (r *Registry) Add(ctx context.Context, rec RunRecord) (RunRecord, error) {
	err := r.mutate(ctx, func(doc *Document) error {
		rec.ID = nextID(doc.Runs)
		rec.Status = StatusActive
		if rec.NumJobs == 0 {
			rec.NumJobs = 1
		}
		if rec.SettingsFile == "" {
			rec.SettingsFile = constants.DefaultSettingsFile
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		doc.Runs = append(doc.Runs, rec)
		return nil
	})
	if err != nil {
		return RunRecord{}, err
	}

	r.logger.Info("run registered", "id", rec.ID, "output_dir", pathutil.RedactPath(rec.OutputDir))
	r.audit.Record("add", map[string]any{"id": rec.ID, "output_dir": rec.OutputDir})
	return rec, nil
}

// SetStatus changes the status of a run without touching its files.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q (valid: active, deleted)", status)
	}

	var prev Status
	err := r.mutate(ctx, func(doc *Document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		prev = doc.Runs[i].Status
		doc.Runs[i].Status = status
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("run status changed", "id", id, "from", prev, "to", status)
	r.audit.Record("status", map[string]any{"id": id, "from": string(prev), "status": string(status)})
	return nil
}

// Delete marks a run deleted, persists the registry, and then removes the
// run's output directory.
//
// The two steps are not atomic. If the process dies after the save, or the
// removal fails, the record stays deleted while its directory remains on
// disk. Removal failures are returned as *CleanupError; calling Delete again
// retries the removal.
func (r *Registry) Delete(ctx context.Context, id string) error {
	var rec RunRecord
	err := r.mutate(ctx, func(doc *Document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		doc.Runs[i].Status = StatusDeleted
		rec = doc.Runs[i]
		return nil
	})
	if err != nil {
		return err
	}
	r.audit.Record("delete", map[string]any{"id": id, "output_dir": rec.OutputDir})

	if err := r.removeOutput(rec); err != nil {
		r.logger.Warn("run marked deleted but output not removed", "id", id, "error", err)
		r.audit.Record("cleanup_failed", map[string]any{"id": id, "output_dir": rec.OutputDir, "error": err.Error()})
		return &CleanupError{ID: id, Dir: rec.OutputDir, Err: err}
	}

	r.logger.Info("run deleted", "id", id)
	return nil
}

func (r *Registry) removeOutput(rec RunRecord) error {
	if rec.OutputDir == "" {
		return nil
	}
	if _, err := os.Stat(rec.OutputDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(r.dataRoots) > 0 {
		if err := pathutil.ValidateRemovable(rec.OutputDir, r.dataRoots); err != nil {
			return err
		}
	}
	return os.RemoveAll(rec.OutputDir)
}

// OutputFiles lists the output files of a run, sorted by name. Deleted or
// unknown runs, and runs whose directory no longer exists, have none.
func (r *Registry) OutputFiles(id string) ([]string, error) {
	rec := r.Lookup(id)
	if rec == nil || rec.Status == StatusDeleted || rec.OutputDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(rec.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing output of %s: %w", id, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !r.isOutput(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(rec.OutputDir, e.Name()))
	}
	return files, nil
}

// FirstOutputFile returns the first output file of a run by name.
func (r *Registry) FirstOutputFile(id string) (string, bool, error) {
	files, err := r.OutputFiles(id)
	if err != nil || len(files) == 0 {
		return "", false, err
	}
	return files[0], true, nil
}

func (r *Registry) isOutput(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range r.extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// SettingsPath returns where the settings document of rec lives: the
// record's settingsFile, relative to its output directory unless absolute.
func SettingsPath(rec RunRecord) string {
	name := rec.SettingsFile
	if name == "" {
		name = constants.DefaultSettingsFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(rec.OutputDir, name)
}

// Settings reads the settings document of a run. It returns nil without an
// error when the run is unknown or deleted, or the document does not exist.
// With normalize set, unit-suffixed values are converted to mm and keV.
func (r *Registry) Settings(id string, normalize bool) (map[string]any, error) {
	rec := r.Lookup(id)
	if rec == nil || rec.Status == StatusDeleted {
		return nil, nil
	}

	path := SettingsPath(*rec)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("settings file absent", "id", id, "path", pathutil.RedactPath(path))
			return nil, nil
		}
		return nil, fmt.Errorf("reading settings of %s: %w", id, err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings of %s: %w", id, err)
	}
	if normalize {
		settings = r.normalizer.Normalize(settings)
	}
	return settings, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
