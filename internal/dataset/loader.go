package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/logging"
)

// DefaultRadius is the derived transverse hit radius.
var DefaultRadius = Radius{Name: constants.FieldRadius, X: constants.FieldHitX, Y: constants.FieldHitY}

// Loader reads run output files into one Dataset.
type Loader struct {
	// Readers maps lower-case extensions to readers.
	Readers map[string]Reader
	// Workers bounds parallel reads. 1 reads sequentially and values below 1
	// are treated as 1.
	Workers int
	// Derivers run after concatenation.
	Derivers []Deriver
	Logger   *slog.Logger
}

// NewLoader returns a loader with the default readers for tree and the
// default radius derivation.
func NewLoader(tree string, workers int, logger *slog.Logger) *Loader {
	return &Loader{
		Readers:  DefaultReaders(tree),
		Workers:  workers,
		Derivers: []Deriver{DefaultRadius},
		Logger:   logging.OrDiscard(logger),
	}
}

// Load reads every path, concatenates the tables in input order and adds the
// derived fields. Any missing path fails the whole load with ErrNotFound
// before anything is read.
func (l *Loader) Load(ctx context.Context, paths []string) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input files", ErrNotFound)
	}
	logger := logging.OrDiscard(l.Logger)

	readers := make([]Reader, len(paths))
	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			return nil, fmt.Errorf("could not stat %s: %w", p, err)
		}
		r, err := readerFor(l.Readers, p)
		if err != nil {
			return nil, err
		}
		readers[i] = r
	}

	parts := make([]*Dataset, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	workers := l.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ds, err := readers[i].Read(p)
			if err != nil {
				return fmt.Errorf("could not read %s: %w", p, err)
			}
			logger.Debug("read output file", "path", p, "events", ds.Events(), "fields", len(ds.Columns()))
			parts[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds, err := Concat(parts...)
	if err != nil {
		return nil, err
	}
	if err := Derive(ds, l.Derivers...); err != nil {
		return nil, err
	}

	logger.Info("loaded dataset", "files", len(paths), "events", ds.Events())
	return ds, nil
}
