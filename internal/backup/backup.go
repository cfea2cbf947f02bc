// Package backup snapshots the run registry to compressed, checksummed files
// and restores it from them.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/simrun/internal/pathutil"
	"github.com/nvandessel/simrun/internal/registry"
)

const (
	filePrefix = "rundb-"
	fileSuffix = ".snap"
)

// DefaultDir returns ~/.simrun/backups.
func DefaultDir() (string, error) {
	dir, err := pathutil.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "backups"), nil
}

// Path returns the snapshot file name for time t in dir. Names sort by time.
func Path(dir string, t time.Time) string {
	return filepath.Join(dir, filePrefix+t.UTC().Format("20060102-150405.000000000")+fileSuffix)
}

// Backup writes the current contents of store to a new snapshot in dir.
func Backup(ctx context.Context, store registry.Store, dir string) (string, *Header, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("loading registry: %w", err)
	}

	now := time.Now()
	path := Path(dir, now)
	header, err := Write(path, doc, now)
	if err != nil {
		return "", nil, err
	}
	return path, header, nil
}

// Restore replaces the contents of store with the snapshot at path and
// returns the number of runs restored. Output directories are not touched.
func Restore(ctx context.Context, store registry.Store, path string) (int, error) {
	doc, _, err := Read(path)
	if err != nil {
		return 0, err
	}
	for _, r := range doc.Runs {
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("snapshot run %s: %w", r.ID, err)
		}
	}
	if err := store.Save(ctx, doc); err != nil {
		return 0, fmt.Errorf("saving registry: %w", err)
	}
	return len(doc.Runs), nil
}

// Info describes one snapshot file.
type Info struct {
	Path string
	Size int64
}

// List returns the snapshots in dir, newest first. A missing dir has none.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(dir, name), Size: fi.Size()})
	}

	sort.Slice(out, func(i, j int) bool {
		return filepath.Base(out[i].Path) > filepath.Base(out[j].Path)
	})
	return out, nil
}

// Rotate keeps the keep newest snapshots in dir and removes the rest.
func Rotate(dir string, keep int) ([]string, error) {
	snaps, err := List(dir)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var removed []string
	for _, s := range snaps[keep:] {
		if err := os.Remove(s.Path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
		}
		removed = append(removed, s.Path)
	}
	return removed, nil
}
