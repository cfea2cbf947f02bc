package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONFileStore keeps the registry in a single JSON document with a
// top-level "runs" array.
type JSONFileStore struct {
	path string
}

// NewJSONFileStore returns a store backed by the file at path. The file is
// created on first Save.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Path returns the backing file path.
func (s *JSONFileStore) Path() string {
	return s.path
}

// Load reads the document. A missing file is an empty registry.
func (s *JSONFileStore) Load(ctx context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{Runs: []RunRecord{}}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", s.path, err)
	}
	if doc.Runs == nil {
		doc.Runs = []RunRecord{}
	}
	return &doc, nil
}

// Save writes the document atomically via temp file + rename.
func (s *JSONFileStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating registry directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing registry temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming registry file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is not held open.
func (s *JSONFileStore) Close() error {
	return nil
}
