package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidateRemovable(t *testing.T) {
	dataRoot := t.TempDir()
	otherRoot := t.TempDir()

	runDir := filepath.Join(dataRoot, "20240601_101500")
	if err := os.MkdirAll(runDir, 0700); err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}

	tests := []struct {
		name        string
		dir         string
		roots       []string
		errContains string
	}{
		{
			name:  "run dir below root",
			dir:   runDir,
			roots: []string{dataRoot},
		},
		{
			name:  "missing dir below root",
			dir:   filepath.Join(dataRoot, "not-yet-written"),
			roots: []string{dataRoot},
		},
		{
			name:  "second root matches",
			dir:   filepath.Join(otherRoot, "r2"),
			roots: []string{dataRoot, otherRoot},
		},
		{
			name:        "root itself",
			dir:         dataRoot,
			roots:       []string{dataRoot},
			errContains: "not below a data root",
		},
		{
			name:        "escape with dot-dot",
			dir:         filepath.Join(runDir, "..", ".."),
			roots:       []string{dataRoot},
			errContains: "not below a data root",
		},
		{
			name:        "other tree",
			dir:         filepath.Join(otherRoot, "r2"),
			roots:       []string{dataRoot},
			errContains: "not below a data root",
		},
		{
			name:        "empty",
			dir:         "",
			roots:       []string{dataRoot},
			errContains: "empty",
		},
		{
			name:        "no roots",
			dir:         runDir,
			roots:       nil,
			errContains: "no data roots",
		},
		{
			name:        "null byte",
			dir:         filepath.Join(dataRoot, "r\x001"),
			roots:       []string{dataRoot},
			errContains: "null byte",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRemovable(tt.dir, tt.roots)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("ValidateRemovable() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateRemovable() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestValidateRemovable_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	dataRoot := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dataRoot, "run_link")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	if err := ValidateRemovable(link, []string{dataRoot}); err == nil {
		t.Error("ValidateRemovable() should reject a symlink pointing outside the data root")
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/data/xenon/sim/20240601_101500", ".../sim/20240601_101500"},
		{"/file.root", "file.root"},
		{"runs/rundb.json", ".../runs/rundb.json"},
		{"rundb.json", "rundb.json"},
		{"/data/xenon/sim/", ".../xenon/sim"},
	}
	for _, tt := range tests {
		if got := RedactPath(tt.input); got != tt.want {
			t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}
	if want := filepath.Join(home, ".simrun"); dir != want {
		t.Errorf("StateDir() = %s, want %s", dir, want)
	}
}
