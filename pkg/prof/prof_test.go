//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")

	s, err := Start(dir)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := Start(dir); !errors.Is(err, ErrActive) {
		t.Errorf("second Start() error = %v, want %v", err, ErrActive)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	for _, name := range append([]string{"cpu"}, Snapshots...) {
		path := filepath.Join(dir, name+".prof")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s: %v", path, err)
		}
	}
}

func TestStart_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Start(filepath.Join(file, "sub")); err == nil {
		t.Error("Start() under a regular file should fail")
	}
}
