// Package fileutil provides small filesystem helpers shared across the
// pipeline: directory creation, writability probing, and cleanup.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates path (and parents) when missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}

// WritableDir reports whether path is an existing directory the process can
// write to, verified with a throwaway probe file.
func WritableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(path, ".write_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

// FirstWritableDir creates each candidate as needed and returns the first
// one that accepts writes.
func FirstWritableDir(candidates []string) (string, error) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		_ = os.MkdirAll(candidate, 0o755)
		if WritableDir(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no writable directory among %d candidates", len(candidates))
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return err
}
