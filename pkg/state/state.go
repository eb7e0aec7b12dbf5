// Package state lays out the runtime folders under a database root.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the canonical runtime folders under one database root.
type Paths struct {
	Root      string
	Store     string
	State     string
	Audit     string
	Retention string
	Tmp       string
}

// PathsFor returns the layout under dbPath without touching the disk.
func PathsFor(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		Root:      dbPath,
		Store:     filepath.Join(dbPath, "store"),
		State:     statePath,
		Audit:     filepath.Join(statePath, "audit"),
		Retention: filepath.Join(statePath, "retention"),
		Tmp:       filepath.Join(statePath, "tmp"),
	}
}

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided DB path. It verifies paths are not symlinks and have
// restrictive permissions, and that they are writable by the process.
func EnsureStateDirs(dbPath string) (Paths, error) {
	p := PathsFor(dbPath)
	for _, dir := range []string{p.Store, p.Audit, p.Retention, p.Tmp} {
		if err := ensureDir(dir); err != nil {
			return p, err
		}
	}
	return p, nil
}

func ensureDir(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("cannot create parent for %s: %w", p, err)
	}
	if err := checkDir(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}
	// re-check after creation
	if err := checkDir(p); err != nil {
		return err
	}
	if err := writable(p); err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	return nil
}

// checkDir rejects symlinks, non-directories and group or other write
// permission.
func checkDir(p string) error {
	fi, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("path is a symlink: %s", p)
	}
	if !fi.IsDir() {
		return fmt.Errorf("path exists and is not a directory: %s", p)
	}
	if fi.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("path has permissive mode (group/other write): %s", p)
	}
	return nil
}
