// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio writes files atomically, optionally keeping backups of the
// replaced contents.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const backupTimeFormat = "20060102150405.000000000"

// WriteFile replaces the contents of name with data. Readers observe either
// the old or the new contents, never a partial write.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return write(name, data, perm, 0)
}

// WriteFileWithBackups is like [WriteFile], but moves the previous contents to
// a timestamped name.bak file first and keeps at most keep such backups.
func WriteFileWithBackups(name string, data []byte, perm fs.FileMode, keep int) error {
	if keep <= 0 {
		return WriteFile(name, data, perm)
	}
	return write(name, data, perm, keep)
}

func write(name string, data []byte, perm fs.FileMode, keep int) (err error) {
	// Same directory, so os.Rename stays on one filesystem.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if keep > 0 {
		if err := backup(name); err != nil {
			return err
		}
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}

	if keep > 0 {
		return pruneBackups(name, keep)
	}
	return nil
}

func backup(name string) error {
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	backupName := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
	return os.WriteFile(backupName, data, 0o600)
}

// Backups returns the backups of name, oldest first.
func Backups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	slices.Sort(backups)
	return backups, nil
}

func pruneBackups(name string, keep int) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
