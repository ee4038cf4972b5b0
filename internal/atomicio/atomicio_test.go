// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package atomicio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.astrophena.name/taskrelay/internal/testutil"
)

func TestWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "keywords.json")

	for _, data := range []string{"first", "second"} {
		if err := WriteFile(file, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(got), "second")

	backups, err := Backups(file)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(backups), 0)

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(entries), 1)
}

func TestWriteFileWithBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "keywords.json")

	const keep = 3
	for i := range 6 {
		if err := WriteFileWithBackups(file, []byte(fmt.Sprint(i)), 0o644, keep); err != nil {
			t.Fatal(err)
		}
	}

	got, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(got), "5")

	backups, err := Backups(file)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(backups), keep)

	// The newest backup holds the contents replaced by the last write.
	last, err := os.ReadFile(backups[len(backups)-1])
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(last), "4")
}

func TestWriteFileMissingDir(t *testing.T) {
	t.Parallel()
	if err := WriteFile(filepath.Join(t.TempDir(), "nope", "file"), nil, 0o644); err == nil {
		t.Fatal("want error for missing directory")
	}
}
