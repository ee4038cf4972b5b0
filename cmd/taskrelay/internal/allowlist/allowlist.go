// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package allowlist checks usernames against an operator-maintained file.
package allowlist

import (
	"os"
	"strings"

	"go.astrophena.name/taskrelay/internal/atomicio"
	"go.astrophena.name/taskrelay/internal/util/set"
)

// File is an allow-list stored as a text file with one Telegram username per
// line. Blank lines and lines starting with # are ignored, a leading @ is
// optional. The file is read on every check, so edits take effect
// immediately.
type File struct {
	Path string
}

// Load returns the normalized usernames in the file.
func (f *File) Load() (set.Set[string], error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return Parse(b), nil
}

// Parse parses the contents of an allow-list file.
func Parse(b []byte) set.Set[string] {
	var names []string
	for line := range strings.Lines(string(b)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, normalize(line))
	}
	return set.NewFromSlice(names...)
}

// Save replaces the file contents with names, normalized and sorted.
func (f *File) Save(names []string) error {
	users := set.New[string](len(names))
	for _, name := range names {
		if name = normalize(name); name != "" {
			users.Add(name)
		}
	}
	var sb strings.Builder
	for _, name := range users.ToSortedSlice() {
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	return atomicio.WriteFile(f.Path, []byte(sb.String()), 0o600)
}

// Allowed reports whether username is in the allow-list. Users without a
// username are never allowed.
func (f *File) Allowed(username string) (bool, error) {
	username = normalize(username)
	if username == "" {
		return false, nil
	}
	users, err := f.Load()
	if err != nil {
		return false, err
	}
	return users.Has(username), nil
}

// Telegram usernames are case-insensitive.
func normalize(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
