// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.astrophena.name/taskrelay/internal/atomicio"
)

// jsonBackups is how many previous versions of the file JSONFile keeps.
const jsonBackups = 3

// JSONFile is a file-backed implementation of the [Store] interface. The whole
// file is rewritten atomically on every Set.
type JSONFile struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage
}

// NewJSONFile creates a new [JSONFile] backed by the file at path. The file is
// created on the first Set if it doesn't exist.
func NewJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{
		path: path,
		data: make(map[string]json.RawMessage),
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Get retrieves a value for a given key.
func (s *JSONFile) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

// Set stores a value for a given key. The value must be valid JSON so that
// the file stays readable.
func (s *JSONFile) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for key %q is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	s.data[key] = append(json.RawMessage{}, value...)

	b, err := json.Marshal(s.data)
	if err == nil {
		err = atomicio.WriteFileWithBackups(s.path, b, 0o600, jsonBackups)
	}
	if err != nil {
		// Keep memory in sync with what is on disk.
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Close closes the file store.
func (s *JSONFile) Close() error { return nil }
