// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements a key-value store kept in memory, in a JSON file or
// in a SQLite database.
package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store is a generic interface for a key-value store.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}

// Kinds of stores accepted by [Open].
const (
	KindSQLite = "sqlite"
	KindJSON   = "json"
	KindMem    = "mem"
)

// Open opens a store of the given kind inside dir. An empty kind means
// [KindSQLite].
func Open(ctx context.Context, kind, dir string) (Store, error) {
	switch kind {
	case KindSQLite, "":
		return NewSQLiteStore(ctx, filepath.Join(dir, "taskrelay.db"))
	case KindJSON:
		return NewJSONFile(filepath.Join(dir, "taskrelay.json"))
	case KindMem:
		return NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown store kind %q (want %q, %q or %q)", kind, KindSQLite, KindJSON, KindMem)
}
