// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package keywords keeps per-user keyword lists used to mark interesting
// posts.
package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.astrophena.name/taskrelay/internal/store"
)

var (
	// ErrBlank is returned when a keyword is empty after trimming.
	ErrBlank = errors.New("blank keyword")
	// ErrExists is returned when adding a keyword that is already in the list.
	ErrExists = errors.New("keyword already in the list")
	// ErrNotFound is returned when removing a keyword that is not in the list.
	ErrNotFound = errors.New("keyword not found")
)

// Store persists keyword lists in a key-value store, one record per user.
type Store struct {
	kv store.Store
	// Serializes read-modify-write cycles.
	mu sync.Mutex
}

// New returns a Store on top of kv.
func New(kv store.Store) *Store {
	return &Store{kv: kv}
}

func key(userID int64) string { return "keywords/" + strconv.FormatInt(userID, 10) }

// Normalize returns the stored form of a keyword.
func Normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// List returns the user's keywords in insertion order. It returns nil if the
// user never added any.
func (s *Store) List(ctx context.Context, userID int64) ([]string, error) {
	b, err := s.kv.Get(ctx, key(userID))
	if err != nil {
		return nil, fmt.Errorf("reading keywords of %d: %w", userID, err)
	}
	if b == nil {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decoding keywords of %d: %w", userID, err)
	}
	return list, nil
}

// Add appends a keyword to the user's list and returns its stored form.
func (s *Store) Add(ctx context.Context, userID int64, value string) (string, error) {
	kw := Normalize(value)
	if kw == "" {
		return "", ErrBlank
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.List(ctx, userID)
	if err != nil {
		return kw, err
	}
	if slices.Contains(list, kw) {
		return kw, ErrExists
	}
	return kw, s.save(ctx, userID, append(list, kw))
}

// Remove removes a keyword from the user's list and returns its stored form.
func (s *Store) Remove(ctx context.Context, userID int64, value string) (string, error) {
	kw := Normalize(value)
	if kw == "" {
		return "", ErrBlank
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.List(ctx, userID)
	if err != nil {
		return kw, err
	}
	i := slices.Index(list, kw)
	if i < 0 {
		return kw, ErrNotFound
	}
	return kw, s.save(ctx, userID, slices.Delete(list, i, i+1))
}

func (s *Store) save(ctx context.Context, userID int64, list []string) error {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key(userID), b); err != nil {
		return fmt.Errorf("saving keywords of %d: %w", userID, err)
	}
	return nil
}

// Pattern returns a case-insensitive pattern matching any of the keywords as
// a whole word, or nil if list is empty. Keywords match literally. A keyword
// edge that is a symbol, as in "c++" or ".net", must sit next to a non-word
// character or the start or end of the text.
func Pattern(list []string) *regexp.Regexp {
	if len(list) == 0 {
		return nil
	}
	alts := make([]string, len(list))
	for i, kw := range list {
		before, after := `(?:^|\W)`, `(?:\W|$)`
		if kw != "" && isWordByte(kw[0]) {
			before = `\b`
		}
		if kw != "" && isWordByte(kw[len(kw)-1]) {
			after = `\b`
		}
		alts[i] = before + regexp.QuoteMeta(kw) + after
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

// isWordByte reports whether c belongs to the \w class.
func isWordByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
