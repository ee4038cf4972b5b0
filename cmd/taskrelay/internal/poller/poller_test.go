// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poller

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"go.astrophena.name/taskrelay/internal/testutil"
	"go.astrophena.name/taskrelay/internal/util/set"
)

type staticSource struct {
	items []Item
	err   error
	limit int
}

func (s *staticSource) Fetch(_ context.Context, limit int) ([]Item, error) {
	s.limit = limit
	return s.items, s.err
}

func collect(t *testing.T, p *Poller, seen set.Set[string], kw *regexp.Regexp) []Notification {
	t.Helper()
	var got []Notification
	if err := p.Poll(context.Background(), seen, kw, func(n Notification) error {
		got = append(got, n)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return got
}

func TestPollDedup(t *testing.T) {
	t.Parallel()

	src := &staticSource{items: []Item{
		{ID: "1", Title: "[Task] clean my code"},
		{ID: "2", Title: "no prefix here"},
	}}
	p := New(Config{Source: src})
	seen := set.New[string](0)

	got := collect(t, p, seen, nil)
	testutil.AssertEqual(t, len(got), 1)
	testutil.AssertEqual(t, got[0].Item.ID, "1")
	testutil.AssertEqual(t, got[0].Text, "*[Task] clean my code*\nhttps://redd.it/1\n\n``")
	testutil.AssertEqual(t, src.limit, DefaultLimit)

	testutil.AssertEqual(t, len(collect(t, p, seen, nil)), 0)
	testutil.AssertEqual(t, seen.ToSortedSlice(), []string{"1"})
}

func TestPollMarked(t *testing.T) {
	t.Parallel()

	src := &staticSource{items: []Item{
		{ID: "a", Title: "[TASK] need a script", Body: "Python script needed"},
		{ID: "b", Title: "[TASK] logo design", Body: "Simple vector logo"},
	}}
	p := New(Config{Source: src})
	kw := regexp.MustCompile(`(?i)\b(python)\b`)

	got := collect(t, p, set.New[string](0), kw)
	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, got[0].Marked, true)
	if !strings.HasPrefix(got[0].Text, MarkedPrefix) {
		t.Errorf("marked notification %q lacks prefix", got[0].Text)
	}
	testutil.AssertEqual(t, got[1].Marked, false)
	if strings.Contains(got[1].Text, "[MARKED]") {
		t.Errorf("unmarked notification %q has prefix", got[1].Text)
	}
}

func TestPollLimitAndPattern(t *testing.T) {
	t.Parallel()

	src := &staticSource{items: []Item{
		{ID: "1", Title: "[HIRING] one"},
		{ID: "2", Title: "[HIRING] two"},
		{ID: "3", Title: "[HIRING] three"},
	}}
	p := New(Config{
		Source:       src,
		TitlePattern: regexp.MustCompile(`(?i)^\[hiring\]`),
		Limit:        2,
	})
	got := collect(t, p, set.New[string](0), nil)
	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, src.limit, 2)
}

func TestPollErrors(t *testing.T) {
	t.Parallel()

	t.Run("fetch", func(t *testing.T) {
		errFeed := errors.New("503 Service Unavailable")
		p := New(Config{Source: &staticSource{err: errFeed}})
		err := p.Poll(context.Background(), set.New[string](0), nil, func(Notification) error { return nil })
		if !errors.Is(err, errFeed) {
			t.Fatalf("want %v, got %v", errFeed, err)
		}
	})

	t.Run("emit stops the cycle", func(t *testing.T) {
		errSend := errors.New("blocked")
		p := New(Config{Source: &staticSource{items: []Item{
			{ID: "1", Title: "[TASK] one"},
			{ID: "2", Title: "[TASK] two"},
		}}})
		seen := set.New[string](0)
		var calls int
		err := p.Poll(context.Background(), seen, nil, func(Notification) error {
			calls++
			return errSend
		})
		if !errors.Is(err, errSend) {
			t.Fatalf("want %v, got %v", errSend, err)
		}
		testutil.AssertEqual(t, calls, 1)
		testutil.AssertEqual(t, seen.ToSortedSlice(), []string{"1"})
	})
}

func TestFormatTruncatesBody(t *testing.T) {
	t.Parallel()
	it := Item{ID: "x", Title: "[TASK] long", Body: strings.Repeat("я", 10000)}
	text := Format(it, true)
	if n := utf8.RuneCountInString(text); n > maxMessageLen {
		t.Fatalf("message has %d runes, want at most %d", n, maxMessageLen)
	}
	if !strings.HasSuffix(text, "…`") {
		t.Fatalf("truncated body must end with an ellipsis, got %q", text[len(text)-10:])
	}
}
