// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package poller selects new feed items whose titles match a pattern and
// formats them as chat notifications.
package poller

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.astrophena.name/taskrelay/internal/util/set"
)

// DefaultTitlePattern matches titles of task posts.
const DefaultTitlePattern = `(?i)^\[TASK\]`

// DefaultLimit is the number of newest items fetched per poll.
const DefaultLimit = 10

// maxMessageLen is the Telegram limit on message length, in runes.
const maxMessageLen = 4096

// MarkedPrefix is prepended to notifications about items matching the user's
// keywords.
const MarkedPrefix = "*[MARKED]* "

// Item is a single feed entry.
type Item struct {
	ID    string // without kind prefix, e.g. "1abcde"
	Title string
	Body  string
}

// Permalink returns the short link to the item.
func (it Item) Permalink() string { return "https://redd.it/" + it.ID }

// Source returns up to limit newest items, newest first.
type Source interface {
	Fetch(ctx context.Context, limit int) ([]Item, error)
}

// Notification is a formatted message about a new item.
type Notification struct {
	Item   Item
	Marked bool
	Text   string
}

// Config configures a [Poller].
type Config struct {
	Source       Source
	TitlePattern *regexp.Regexp // DefaultTitlePattern if nil
	Limit        int            // DefaultLimit if zero
}

// Poller runs poll cycles against a single source.
type Poller struct {
	src   Source
	title *regexp.Regexp
	limit int
}

var defaultTitle = regexp.MustCompile(DefaultTitlePattern)

// New returns a new Poller.
func New(c Config) *Poller {
	return &Poller{
		src:   c.Source,
		title: cmp.Or(c.TitlePattern, defaultTitle),
		limit: cmp.Or(c.Limit, DefaultLimit),
	}
}

// Poll fetches the newest items and calls emit for each item, in feed order,
// that isn't in seen and whose title matches. Emitted item IDs are added to
// seen before emit is called, so an item is never offered twice even if
// delivery fails. If kw is not nil, items whose title or body match it are
// marked.
//
// Poll stops at the first error returned by emit and returns it.
func (p *Poller) Poll(ctx context.Context, seen set.Set[string], kw *regexp.Regexp, emit func(Notification) error) error {
	items, err := p.src.Fetch(ctx, p.limit)
	if err != nil {
		return fmt.Errorf("fetching feed: %w", err)
	}
	if len(items) > p.limit {
		items = items[:p.limit]
	}

	for _, it := range items {
		if seen.Has(it.ID) || !p.title.MatchString(it.Title) {
			continue
		}
		seen.Add(it.ID)

		marked := kw != nil && (kw.MatchString(it.Title) || kw.MatchString(it.Body))
		n := Notification{
			Item:   it,
			Marked: marked,
			Text:   Format(it, marked),
		}
		if err := emit(n); err != nil {
			return err
		}
	}
	return nil
}

// Format formats a notification about it. The body is cut so that the whole
// message fits into a single Telegram message.
func Format(it Item, marked bool) string {
	var prefix string
	if marked {
		prefix = MarkedPrefix
	}
	head := fmt.Sprintf("%s*%s*\n%s\n\n", prefix, it.Title, it.Permalink())
	budget := maxMessageLen - utf8.RuneCountInString(head) - 2 // backticks
	return head + "`" + truncate(it.Body, budget) + "`"
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}
