// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package reddit reads the "new" listing of a subreddit through its public
// Atom feed.
package reddit

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/poller"
	"go.astrophena.name/taskrelay/internal/request"
)

// DefaultBaseURL is where subreddit feeds are fetched from.
const DefaultBaseURL = "https://www.reddit.com"

// Source is a [poller.Source] for a single subreddit.
type Source struct {
	Subreddit  string
	BaseURL    string       // DefaultBaseURL if empty
	HTTPClient *http.Client // request.DefaultClient if nil
	Logger     *slog.Logger // slog.Default() if nil
}

var _ poller.Source = (*Source)(nil)

// FeedURL returns the URL of the feed with up to limit newest posts.
func (s *Source) FeedURL(limit int) string {
	base := strings.TrimSuffix(cmp.Or(s.BaseURL, DefaultBaseURL), "/")
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	return base + "/r/" + url.PathEscape(s.Subreddit) + "/new/.rss?" + q.Encode()
}

// Fetch implements [poller.Source].
func (s *Source) Fetch(ctx context.Context, limit int) ([]poller.Item, error) {
	u := s.FeedURL(limit)
	b, err := request.Make[request.Bytes](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        u,
		Headers:    map[string]string{"Accept": "application/atom+xml"},
		HTTPClient: s.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", u, err)
	}

	log := cmp.Or(s.Logger, slog.Default())
	log.Debug("fetched feed", "feed", u, "items", len(feed.Items))

	items := make([]poller.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		id := itemID(fi)
		if id == "" {
			log.Debug("skipping item without ID", "title", fi.Title)
			continue
		}
		items = append(items, poller.Item{
			ID:    id,
			Title: strings.TrimSpace(fi.Title),
			Body:  extractBody(cmp.Or(fi.Content, fi.Description)),
		})
	}
	return items, nil
}

func itemID(fi *gofeed.Item) string {
	if id, ok := strings.CutPrefix(fi.GUID, "t3_"); ok {
		return id
	}
	// Fall back to the permalink: https://www.reddit.com/r/<sub>/comments/<id>/<slug>/.
	if u, err := url.Parse(fi.Link); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, p := range parts {
			if p == "comments" && i+1 < len(parts) {
				return parts[i+1]
			}
		}
	}
	return fi.GUID
}

// extractBody returns the text of the post body from entry HTML. Reddit wraps
// the self text in <div class="md">; link posts have none.
func extractBody(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	if md := doc.Find("div.md"); md.Length() > 0 {
		return strings.TrimSpace(md.First().Text())
	}
	return strings.TrimSpace(doc.Text())
}
