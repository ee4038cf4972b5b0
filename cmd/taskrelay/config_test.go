// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/taskrelay/internal/testutil"
)

func TestParseFeedConfig(t *testing.T) {
	t.Parallel()

	type summary struct {
		Subreddit    string
		TitlePattern string
		Limit        int
		PollInterval time.Duration
		Backoff      time.Duration
	}
	summarize := func(c feedConfig) summary {
		return summary{c.Subreddit, c.TitlePattern.String(), c.Limit, c.PollInterval, c.Backoff}
	}

	cases := map[string]struct {
		src     string
		want    summary
		wantErr string
	}{
		"empty": {
			src:  "",
			want: summarize(defaultFeedConfig()),
		},
		"everything": {
			src: `
subreddit = "forhire"
title_pattern = r"^\[HIRING\]"
limit = 25
poll_interval = "2m"
backoff = "30s"
`,
			want: summary{"forhire", `(?i)^\[HIRING\]`, 25, 2 * time.Minute, 30 * time.Second},
		},
		"computed values": {
			src: `
sub = "slave" + "labour"
subreddit = sub
limit = 5 * 2
`,
			want: summary{"slavelabour", `(?i)^\[TASK\]`, 10, time.Minute, time.Minute},
		},
		"empty subreddit": {
			src:     `subreddit = ""`,
			wantErr: "subreddit must be a non-empty string",
		},
		"limit too large": {
			src:     `limit = 1000`,
			wantErr: "limit must be an integer between 1 and 100",
		},
		"bad pattern": {
			src:     `title_pattern = "("`,
			wantErr: "title_pattern",
		},
		"bad duration": {
			src:     `poll_interval = "soon"`,
			wantErr: `poll_interval: invalid duration "soon"`,
		},
		"duration not a string": {
			src:     `backoff = 60`,
			wantErr: "backoff must be a duration string",
		},
		"syntax error": {
			src:     `subreddit = `,
			wantErr: "config.star",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := parseFeedConfig(tc.src, t.Logf)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, summarize(c), tc.want)
		})
	}
}

func TestLoadFeedConfigMissing(t *testing.T) {
	t.Parallel()

	c, err := loadFeedConfig(filepath.Join(t.TempDir(), "config.star"), t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c.Subreddit, "slavelabour")
}
