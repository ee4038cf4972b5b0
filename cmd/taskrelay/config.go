// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/poller"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/session"
	"go.astrophena.name/taskrelay/internal/logger"
)

// feedConfig is loaded from config.star.
type feedConfig struct {
	Subreddit    string
	TitlePattern *regexp.Regexp
	Limit        int
	PollInterval time.Duration
	Backoff      time.Duration
}

func defaultFeedConfig() feedConfig {
	return feedConfig{
		Subreddit:    "slavelabour",
		TitlePattern: regexp.MustCompile(poller.DefaultTitlePattern),
		Limit:        poller.DefaultLimit,
		PollInterval: session.DefaultPollInterval,
		Backoff:      session.DefaultBackoff,
	}
}

// loadFeedConfig reads config.star at path. A missing file means defaults.
func loadFeedConfig(path string, logf logger.Logf) (feedConfig, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultFeedConfig(), nil
	}
	if err != nil {
		return feedConfig{}, err
	}
	return parseFeedConfig(string(b), logf)
}

func parseFeedConfig(src string, logf logger.Logf) (feedConfig, error) {
	c := defaultFeedConfig()

	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { logf("%s", msg) },
		},
		"config.star",
		src,
		nil,
	)
	if err != nil {
		return c, err
	}

	if v, ok := globals["subreddit"]; ok {
		s, ok := starlark.AsString(v)
		if !ok || s == "" {
			return c, errors.New("subreddit must be a non-empty string")
		}
		c.Subreddit = s
	}
	if v, ok := globals["title_pattern"]; ok {
		s, ok := starlark.AsString(v)
		if !ok {
			return c, errors.New("title_pattern must be a string")
		}
		re, err := regexp.Compile("(?i)" + s)
		if err != nil {
			return c, fmt.Errorf("title_pattern: %w", err)
		}
		c.TitlePattern = re
	}
	if v, ok := globals["limit"]; ok {
		var limit int
		if err := starlark.AsInt(v, &limit); err != nil || limit <= 0 || limit > 100 {
			return c, fmt.Errorf("limit must be an integer between 1 and 100, got %s", v)
		}
		c.Limit = limit
	}
	for key, dst := range map[string]*time.Duration{
		"poll_interval": &c.PollInterval,
		"backoff":       &c.Backoff,
	} {
		v, ok := globals[key]
		if !ok {
			continue
		}
		s, ok := starlark.AsString(v)
		if !ok {
			return c, fmt.Errorf("%s must be a duration string like \"60s\"", key)
		}
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return c, fmt.Errorf("%s: invalid duration %q", key, s)
		}
		*dst = d
	}

	return c, nil
}
