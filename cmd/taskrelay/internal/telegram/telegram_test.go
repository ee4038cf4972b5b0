// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram/telegramtest"
	"go.astrophena.name/taskrelay/internal/testutil"
)

func TestDeliver(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		setup         func(*telegramtest.Server)
		wantErr       error
		wantParseMode string
		wantSent      int
	}{
		"markdown": {
			wantParseMode: "Markdown",
			wantSent:      1,
		},
		"falls back to plain text": {
			setup:         func(s *telegramtest.Server) { s.RejectMarkup(true) },
			wantParseMode: "",
			wantSent:      1,
		},
		"forbidden": {
			setup:   func(s *telegramtest.Server) { s.Forbid(42) },
			wantErr: telegram.ErrForbidden,
		},
		"rate limited": {
			setup:         func(s *telegramtest.Server) { s.RateLimit(2) },
			wantParseMode: "Markdown",
			wantSent:      1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := telegramtest.New(t)
			if tc.setup != nil {
				tc.setup(srv)
			}

			err := srv.Client().Deliver(context.Background(), 42, "*[TASK] write a bot*")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}

			sent := srv.Sent()
			testutil.AssertEqual(t, len(sent), tc.wantSent)
			if tc.wantSent > 0 {
				testutil.AssertEqual(t, sent[0], telegramtest.SentMessage{
					ChatID:    42,
					Text:      "*[TASK] write a bot*",
					ParseMode: tc.wantParseMode,
				})
			}
		})
	}
}

func TestRateLimitGivesUp(t *testing.T) {
	t.Parallel()
	srv := telegramtest.New(t)
	srv.RateLimit(10)
	err := srv.Client().SendMessage(context.Background(), 42, "hello", false)
	if err == nil {
		t.Fatal("want error after exhausting retries")
	}
	testutil.AssertEqual(t, len(srv.Sent()), 0)
}

func TestGetMeAndCommands(t *testing.T) {
	t.Parallel()
	srv := telegramtest.New(t)
	c := srv.Client()

	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, me.Username, telegramtest.BotUsername)

	cmds := []telegram.BotCommand{{Command: "start", Description: "Start receiving tasks"}}
	if err := c.SetMyCommands(context.Background(), cmds); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, srv.Commands(), cmds)
}

func TestGetUpdates(t *testing.T) {
	t.Parallel()
	srv := telegramtest.New(t)
	c := srv.Client()

	user := telegram.User{ID: 7, FirstName: "Ann", Username: "ann"}
	srv.QueueUpdate(user, "/start")
	srv.QueueUpdate(user, "/stop")

	updates, err := c.GetUpdates(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(updates), 2)
	testutil.AssertEqual(t, updates[0].Message.Text, "/start")
	testutil.AssertEqual(t, *updates[0].Message.From, user)

	updates, err = c.GetUpdates(context.Background(), updates[1].UpdateID+1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(updates), 0)
}

func TestTokenScrubbed(t *testing.T) {
	t.Parallel()
	c := telegram.New(telegram.Config{Token: "secret-token", BaseURL: "http://127.0.0.1:1"})
	err := c.SendMessage(context.Background(), 1, "hello", false)
	if err == nil {
		t.Fatal("want connection error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error %q leaks token", err)
	}
}
