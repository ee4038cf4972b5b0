// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/tools/txtar"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/session"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram/telegramtest"
	"go.astrophena.name/taskrelay/internal/cli"
	"go.astrophena.name/taskrelay/internal/cli/clitest"
	"go.astrophena.name/taskrelay/internal/filelock"
	"go.astrophena.name/taskrelay/internal/testutil"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>newest submissions : tasks</title>
  <entry>
    <content type="html">&lt;div class=&quot;md&quot;&gt;&lt;p&gt;Write a Python script.&lt;/p&gt;&lt;/div&gt;</content>
    <id>t3_abc123</id>
    <link href="https://www.reddit.com/r/tasks/comments/abc123/task_script/" />
    <updated>2025-05-04T10:14:00+00:00</updated>
    <title>[TASK] Script</title>
  </entry>
  <entry>
    <content type="html">&lt;div class=&quot;md&quot;&gt;&lt;p&gt;I draw.&lt;/p&gt;&lt;/div&gt;</content>
    <id>t3_def456</id>
    <link href="https://www.reddit.com/r/tasks/comments/def456/offer_drawing/" />
    <updated>2025-05-04T10:10:00+00:00</updated>
    <title>[OFFER] Drawing</title>
  </entry>
</feed>
`

var (
	alice = telegram.User{ID: 100, FirstName: "Alice", Username: "alice"}
	bob   = telegram.User{ID: 200, FirstName: "Bob", Username: "bob"}
)

func TestCLI(t *testing.T) {
	clitest.Run(t, func(t *testing.T) *app { return new(app) }, map[string]clitest.Case[*app]{
		"no token": {
			Args:    []string{"-envfile", "$TEMPDIR/.env"},
			WantErr: cli.ErrInvalidArgs,
		},
		"version": {
			Args:    []string{"-version"},
			WantErr: cli.ErrExitVersion,
		},
		"unknown flag": {
			Args:         []string{"-foo"},
			WantInStderr: "flag provided but not defined: -foo",
		},
		"unknown store": {
			Args:            []string{"-state", "$TEMPDIR", "-store", "redis"},
			Env:             map[string]string{"TELEGRAM_TOKEN": telegramtest.Token},
			WantErrContains: `unknown store kind "redis"`,
		},
		"bad config": {
			Args:            []string{"-state", "$TEMPDIR"},
			Env:             map[string]string{"TELEGRAM_TOKEN": telegramtest.Token},
			Files:           map[string]string{"config.star": `limit = "ten"`},
			WantErrContains: "loading config.star: limit must be an integer",
		},
		"token from envfile": {
			Args:            []string{"-state", "$TEMPDIR", "-envfile", "$TEMPDIR/.env", "-store", "redis"},
			Files:           map[string]string{".env": "TELEGRAM_TOKEN=" + telegramtest.Token + "\n"},
			WantErrContains: "redis",
		},
		"state from environment": {
			Args:            []string{"-store", "redis"},
			Env:             map[string]string{"TELEGRAM_TOKEN": telegramtest.Token, "STATE_DIRECTORY": "$TEMPDIR/state"},
			WantErrContains: "redis",
			CheckFunc: func(t *testing.T, a *app, dir string) {
				testutil.AssertEqual(t, a.stateDir, filepath.Join(dir, "state"))
				if _, err := os.Stat(filepath.Join(dir, "state", "taskrelay.log")); err != nil {
					t.Errorf("log file: %v", err)
				}
			},
		},
	})
}

func TestStateDirectoryLocked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lock, err := filelock.Acquire(filepath.Join(dir, "taskrelay.lock"))
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	a := &app{tgBaseURL: telegramtest.New(t).URL}
	err = cli.Run(cli.WithEnv(context.Background(), testEnv(t, "-state", dir)), a)
	if !errors.Is(err, filelock.ErrLocked) {
		t.Fatalf("want %v, got %v", filelock.ErrLocked, err)
	}
}

func TestBot(t *testing.T) {
	t.Parallel()

	tg := telegramtest.New(t)

	var feedRequests atomic.Int32
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/tasks/new/.rss" {
			http.NotFound(w, r)
			return
		}
		feedRequests.Add(1)
		w.Header().Set("Content-Type", "application/atom+xml")
		io.WriteString(w, feedXML)
	}))
	t.Cleanup(feed.Close)

	ar, err := txtar.ParseFile(filepath.Join("testdata", "state.txtar"))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	testutil.ExtractTxtar(t, ar, dir)

	adminAddr := make(chan string, 1)
	a := &app{
		tgBaseURL:     tg.URL,
		redditBaseURL: feed.URL,
		pollTimeout:   time.Second,
		retryDelay:    10 * time.Millisecond,
		adminReady:    func(addr string) { adminAddr <- addr },
	}
	env := testEnv(t,
		"-state", dir,
		"-store", "json",
		"-envfile", filepath.Join(dir, ".env"),
		"-admin-addr", "127.0.0.1:0",
		"-v",
	)
	env.Getenv = func(string) string { return "" }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cli.Run(cli.WithEnv(ctx, env), a) }()

	var addr string
	select {
	case addr = <-adminAddr:
	case err := <-done:
		t.Fatalf("bot exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("admin API didn't start")
	}

	tg.QueueUpdate(alice, "/start")
	waitFor(t, tg, alice.ID, welcomeMessage)
	task := waitFor(t, tg, alice.ID, "*[TASK] Script*\nhttps://redd.it/abc123")
	if strings.Contains(task.Text, "[MARKED]") {
		t.Errorf("task without keywords is marked: %q", task.Text)
	}

	var sessions []session.Info
	getJSON(t, "http://"+addr+"/api/sessions", &sessions)
	if len(sessions) != 1 || sessions[0].UserID != alice.ID {
		t.Fatalf("want one session of alice, got %+v", sessions)
	}

	tg.QueueUpdate(bob, "/start")
	waitFor(t, tg, bob.ID, "Send a message to @owner to request access.")

	tg.QueueUpdate(alice, "/start@"+telegramtest.BotUsername)
	waitFor(t, tg, alice.ID, alreadyStarted)

	tg.QueueUpdate(alice, "/add_keyword  Python ")
	waitFor(t, tg, alice.ID, "Keyword python added")
	tg.QueueUpdate(alice, "/add_keyword PYTHON")
	waitFor(t, tg, alice.ID, "Keyword python already in the list.")
	tg.QueueUpdate(alice, "/list_keywords")
	waitFor(t, tg, alice.ID, "Keywords list:\npython")

	tg.QueueUpdate(alice, "/stop")
	waitFor(t, tg, alice.ID, stopped)
	tg.QueueUpdate(alice, "/stop")
	waitFor(t, tg, alice.ID, notRunning)

	tg.QueueUpdate(alice, "/whatever")
	waitFor(t, tg, alice.ID, "Available commands:")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("bot exited with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("bot didn't shut down")
	}

	// Exactly one notification per post, however many polls happened.
	var notifications int
	for _, m := range tg.Sent() {
		if strings.Contains(m.Text, "https://redd.it/") {
			notifications++
		}
	}
	testutil.AssertEqual(t, notifications, 1)
	if feedRequests.Load() == 0 {
		t.Error("feed was never fetched")
	}
	testutil.AssertEqual(t, len(tg.Commands()), len(commands))

	b, err := os.ReadFile(filepath.Join(dir, "taskrelay.json"))
	if err != nil {
		t.Fatal(err)
	}
	state := testutil.UnmarshalJSON[map[string][]string](t, b)
	testutil.AssertEqual(t, state["keywords/100"], []string{"python"})

	if _, err := os.Stat(filepath.Join(dir, "taskrelay.log")); err != nil {
		t.Errorf("log file: %v", err)
	}
}

func testEnv(t *testing.T, args ...string) *cli.Env {
	t.Helper()
	return &cli.Env{
		Args: args,
		Getenv: func(key string) string {
			if key == "TELEGRAM_TOKEN" {
				return telegramtest.Token
			}
			return ""
		},
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

// waitFor waits until a message containing substr is sent to chatID.
func waitFor(t *testing.T, tg *telegramtest.Server, chatID int64, substr string) telegramtest.SentMessage {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		for _, m := range tg.Sent() {
			if m.ChatID == chatID && strings.Contains(m.Text, substr) {
				return m
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in chat %d, sent: %+v", substr, chatID, tg.Sent())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}
