// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/admin"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/allowlist"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/keywords"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/poller"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/reddit"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/session"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
	"go.astrophena.name/taskrelay/internal/cli"
	"go.astrophena.name/taskrelay/internal/filelock"
	"go.astrophena.name/taskrelay/internal/httplogger"
	"go.astrophena.name/taskrelay/internal/logger"
	"go.astrophena.name/taskrelay/internal/request"
	"go.astrophena.name/taskrelay/internal/store"
	"go.astrophena.name/taskrelay/internal/systemd"
	"go.astrophena.name/taskrelay/internal/util/syncx"
	"go.astrophena.name/taskrelay/internal/web"
)

const logBufferLines = 1000

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	adminAddr string
	allowlist string
	envFile   string
	stateDir  string
	storeKind string
	verbose   bool

	// loaded from environment
	tgToken string
	tgOwner string

	// for tests
	tgBaseURL     string
	redditBaseURL string
	httpc         *http.Client
	pollTimeout   time.Duration
	retryDelay    time.Duration
	adminReady    func(addr string)
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.adminAddr, "admin-addr", "", "Serve the admin API on `host:port`.")
	fs.StringVar(&a.allowlist, "allowlist", "", "Path to the allow-list `file`.")
	fs.StringVar(&a.envFile, "envfile", ".env", "Load environment variables from `file` if it exists.")
	fs.StringVar(&a.stateDir, "state", "", "State `directory`.")
	fs.StringVar(&a.storeKind, "store", "", "Keyword `store`: sqlite, json or mem.")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	dotenv, err := godotenv.Read(a.envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", a.envFile, err)
	}
	getenv := func(key string) string { return cmp.Or(env.Getenv(key), dotenv[key]) }

	// Load configuration from environment variables.
	a.tgToken = getenv("TELEGRAM_TOKEN")
	if a.tgToken == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is not set", cli.ErrInvalidArgs)
	}
	a.tgOwner = getenv("TELEGRAM_OWNER")
	a.adminAddr = cmp.Or(a.adminAddr, getenv("ADMIN_ADDR"))
	a.storeKind = cmp.Or(a.storeKind, getenv("STORE"), store.KindSQLite)
	a.stateDir = cmp.Or(a.stateDir, getenv("STATE_DIRECTORY"))
	if a.stateDir == "" {
		xdgStateHome := getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		a.stateDir = filepath.Join(xdgStateHome, "taskrelay")
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return err
	}
	lock, err := filelock.Acquire(filepath.Join(a.stateDir, "taskrelay.lock"))
	if err != nil {
		return fmt.Errorf("state directory is in use: %w", err)
	}
	defer lock.Release()
	a.allowlist = cmp.Or(a.allowlist, getenv("ALLOWED_USERS"), filepath.Join(a.stateDir, "allowed_users.txt"))

	// Set up logging.
	logFile, err := os.OpenFile(filepath.Join(a.stateDir, "taskrelay.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()
	streamer := logger.NewStreamer(logBufferLines)
	l := logger.New(io.MultiWriter(env.Stderr, logFile, streamer))
	if a.verbose {
		l.Level.Set(slog.LevelDebug)
	}
	ctx = logger.Put(ctx, l)

	fc, err := loadFeedConfig(filepath.Join(a.stateDir, "config.star"), env.Logf)
	if err != nil {
		return fmt.Errorf("loading config.star: %w", err)
	}

	kv, err := store.Open(ctx, a.storeKind, a.stateDir)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.storeKind, err)
	}
	defer kv.Close()

	scrubber := strings.NewReplacer(a.tgToken, "[EXPUNGED]")
	httpc := a.httpClient(l.Logger, scrubber)

	tg := telegram.New(telegram.Config{
		Token:      a.tgToken,
		BaseURL:    a.tgBaseURL,
		HTTPClient: httpc,
		Logger:     l.Logger,
	})
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking Telegram token: %w", err)
	}
	if err := tg.SetMyCommands(ctx, commands); err != nil {
		l.Warn("unable to set command menu", "err", err)
	}

	allow := &allowlist.File{Path: a.allowlist}
	if _, err := allow.Load(); err != nil {
		l.Warn("unable to read the allow-list, nobody can start a session until it's fixed", "path", a.allowlist, "err", err)
	}
	kw := keywords.New(kv)
	feed := poller.New(poller.Config{
		Source: &reddit.Source{
			Subreddit:  fc.Subreddit,
			BaseURL:    a.redditBaseURL,
			HTTPClient: httpc,
			Logger:     l.Logger,
		},
		TitlePattern: fc.TitlePattern,
		Limit:        fc.Limit,
	})
	sd := systemd.New(env.Getenv, l.Logger)
	var sup *session.Supervisor
	sup = session.New(session.Config{
		Allowlist:    allow,
		Keywords:     kw,
		Feed:         feed,
		Messenger:    tg,
		Logger:       l.Logger,
		PollInterval: fc.PollInterval,
		Backoff:      fc.Backoff,
		Welcome:      welcomeMessage,
		Denied:       deniedMessage(a.tgOwner),
		StorageError: storageErrorMessage,
		OnEnd: func(info session.Info, reason session.Reason) {
			if reason != session.StoppedByUser {
				l.Warn("session ended without /stop", "user_id", info.UserID, "username", info.Username, "reason", reason)
			}
			sd.Notify(sessionsStatus(sup))
		},
	})
	defer sup.Shutdown()

	b := &bot{
		tg:          tg,
		sup:         sup,
		kw:          kw,
		log:         l.Logger,
		name:        me.Username,
		owner:       a.tgOwner,
		pollTimeout: cmp.Or(a.pollTimeout, 50*time.Second),
		retryDelay:  cmp.Or(a.retryDelay, 5*time.Second),
		status:      syncx.Protect(new(pollStatus)),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adminDone chan error
	if a.adminAddr != "" {
		health := web.NewHealth()
		health.RegisterFunc("telegram", b.health)
		health.RegisterFunc("sessions", func() (string, bool) {
			return fmt.Sprintf("%d running", len(sup.Sessions())), true
		})
		adminDone = make(chan error, 1)
		go func() {
			err := web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr: a.adminAddr,
				Handler: admin.Handler(admin.Config{
					Sessions:  sup,
					Keywords:  kw,
					Allowlist: allow,
					Health:    health,
					Logs:      streamer,
				}),
				Logf:  func(format string, args ...any) { l.Info(fmt.Sprintf(format, args...)) },
				Ready: a.adminReady,
			})
			if err != nil {
				cancel()
			}
			adminDone <- err
		}()
	}

	go sd.WatchdogLoop(ctx)
	sd.Notify(systemd.Ready, sessionsStatus(sup))

	l.Info("bot started",
		"bot", me.Username,
		"subreddit", fc.Subreddit,
		"store", a.storeKind,
		"state_dir", a.stateDir,
		"poll_interval", fc.PollInterval,
	)
	err = b.run(ctx)
	cancel()

	l.Info("shutting down", "sessions", len(sup.Sessions()))
	sd.Notify(systemd.Stopping)
	sup.Shutdown()
	if adminDone != nil {
		if aerr := <-adminDone; aerr != nil {
			err = errors.Join(err, fmt.Errorf("admin API: %w", aerr))
		}
	}
	return err
}

func (a *app) httpClient(l *slog.Logger, scrubber *strings.Replacer) *http.Client {
	base := a.httpc
	if base == nil {
		base = request.DefaultClient
	}
	if !a.verbose {
		return base
	}
	c := *base
	c.Transport = httplogger.New(base.Transport, l, scrubber)
	return &c
}

func sessionsStatus(sup *session.Supervisor) systemd.State {
	return systemd.Status(fmt.Sprintf("%d sessions running", len(sup.Sessions())))
}
