// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package session runs one polling worker per user and owns the registry of
// active sessions.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/keywords"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/poller"
	"go.astrophena.name/taskrelay/internal/util/set"
	"go.astrophena.name/taskrelay/internal/util/syncx"
)

// Defaults for [Config].
const (
	DefaultPollInterval = 60 * time.Second
	DefaultBackoff      = 60 * time.Second
)

// Checker reports whether a username may use the bot.
type Checker interface {
	Allowed(username string) (bool, error)
}

// KeywordSource returns a user's keywords.
type KeywordSource interface {
	List(ctx context.Context, userID int64) ([]string, error)
}

// Messenger delivers text to a chat. Errors wrapping
// [telegram.ErrForbidden] mean the chat is gone for good.
type Messenger interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Feed runs poll cycles.
type Feed interface {
	Poll(ctx context.Context, seen set.Set[string], kw *regexp.Regexp, emit func(poller.Notification) error) error
}

var _ Feed = (*poller.Poller)(nil)

// Config configures a [Supervisor].
type Config struct {
	Allowlist Checker
	Keywords  KeywordSource
	Feed      Feed
	Messenger Messenger
	Logger    *slog.Logger

	PollInterval time.Duration // DefaultPollInterval if zero
	Backoff      time.Duration // DefaultBackoff if zero

	// Messages sent by workers.
	Welcome      string
	Denied       string
	StorageError string

	// OnEnd, if not nil, is called when a worker exits.
	OnEnd func(Info, Reason)
}

// User identifies who a session belongs to.
type User struct {
	ID       int64
	Username string
	ChatID   int64
}

// State is the state of a running worker.
type State int32

// Worker states.
const (
	Checking State = iota
	Polling
	Sleeping
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Polling:
		return "polling"
	case Sleeping:
		return "sleeping"
	}
	return "unknown"
}

// Session is a running worker for a user.
type Session struct {
	ID      string
	User    User
	Started time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	seen      set.Set[string] // only touched by the worker
	stopping  bool            // guarded by the registry
	state     atomic.Int32
	delivered atomic.Int64
}

// Info is a snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ChatID    int64     `json:"chat_id"`
	Started   time.Time `json:"started"`
	State     string    `json:"state"`
	Stopping  bool      `json:"stopping"`
	Delivered int64     `json:"delivered"`
}

func (s *Session) info(stopping bool) Info {
	return Info{
		ID:        s.ID,
		UserID:    s.User.ID,
		Username:  s.User.Username,
		ChatID:    s.User.ChatID,
		Started:   s.Started,
		State:     State(s.state.Load()).String(),
		Stopping:  stopping,
		Delivered: s.delivered.Load(),
	}
}

// Supervisor starts and stops sessions.
type Supervisor struct {
	c        Config
	log      *slog.Logger
	sessions *syncx.Protected[map[int64]*Session]
}

// New returns a new Supervisor.
func New(c Config) *Supervisor {
	c.PollInterval = cmp.Or(c.PollInterval, DefaultPollInterval)
	c.Backoff = cmp.Or(c.Backoff, DefaultBackoff)
	return &Supervisor{
		c:        c,
		log:      cmp.Or(c.Logger, slog.Default()),
		sessions: syncx.Protect(make(map[int64]*Session)),
	}
}

// Start starts a session for u and sends the welcome message. It returns
// [ErrNotAllowed] if u is not on the allow-list and [ErrAlreadyRunning] if u
// already has a session. If the welcome message can't be sent, no session is
// started.
//
// The worker outlives ctx; it runs until Stop or Shutdown.
func (s *Supervisor) Start(ctx context.Context, u User) error {
	ok, err := s.c.Allowlist.Allowed(u.Username)
	if err != nil {
		s.log.Error("unable to read the allow-list", "user_id", u.ID, "username", u.Username, "err", err)
	}
	if !ok {
		return ErrNotAllowed
	}

	var running bool
	s.sessions.ReadAccess(func(m map[int64]*Session) { _, running = m[u.ID] })
	if running {
		return ErrAlreadyRunning
	}

	if err := s.c.Messenger.Deliver(ctx, u.ChatID, s.c.Welcome); err != nil {
		return fmt.Errorf("sending welcome message: %w", err)
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &Session{
		ID:      uuid.NewString(),
		User:    u,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		seen:    set.New[string](0),
	}
	s.sessions.WriteAccess(func(m map[int64]*Session) {
		if _, running = m[u.ID]; !running {
			m[u.ID] = sess
		}
	})
	if running {
		cancel()
		return ErrAlreadyRunning
	}

	go s.run(wctx, sess)
	return nil
}

// Stop stops the session of the user and waits for its worker to exit. It
// returns [ErrNotRunning] if there is no session.
func (s *Supervisor) Stop(ctx context.Context, userID int64) error {
	var sess *Session
	s.sessions.WriteAccess(func(m map[int64]*Session) {
		if sess = m[userID]; sess != nil {
			sess.stopping = true
		}
	})
	if sess == nil {
		return ErrNotRunning
	}
	sess.cancel()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns a snapshot of running sessions ordered by start time.
func (s *Supervisor) Sessions() []Info {
	var infos []Info
	s.sessions.ReadAccess(func(m map[int64]*Session) {
		for _, sess := range m {
			infos = append(infos, sess.info(sess.stopping))
		}
	})
	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Or(a.Started.Compare(b.Started), cmp.Compare(a.UserID, b.UserID))
	})
	return infos
}

// Running reports whether the user has a session.
func (s *Supervisor) Running(userID int64) bool {
	var ok bool
	s.sessions.ReadAccess(func(m map[int64]*Session) { _, ok = m[userID] })
	return ok
}

// Shutdown stops all sessions and waits for their workers.
func (s *Supervisor) Shutdown() {
	var all []*Session
	s.sessions.WriteAccess(func(m map[int64]*Session) {
		all = slices.Collect(maps.Values(m))
		for _, sess := range all {
			sess.stopping = true
		}
	})
	wg := syncx.NewLimitedWaitGroup(8)
	for _, sess := range all {
		wg.Go(func() {
			sess.cancel()
			<-sess.done
		})
	}
	wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, sess *Session) {
	log := s.log.With("session", sess.ID, "user_id", sess.User.ID, "username", sess.User.Username)
	log.Info("session started")

	reason := s.loop(ctx, sess, log)

	var stopping bool
	s.sessions.WriteAccess(func(m map[int64]*Session) {
		stopping = sess.stopping
		if m[sess.User.ID] == sess {
			delete(m, sess.User.ID)
		}
	})
	sess.cancel()
	log.Info("session ended", "reason", reason, "delivered", sess.delivered.Load())
	if s.c.OnEnd != nil {
		s.c.OnEnd(sess.info(stopping), reason)
	}
	close(sess.done)
}

func (s *Supervisor) setState(log *slog.Logger, sess *Session, st State) {
	if prev := State(sess.state.Swap(int32(st))); prev != st {
		log.Debug("state changed", "from", prev, "to", st)
	}
}

func (s *Supervisor) loop(ctx context.Context, sess *Session, log *slog.Logger) Reason {
	for {
		if ctx.Err() != nil {
			return StoppedByUser
		}

		wait := s.c.PollInterval
		if err := s.cycle(ctx, sess, log); err != nil {
			if ctx.Err() != nil {
				return StoppedByUser
			}
			switch KindOf(err) {
			case PermissionRevoked:
				log.Info("access revoked, stopping")
				// Best effort: the user may have blocked the bot too.
				if err := s.c.Messenger.Deliver(ctx, sess.User.ChatID, s.c.Denied); err != nil {
					log.Debug("unable to send access denied notice", "err", err)
				}
				return StoppedByRevocation
			case PermanentSendFailure:
				log.Error("unable to deliver messages, the user blocked the bot", "err", err)
				return StoppedByFatalSend
			default:
				log.Error("poll cycle failed", "err", err, "backoff", s.c.Backoff)
				wait = s.c.Backoff
			}
		}

		s.setState(log, sess, Sleeping)
		if !syncx.Sleep(ctx, wait) {
			return StoppedByUser
		}
	}
}

func (s *Supervisor) cycle(ctx context.Context, sess *Session, log *slog.Logger) error {
	s.setState(log, sess, Checking)
	ok, err := s.c.Allowlist.Allowed(sess.User.Username)
	if err != nil {
		return &Error{Kind: Transient, Err: fmt.Errorf("reading allow-list: %w", err)}
	}
	if !ok {
		return &Error{Kind: PermissionRevoked, Err: errRevoked}
	}

	list, err := s.c.Keywords.List(ctx, sess.User.ID)
	if err != nil {
		if err := s.storageUnreadable(ctx, sess, log, err); err != nil {
			return err
		}
		list = nil
	}

	s.setState(log, sess, Polling)
	return s.c.Feed.Poll(ctx, sess.seen, keywords.Pattern(list), func(n poller.Notification) error {
		if err := s.c.Messenger.Deliver(ctx, sess.User.ChatID, n.Text); err != nil {
			if KindOf(err) == PermanentSendFailure {
				return &Error{Kind: PermanentSendFailure, Err: err}
			}
			return fmt.Errorf("delivering %s: %w", n.Item.ID, err)
		}
		sess.delivered.Add(1)
		log.Debug("delivered", "item", n.Item.ID, "marked", n.Marked)
		return nil
	})
}

// storageUnreadable notifies the user that keywords can't be read. It
// returns an error only if the notice can't ever be delivered.
func (s *Supervisor) storageUnreadable(ctx context.Context, sess *Session, log *slog.Logger, cause error) error {
	log.Error("unable to read keywords, continuing without marking", "kind", StorageUnreadable, "err", cause)
	err := s.c.Messenger.Deliver(ctx, sess.User.ChatID, s.c.StorageError)
	if err == nil {
		return nil
	}
	if KindOf(err) == PermanentSendFailure {
		return &Error{Kind: PermanentSendFailure, Err: errors.Join(cause, err)}
	}
	log.Warn("unable to send storage error notice", "err", err)
	return nil
}
