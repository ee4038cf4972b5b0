// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/keywords"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/session"
	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
	"go.astrophena.name/taskrelay/internal/util/syncx"
)

const (
	welcomeMessage      = "Hello, I'm your task relay bot, you will be notified when new tasks are available, here's a couple to start with."
	alreadyStarted      = "Bot already started. Use `/stop` to stop the bot"
	stopped             = "Bot stopped"
	notRunning          = "Bot isn't running"
	noKeywords          = "No keywords added. Please use /add_keyword to add a new keyword."
	storageErrorMessage = "Unable to store and retrieve information about your keywords, please try again later."
)

var commands = []telegram.BotCommand{
	{Command: "start", Description: "Start receiving tasks"},
	{Command: "add_keyword", Description: "Add a keyword to mark tasks"},
	{Command: "remove_keyword", Description: "Remove a keyword"},
	{Command: "list_keywords", Description: "List keywords"},
	{Command: "stop", Description: "Stop receiving tasks"},
	{Command: "help", Description: "Show available commands"},
}

func deniedMessage(owner string) string {
	if owner == "" {
		return "You are not allowed to use this bot."
	}
	return fmt.Sprintf("You are not allowed to use this bot. Send a message to @%s to request access.", strings.TrimPrefix(owner, "@"))
}

func helpMessage() string {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, c := range commands {
		sb.WriteString("/" + c.Command + " - " + c.Description + "\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// bot handles commands received from Telegram, one at a time.
type bot struct {
	tg          *telegram.Client
	sup         *session.Supervisor
	kw          *keywords.Store
	log         *slog.Logger
	name        string // bot username, for commands like /start@name
	owner       string
	pollTimeout time.Duration
	retryDelay  time.Duration

	status *syncx.Protected[*pollStatus]
}

// pollStatus is the outcome of the last getUpdates call.
type pollStatus struct {
	err error
	at  time.Time
}

func (b *bot) run(ctx context.Context) error {
	var offset int64
	for {
		updates, err := b.tg.GetUpdates(ctx, offset, b.pollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		b.status.WriteAccess(func(s *pollStatus) {
			s.err = err
			s.at = time.Now()
		})
		if err != nil {
			b.log.Error("unable to get updates", "err", err, "retry_in", b.retryDelay)
			if !syncx.Sleep(ctx, b.retryDelay) {
				return nil
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			b.handle(ctx, u)
		}
	}
}

// health reports whether Telegram was reachable on the last poll.
func (b *bot) health() (string, bool) {
	var (
		status string
		ok     bool
	)
	b.status.ReadAccess(func(s *pollStatus) {
		switch {
		case s.at.IsZero():
			status, ok = "not polled yet", true
		case s.err != nil:
			status, ok = s.err.Error(), false
		default:
			status, ok = "polled at "+s.at.Format(time.RFC3339), true
		}
	})
	return status, ok
}

func (b *bot) handle(ctx context.Context, u telegram.Update) {
	m := u.Message
	if m == nil || m.From == nil || m.Text == "" {
		return
	}
	cmd, arg, ok := parseCommand(m.Text, b.name)
	if !ok {
		return
	}

	log := b.log.With(
		slog.String("command", cmd),
		slog.Int64("user_id", m.From.ID),
		slog.String("username", m.From.Username),
		slog.String("first_name", m.From.FirstName),
		slog.String("last_name", m.From.LastName),
	)
	log.Info("command received", "text", m.Text)

	r := b.dispatch(ctx, m, cmd, arg, log)
	if r.text == "" {
		return
	}
	log.Info("replied", "reply", r.text)

	var err error
	if r.markdown {
		err = b.tg.Deliver(ctx, m.Chat.ID, r.text)
	} else {
		err = b.tg.SendMessage(ctx, m.Chat.ID, r.text, false)
	}
	if err != nil {
		log.Error("unable to reply", "err", err)
	}
}

type reply struct {
	text     string
	markdown bool
}

func (b *bot) dispatch(ctx context.Context, m *telegram.Message, cmd, arg string, log *slog.Logger) reply {
	userID := m.From.ID

	switch cmd {
	case "start":
		err := b.sup.Start(ctx, session.User{ID: userID, Username: m.From.Username, ChatID: m.Chat.ID})
		switch {
		case err == nil:
			// The welcome message is the reply.
			return reply{}
		case errors.Is(err, session.ErrNotAllowed):
			return reply{text: deniedMessage(b.owner)}
		case errors.Is(err, session.ErrAlreadyRunning):
			return reply{text: alreadyStarted, markdown: true}
		}
		log.Error("unable to start session", "err", err)
		return reply{}

	case "stop":
		err := b.sup.Stop(ctx, userID)
		switch {
		case err == nil:
			return reply{text: stopped}
		case errors.Is(err, session.ErrNotRunning):
			return reply{text: notRunning}
		}
		log.Error("unable to stop session", "err", err)
		return reply{}

	case "add_keyword":
		kw, err := b.kw.Add(ctx, userID, arg)
		switch {
		case err == nil:
			return reply{text: fmt.Sprintf("Keyword %s added", kw)}
		case errors.Is(err, keywords.ErrBlank):
			return reply{text: "Blank keyword is not allowed.\nUse `/add_keyword keyword`", markdown: true}
		case errors.Is(err, keywords.ErrExists):
			return reply{text: fmt.Sprintf("Keyword %s already in the list.", kw)}
		}
		log.Error("unable to add keyword", "err", err)
		return reply{text: storageErrorMessage}

	case "remove_keyword":
		kw, err := b.kw.Remove(ctx, userID, arg)
		switch {
		case err == nil:
			return reply{text: fmt.Sprintf("Keyword %s removed", kw)}
		case errors.Is(err, keywords.ErrBlank):
			return reply{text: "Blank keyword is not allowed.\nUse `/remove_keyword keyword`", markdown: true}
		case errors.Is(err, keywords.ErrNotFound):
			return reply{text: fmt.Sprintf("Keyword %s not found", kw)}
		}
		log.Error("unable to remove keyword", "err", err)
		return reply{text: storageErrorMessage}

	case "list_keywords":
		list, err := b.kw.List(ctx, userID)
		if err != nil {
			log.Error("unable to list keywords", "err", err)
			return reply{text: storageErrorMessage}
		}
		if len(list) == 0 {
			return reply{text: noKeywords}
		}
		return reply{text: "Keywords list:\n" + strings.Join(list, "\n")}
	}

	return reply{text: helpMessage()}
}

// parseCommand splits a message like "/add_keyword@name some text" into the
// command and its argument. Commands addressed to other bots are ignored.
func parseCommand(text, botName string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text[1:]
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, arg = head[:i], strings.TrimSpace(head[i:])
	}
	if name, target, found := strings.Cut(head, "@"); found {
		if !strings.EqualFold(target, botName) {
			return "", "", false
		}
		head = name
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), arg, true
}
