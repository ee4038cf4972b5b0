// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package session

import (
	"errors"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
)

var (
	// ErrNotAllowed is returned by Start for users not on the allow-list.
	ErrNotAllowed = errors.New("user is not allowed")
	// ErrAlreadyRunning is returned by Start if the user has a session.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned by Stop if the user has no session.
	ErrNotRunning = errors.New("session not running")

	errRevoked = errors.New("user was removed from the allow-list")
)

// Kind classifies errors that happen inside a worker.
type Kind int

const (
	// Transient errors are logged and retried after a backoff.
	Transient Kind = iota
	// PermissionRevoked means the user is no longer on the allow-list.
	PermissionRevoked
	// StorageUnreadable means the user's keywords couldn't be read. The
	// cycle continues without marking.
	StorageUnreadable
	// PermanentSendFailure means messages can't be delivered to the user
	// anymore, for example because they blocked the bot.
	PermanentSendFailure
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case PermissionRevoked:
		return "permission revoked"
	case StorageUnreadable:
		return "storage unreadable"
	case PermanentSendFailure:
		return "permanent send failure"
	}
	return "unknown"
}

// Error is an error with a [Kind].
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors without an explicit kind are
// [Transient], unless Telegram refused delivery.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, telegram.ErrForbidden) {
		return PermanentSendFailure
	}
	return Transient
}

// Reason is why a worker stopped.
type Reason int

const (
	// StoppedByUser means the session was stopped with Stop or Shutdown.
	StoppedByUser Reason = iota + 1
	// StoppedByRevocation means the user was removed from the allow-list.
	StoppedByRevocation
	// StoppedByFatalSend means messages could no longer be delivered.
	StoppedByFatalSend
)

func (r Reason) String() string {
	switch r {
	case StoppedByUser:
		return "stopped by user"
	case StoppedByRevocation:
		return "stopped by revocation"
	case StoppedByFatalSend:
		return "stopped by fatal send"
	}
	return "running"
}
