// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd reports service state to systemd with the sd_notify
// protocol.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// State is a sd_notify message.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state carrying a free-form status line shown by
// systemctl status.
func Status(s string) State { return State("STATUS=" + s) }

// Notifier sends notifications to the socket named by NOTIFY_SOCKET. When the
// variable is unset, every method does nothing.
type Notifier struct {
	socket   string
	watchdog string
	log      *slog.Logger
}

// New returns a Notifier configured from the environment read by getenv.
func New(getenv func(string) string, log *slog.Logger) *Notifier {
	return &Notifier{
		socket:   getenv("NOTIFY_SOCKET"),
		watchdog: getenv("WATCHDOG_USEC"),
		log:      log,
	}
}

// Enabled reports whether the process runs under systemd.
func (n *Notifier) Enabled() bool { return n.socket != "" }

// Notify sends states to systemd. Errors are logged.
func (n *Notifier) Notify(states ...State) {
	if !n.Enabled() || len(states) == 0 {
		return
	}
	var msg []byte
	for i, s := range states {
		if i > 0 {
			msg = append(msg, '\n')
		}
		msg = append(msg, s...)
	}

	addr := &net.UnixAddr{Net: "unixgram", Name: n.socket}
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		n.log.Warn("systemd: failed when notifying", "err", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(msg); err != nil {
		n.log.Warn("systemd: failed when notifying", "err", err)
	}
}

// WatchdogLoop updates the watchdog timestamp at half the interval from
// WATCHDOG_USEC until ctx is canceled. It returns at once if the watchdog is
// disabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if !n.Enabled() || n.watchdog == "" {
		return
	}
	interval, err := parseWatchdog(n.watchdog)
	if err != nil {
		n.log.Warn("systemd: watchdog disabled", "err", err)
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func parseWatchdog(s string) (time.Duration, error) {
	usec, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if usec <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(usec) * time.Microsecond, nil
}
