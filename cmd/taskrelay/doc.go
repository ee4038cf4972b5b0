// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Taskrelay is a Telegram bot that watches the newest posts of a subreddit and
sends task posts to its users.

Each user starts and stops their own session. While a session runs, the bot
checks the subreddit every minute and sends every new post whose title starts
with [TASK]. Posts mentioning one of the user's keywords are marked with
[MARKED].

# Usage

	$ taskrelay [flags...]

# Commands

  - /start: Start receiving tasks.
  - /stop: Stop receiving tasks.
  - /add_keyword <keyword>: Add a keyword to mark tasks.
  - /remove_keyword <keyword>: Remove a keyword.
  - /list_keywords: List keywords.
  - /help: Show available commands.

# Environment Variables

The taskrelay program relies on the following environment variables. They can
also be put into a .env file in the working directory; variables set in the
environment take precedence.

  - TELEGRAM_TOKEN: Telegram bot token for accessing the Telegram Bot API.
    Required.
  - TELEGRAM_OWNER: Telegram username of the bot operator, shown to users
    who are not allowed to use the bot.
  - STATE_DIRECTORY: Directory where keywords, logs and configuration are
    stored. Defaults to $XDG_STATE_HOME/taskrelay.
  - ALLOWED_USERS: Path to the allow-list file. Defaults to
    allowed_users.txt in the state directory.
  - STORE: Where keywords are stored: "sqlite" (default), "json" or "mem".
  - ADMIN_ADDR: Address of the admin HTTP API, for example "localhost:3000".
    The API is disabled if empty.

Flags take precedence over environment variables.

# Allow-list

Only users listed in the allow-list file can start a session. The file
contains one Telegram username per line; blank lines and lines starting with #
are ignored. The file is read on every check, so removing a user stops their
session on the next poll.

# Configuration

taskrelay reads optional feed configuration from config.star in the state
directory. This file is written in Starlark language, for example:

	subreddit = "slavelabour"
	title_pattern = r"(?i)^\[TASK\]"
	limit = 10
	poll_interval = "60s"
	backoff = "60s"

All keys are optional.

# Admin API

If ADMIN_ADDR is set, taskrelay serves the following endpoints:

  - GET /health: Health checks.
  - GET /api/version: Version information.
  - GET /api/sessions: Running sessions.
  - DELETE /api/sessions/{userID}: Stop a session.
  - GET /api/keywords/{userID}: Keywords of a user.
  - GET /api/allowlist: Users in the allow-list.
  - GET /debug/logs: Recent log lines, then new ones as they are written.

Logs are also written to stderr and appended to taskrelay.log in the state
directory.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/taskrelay/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
