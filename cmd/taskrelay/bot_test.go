// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"strings"
	"testing"

	"go.astrophena.name/taskrelay/internal/testutil"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	type result struct {
		Cmd, Arg string
		OK       bool
	}
	cases := map[string]struct {
		text string
		want result
	}{
		"plain":             {"/start", result{"start", "", true}},
		"with argument":     {"/add_keyword golang", result{"add_keyword", "golang", true}},
		"argument trimmed":  {"  /add_keyword   go lang  ", result{"add_keyword", "go lang", true}},
		"newline separated": {"/remove_keyword\nrust", result{"remove_keyword", "rust", true}},
		"uppercase":         {"/STOP", result{"stop", "", true}},
		"addressed to us":   {"/list_keywords@TaskRelay_Bot", result{"list_keywords", "", true}},
		"addressed to us with argument": {
			"/add_keyword@taskrelay_bot python",
			result{"add_keyword", "python", true},
		},
		"addressed to another bot": {"/start@other_bot", result{}},
		"not a command":            {"hello", result{}},
		"bare slash":               {"/", result{}},
		"empty":                    {"", result{}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cmd, arg, ok := parseCommand(tc.text, "taskrelay_bot")
			testutil.AssertEqual(t, result{cmd, arg, ok}, tc.want)
		})
	}
}

func TestDeniedMessage(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, deniedMessage(""), "You are not allowed to use this bot.")
	want := "You are not allowed to use this bot. Send a message to @owner to request access."
	testutil.AssertEqual(t, deniedMessage("owner"), want)
	testutil.AssertEqual(t, deniedMessage("@owner"), want)
}

func TestHelpMessage(t *testing.T) {
	t.Parallel()

	help := helpMessage()
	for _, c := range commands {
		if !strings.Contains(help, "/"+c.Command+" - "+c.Description) {
			t.Errorf("help doesn't mention /%s:\n%s", c.Command, help)
		}
	}
	if strings.HasSuffix(help, "\n") {
		t.Errorf("help ends with a newline: %q", help)
	}
}
