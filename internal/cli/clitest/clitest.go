// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest provides utilities for testing command-line applications.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.astrophena.name/taskrelay/internal/cli"
)

// Case represents a single test case for a command-line application.
//
// Every case gets its own temporary directory. The string $TEMPDIR in Args
// and Env values is replaced by its path.
type Case[App cli.App] struct {
	// Args are the command-line arguments to pass to the application.
	Args []string
	// Stdin is the optional standard input to pass to the application.
	Stdin io.Reader
	// Env are the environment variables visible to the application.
	Env map[string]string
	// Files are written to the temporary directory before the application
	// runs. Keys are slash-separated paths relative to it.
	Files map[string]string
	// WantErr is the expected error to be returned by the application, checked
	// with errors.Is.
	WantErr error
	// WantErrContains is a substring expected in the returned error.
	WantErrContains string
	// WantNothingPrinted indicates that no output should be printed to stdout or
	// stderr.
	WantNothingPrinted bool
	// WantInStdout is the expected substring to be present in the stdout output.
	WantInStdout string
	// WantInStderr is the expected substring to be present in the stderr output.
	WantInStderr string
	// CheckFunc is an optional function to perform additional checks after the
	// application has run. dir is the temporary directory of the case.
	CheckFunc func(t *testing.T, app App, dir string)
}

// Run runs the provided test cases against the given command-line application.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			expand := func(s string) string { return strings.ReplaceAll(s, "$TEMPDIR", dir) }
			for name, content := range tc.Files {
				path := filepath.Join(dir, filepath.FromSlash(name))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			args := make([]string, len(tc.Args))
			for i, arg := range tc.Args {
				args[i] = expand(arg)
			}

			app := setup(t)

			stdin := tc.Stdin
			if stdin == nil {
				stdin = strings.NewReader("")
			}

			var stdout, stderr bytes.Buffer
			env := &cli.Env{
				Args: args,
				Getenv: func(name string) string {
					return expand(tc.Env[name])
				},
				Stdin:  stdin,
				Stdout: &stdout,
				Stderr: &stderr,
			}

			err := cli.Run(cli.WithEnv(context.Background(), env), app)

			wantFailure := tc.WantErr != nil || tc.WantErrContains != ""
			switch {
			case err == nil && wantFailure:
				t.Fatalf("must fail with error: %v %q", tc.WantErr, tc.WantErrContains)
			case err != nil && tc.WantErr != nil && !errors.Is(err, tc.WantErr):
				t.Fatalf("got error: %v, want %v", err, tc.WantErr)
			case err != nil && tc.WantErrContains != "" && !strings.Contains(err.Error(), tc.WantErrContains):
				t.Fatalf("got error: %v, want it to contain %q", err, tc.WantErrContains)
			}

			if tc.WantNothingPrinted {
				if stdout.String() != "" {
					t.Errorf("stdout must be empty, got: %q", stdout.String())
				}
				if stderr.String() != "" {
					t.Errorf("stderr must be empty, got: %q", stderr.String())
				}
			}

			if tc.WantInStdout != "" && !strings.Contains(stdout.String(), tc.WantInStdout) {
				t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, stdout.String())
			}
			if tc.WantInStderr != "" && !strings.Contains(stderr.String(), tc.WantInStderr) {
				t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, stderr.String())
			}

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app, dir)
			}
		})
	}
}
