// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.astrophena.name/taskrelay/internal/logger"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Handler is a http.Handler to serve.
	Handler http.Handler
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf
	// Ready, if not nil, is called with the listener address once the server
	// accepts connections.
	Ready func(addr string)
}

var (
	errNoAddr     = errors.New("c.Addr is empty")
	errNilHandler = errors.New("c.Handler is nil")
)

// ListenAndServe serves c.Handler on c.Addr until ctx is canceled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	logf := c.Logf
	if logf == nil {
		logf = log.Printf
	}
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Handler == nil {
		return errNilHandler
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	logf("Listening on %s...", l.Addr().String())

	s := &http.Server{
		ErrorLog:          log.New(logf, "", 0),
		Handler:           c.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready(l.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logf("Gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
