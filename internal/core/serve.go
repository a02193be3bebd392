package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"sockchat/config"
	"sockchat/internal/admin"
	"sockchat/internal/session"
	"sockchat/util"
)

// ServeMode runs the chat listener and, optionally, the admin HTTP API.
// When the context ends it stops accepting, disconnects every session,
// and waits up to GracePeriod for them to finish.
type ServeMode struct {
	Listen *ListenMode
	Admin  *http.Server // nil disables the admin API
	// WebSockets tracks chat sessions served by the admin API's /ws
	// route; the HTTP server does not wait for them on shutdown.
	WebSockets  *admin.API
	Registry    *session.Registry
	GracePeriod time.Duration
	Logger      *util.Logger
}

func (m *ServeMode) grace() time.Duration {
	if m.GracePeriod > 0 {
		return m.GracePeriod
	}
	return config.DefaultGracePeriod
}

// Run blocks until ctx ends or a listener fails.
func (m *ServeMode) Run(ctx context.Context) error {
	// Sessions outlive ctx until they have been told to leave.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()
	m.Listen.ConnContext = connCtx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Listen.Run(gctx) })

	if m.Admin != nil {
		m.Admin.BaseContext = func(net.Listener) context.Context { return connCtx }
		g.Go(func() error {
			m.Logger.Info("admin API on %s", m.Admin.Addr)
			if err := m.Admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), m.grace())
			defer cancel()
			if err := m.Admin.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("admin shutdown: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()

	if n := m.Registry.Len(); n > 0 {
		m.Logger.Info("disconnecting %d session(s)", n)
	}
	m.Registry.CloseAll()
	if !m.wait(m.grace()) {
		m.Logger.Warn("sessions still running after %v, cancelling", m.grace())
	}
	cancelConns()
	m.wait(time.Second)

	return err
}

// wait gives TCP and WebSocket sessions one shared deadline.
func (m *ServeMode) wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ok := m.Listen.Wait(timeout)
	if m.WebSockets != nil {
		ok = m.WebSockets.Wait(time.Until(deadline)) && ok
	}
	return ok
}
