package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"sockchat/internal/capability"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/metrics"
	"sockchat/internal/transport"
	"sockchat/util"
)

// ListenMode accepts TCP connections and runs a capability on each one
// in its own goroutine until the context ends.
type ListenMode struct {
	Address    string // ":port"
	Capability capability.Capability
	Logger     *util.Logger
	Metrics    *metrics.Collector

	// ConnContext, if set, is handed to connections instead of Run's
	// context, so the caller decides when live sessions are cancelled.
	ConnContext context.Context

	wg sync.WaitGroup
}

// Run listens on Address and serves connections.  It returns nil once
// ctx ends; connections still running are left to Wait.
func (m *ListenMode) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	defer ln.Close()

	m.Logger.Info("listening on %s", ln.Addr())

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	connCtx := m.ConnContext
	if connCtx == nil {
		connCtx = ctx
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				m.Metrics.RecordError("accept: " + err.Error())
				return fmt.Errorf("accept: %w", err)
			}
		}

		m.Metrics.ConnectionAccepted("tcp")
		m.Logger.Verbose("connection from %s", conn.RemoteAddr())

		m.wg.Add(1)
		go m.serveConn(connCtx, conn)
	}
}

func (m *ListenMode) serveConn(ctx context.Context, conn net.Conn) {
	defer m.wg.Done()

	addr := conn.RemoteAddr()
	err := m.Capability.Handle(ctx, transport.NewStreamConn(conn))
	switch {
	case err == nil:
	case chaterr.IsRejection(err):
		m.Logger.Info("refused %s: %v", addr, err)
	default:
		m.Logger.Verbose("%s: %v", addr, err)
	}
}

// Wait blocks until every connection goroutine has returned or timeout
// passes, and reports whether they all returned.
func (m *ListenMode) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
