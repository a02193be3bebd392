package core

import (
	"context"
	"time"

	"sockchat/internal/capability"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/retry"
	"sockchat/internal/transport"
	"sockchat/util"
)

// ConnectMode dials a chat server and runs a capability (normally the
// console) on the resulting connection.
type ConnectMode struct {
	// Dialer and Address reach a TCP listener; URL, when set, reaches
	// the /ws endpoint instead.
	Dialer  transport.Dialer
	Address string
	URL     string

	Capability capability.Capability
	Retry      *retry.Backoff // nil dials once
	Logger     *util.Logger
}

func (m *ConnectMode) target() string {
	if m.URL != "" {
		return m.URL
	}
	return m.Address
}

// Run dials, retrying transient failures, and hands the connection to
// the capability.  The dialer is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	m.Logger.Verbose("connected to %s", conn.RemoteAddr())

	return m.Capability.Handle(ctx, conn)
}

func (m *ConnectMode) dial(ctx context.Context) (transport.Conn, error) {
	b := retry.Backoff{MaxAttempts: 1}
	if m.Retry != nil {
		b = *m.Retry
	}
	b.OnRetry = func(attempt int, wait time.Duration, err error) {
		m.Logger.Warn("connect to %s failed (attempt %d): %v; retrying in %v",
			m.target(), attempt, err, wait.Round(time.Millisecond))
	}

	var conn transport.Conn
	err := b.Do(ctx, func(_ int) error {
		m.Logger.Verbose("connecting to %s", m.target())
		if m.URL != "" {
			ws, err := transport.DialWebSocket(ctx, m.URL, nil)
			if err != nil {
				return err
			}
			conn = ws
			return nil
		}
		nc, err := m.Dialer.Dial(ctx, "tcp", m.Address)
		if err != nil {
			return chaterr.Wrap("dial", m.Address, err)
		}
		conn = transport.NewStreamConn(nc)
		return nil
	})
	return conn, err
}
