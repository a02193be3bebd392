// Package transport provides the connection abstractions the chat layer
// runs over.  A Conn moves whole protocol frames; how they are delimited
// (length prefix on a TCP stream, message boundaries on a WebSocket) is
// the transport's business, not the session's.
package transport

import (
	"context"
	"net"
	"time"
)

// Conn is a bidirectional frame transport.  One goroutine may read while
// another writes; concurrent writers must be serialised by the caller.
type Conn interface {
	// ReadFrame blocks until one whole frame arrives.
	ReadFrame() (string, error)

	// WriteFrame sends msg as a single frame.
	WriteFrame(msg string) error

	// SetReadDeadline bounds future ReadFrame calls; zero clears it.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline bounds future WriteFrame calls; zero clears it.
	SetWriteDeadline(t time.Time) error

	// RemoteAddr is the peer address as shown in chat messages.
	RemoteAddr() string

	// Close terminates both directions.
	Close() error
}

// Dialer opens outbound network connections.  Implementations include a
// plain TCP dialer and an SSH-tunnelled dialer that reaches servers only
// listening behind a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
