// Package tunnel lets the console client reach a chat server through an
// SSH gateway, using golang.org/x/crypto/ssh.  The chat protocol itself
// is unchanged; the tunnel only carries the TCP stream.
package tunnel

import (
	"context"
	"net"
)

// Tunnel abstracts an encrypted channel through which chat connections
// can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address from the gateway's side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}

var _ Tunnel = (*SSHTunnel)(nil)
