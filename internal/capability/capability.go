// Package capability defines what happens over an established
// connection.  Each Capability encapsulates a single behaviour and
// operates on a framed transport.Conn rather than a raw net.Conn, which
// keeps capabilities testable and decoupled from how frames travel.
//
// The server side capability is chat.Service; the client side one is
// Console.
package capability

import (
	"context"

	"sockchat/internal/transport"
)

// Capability handles a single connection according to a specific
// behaviour.
type Capability interface {
	// Handle runs the capability against conn and closes it.  It blocks
	// until the connection is done or the context is cancelled.
	Handle(ctx context.Context, conn transport.Conn) error
}
