// Package core is the orchestration layer.  It composes transports
// and capabilities into complete operational modes and provides
// builders that select the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  chat / capability  →  core  →  cmd (CLI)
//
// The builders in this package are the single dispatch point between
// the CLI and everything below it.
package core

import "context"

// Mode represents a complete operational mode of sockchat (serve or
// connect).  Each mode owns its full lifecycle from the first socket to
// teardown.
type Mode interface {
	Run(ctx context.Context) error
}
