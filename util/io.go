package util

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsHarmless returns true for errors that are expected when a peer goes
// away: EOF, a closed connection, or a reset/broken pipe.  Callers log
// these at verbose level instead of treating them as failures.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// CloseQuietly closes c and discards the error.  Used on teardown paths
// where the peer may already be gone.
func CloseQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
