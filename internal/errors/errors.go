// Package errors provides domain-specific error types for sockchat.
//
// The sentinels mirror the server's failure taxonomy: setup errors abort
// startup, auth and protocol errors reject a single connection, collision
// and routing errors become replies to the requesting session, and
// transport errors end a session.  Structured types carry the context
// (operation, address, handshake stage) needed to log a failure usefully.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrSetup means a cryptographic primitive could not be initialised.
	ErrSetup = errors.New("cipher setup failed")
	// ErrAuthFailed means the peer's password hash did not match.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrProtocol means a frame did not follow the handshake grammar.
	ErrProtocol = errors.New("protocol violation")
	// ErrNameTaken means the requested display name is already registered.
	ErrNameTaken = errors.New("username is already taken")
	// ErrNoSuchSession means no session is registered under a name.
	ErrNoSuchSession = errors.New("no such session")
	// ErrDecode means a ciphertext could not be decrypted.
	ErrDecode = errors.New("malformed ciphertext")
	// ErrFrameTooLarge means a payload does not fit a 16-bit length prefix.
	ErrFrameTooLarge = errors.New("frame exceeds 65535 bytes")
	// ErrNotConnected means a client operation ran before the handshake.
	ErrNotConnected = errors.New("not connected")
	// ErrTunnelClosed means the SSH tunnel is gone.
	ErrTunnelClosed = errors.New("tunnel is closed")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError records which handshake stage rejected a connection.
type ProtocolError struct {
	Stage string // "credential", "identity", "register"
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// Reject creates a ProtocolError for the given handshake stage.
func Reject(stage string, err error) *ProtocolError {
	return &ProtocolError{Stage: stage, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.  Authentication
// and name collisions never are: the same request fails the same way.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNameTaken) || errors.Is(err, ErrProtocol) {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsRejection reports whether err ended a handshake on purpose (bad
// credential, malformed identity, or collision) rather than through an
// I/O failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrProtocol) || errors.Is(err, ErrNameTaken)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Timeout() || dnsErr.IsTemporary
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use sockchat/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
