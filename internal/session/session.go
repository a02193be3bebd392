// Package session holds the server-side record of one chat connection
// and the registry that maps display names to live sessions.
//
// A Session owns its transport exclusively.  Writes are serialised by a
// per-session mutex so a broadcast and a direct reply can never split
// each other's frames; reads happen only on the session's own dispatcher
// goroutine.  The display name is written only by the Registry, while
// holding the registry lock, and read lock-free everywhere else.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"sockchat/internal/cipher"
	"sockchat/internal/transport"
	"sockchat/util"
)

// Options tune a Session.  The zero value is usable.
type Options struct {
	// WriteTimeout bounds each frame write so a stalled peer cannot hold
	// up broadcasts to everyone else.  Zero means no deadline.
	WriteTimeout time.Duration

	// Logger is scoped with the session ID; nil discards.
	Logger *util.Logger
}

// Session is one client connection from accept to disconnect.
type Session struct {
	id     string
	conn   transport.Conn
	codec  *cipher.Codec
	logger *util.Logger

	writeTimeout time.Duration
	wmu          sync.Mutex

	name   atomic.Value // string
	authed atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn.  The session is anonymous and unauthenticated until a
// Registry inserts it.
func New(conn transport.Conn, codec *cipher.Codec, opts Options) *Session {
	id := ulid.Make().String()
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	s := &Session{
		id:           id,
		conn:         conn,
		codec:        codec,
		logger:       logger.With(id),
		writeTimeout: opts.WriteTimeout,
		closed:       make(chan struct{}),
	}
	s.name.Store("")
	return s
}

// ID is a sortable unique identifier used to correlate log lines.
func (s *Session) ID() string { return s.id }

// Name returns the current display name, or "" before registration.
func (s *Session) Name() string { return s.name.Load().(string) }

func (s *Session) setName(name string) { s.name.Store(name) }

// Authenticated reports whether the session has ever been registered.
// It never reverts to false.
func (s *Session) Authenticated() bool { return s.authed.Load() }

// RemoteAddr is the peer address shown in chat messages.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *util.Logger { return s.logger }

// Send encrypts msg and writes it as one frame.
func (s *Session) Send(msg string) error {
	ct, err := s.codec.Encrypt(msg)
	if err != nil {
		return err
	}
	return s.write(ct)
}

// SendPlain writes msg as one frame without encryption.  Only the
// handshake uses it.
func (s *Session) SendPlain(msg string) error { return s.write(msg) }

func (s *Session) write(payload string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writeLocked(payload)
}

// writeLocked requires s.wmu.
func (s *Session) writeLocked(payload string) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	return s.conn.WriteFrame(payload)
}

// Receive reads one frame and decrypts it.  A decryption failure wraps
// errors.ErrDecode and leaves the session usable; any other error means
// the transport is gone.
func (s *Session) Receive() (string, error) {
	ct, err := s.conn.ReadFrame()
	if err != nil {
		return "", err
	}
	return s.codec.Decrypt(ct)
}

// ReceivePlain reads one frame as-is.  Only the handshake uses it.
func (s *Session) ReceivePlain() (string, error) { return s.conn.ReadFrame() }

// SetReadDeadline bounds the next reads; zero clears it.
func (s *Session) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

// Close terminates the transport in both directions.  It is idempotent
// and safe to call from any goroutine; a blocked Receive returns an
// error promptly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) String() string {
	if n := s.Name(); n != "" {
		return n + "@" + s.RemoteAddr()
	}
	return s.id + "@" + s.RemoteAddr()
}
