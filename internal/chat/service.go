// Package chat implements the server side of the chat protocol: the
// authentication handshake, command parsing, and the per-session
// dispatcher that routes messages through the session registry.
//
// A Service is transport-agnostic.  The TCP listener and the WebSocket
// endpoint both hand it accepted connections; each runs on its own
// goroutine from handshake to departure.
package chat

import (
	"context"
	"errors"
	"math"
	"time"

	"sockchat/internal/cipher"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/metrics"
	"sockchat/internal/session"
	"sockchat/internal/transport"
	"sockchat/util"
)

// Config wires a Service to its collaborators.
type Config struct {
	Codec    *cipher.Codec     // required
	Registry *session.Registry // required
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// HandshakeTimeout bounds the credential and identity reads.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame written to a session.
	WriteTimeout time.Duration

	// RateLimit caps commands per second per session; 0 disables.
	RateLimit float64
	// RateBurst is the number of commands allowed in a burst; values
	// below 1 are derived from RateLimit.
	RateBurst int

	// Clock stamps chat messages; nil means time.Now.
	Clock func() time.Time
}

// Service serves chat sessions.  It is safe for concurrent use.
type Service struct {
	cfg Config
}

// NewService validates cfg and fills in defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Codec == nil {
		return nil, errors.New("chat: codec is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("chat: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		cfg.RateBurst = int(math.Max(1, math.Ceil(cfg.RateLimit)))
	}
	return &Service{cfg: cfg}, nil
}

// Registry returns the registry sessions are entered into.
func (s *Service) Registry() *session.Registry { return s.cfg.Registry }

func (s *Service) now() time.Time { return s.cfg.Clock() }

// Handle serves one connection from handshake to departure and closes
// it before returning.  Cancelling ctx closes the connection, which ends
// the session like any other transport failure.
//
// The returned error describes why a handshake failed; an established
// session that ends for any reason returns nil.
func (s *Service) Handle(ctx context.Context, conn transport.Conn) error {
	sess := session.New(conn, s.cfg.Codec, session.Options{
		WriteTimeout: s.cfg.WriteTimeout,
		Logger:       s.cfg.Logger,
	})
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	log := sess.Logger()
	log.Verbose("connection from %s", sess.RemoteAddr())

	if err := s.handshake(sess); err != nil {
		s.cfg.Metrics.HandshakeFailed(stageOf(err))
		if chaterr.IsRejection(err) {
			log.Info("rejected %s: %v", sess.RemoteAddr(), err)
		} else {
			log.Verbose("handshake aborted: %v", err)
		}
		return err
	}

	name := sess.Name()
	log.Info("%s joined as %q", sess.RemoteAddr(), name)
	s.cfg.Metrics.SessionOpened()
	s.cfg.Registry.BroadcastExcept(joined(name), sess)

	s.dispatch(sess)

	// The dispatcher is the only place departures are announced, so a
	// session removed by an operator or pruned by a broadcast is still
	// announced exactly once.
	s.cfg.Registry.Detach(sess)
	sess.Close()
	s.cfg.Metrics.SessionClosed()

	name = sess.Name()
	log.Info("%s left", name)
	s.cfg.Registry.Broadcast(departed(name))
	return nil
}

func stageOf(err error) string {
	var pe *chaterr.ProtocolError
	if chaterr.As(err, &pe) {
		return pe.Stage
	}
	return "io"
}
