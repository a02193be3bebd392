package chat

import (
	"strings"
	"time"

	chaterr "sockchat/internal/errors"
	"sockchat/internal/session"
)

// Handshake stages, as recorded in rejections and metrics.
const (
	StageCredential = "credential"
	StageIdentity   = "identity"
	StageRegister   = "register"
)

// handshake runs AwaitingCredential → AwaitingIdentity → Established on a
// fresh session.  On success the session is registered under its name
// and has been sent OK.  Every rejection has already been answered in
// the clear; the caller only closes the transport.
func (s *Service) handshake(sess *session.Session) error {
	if s.cfg.HandshakeTimeout > 0 {
		_ = sess.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer sess.SetReadDeadline(time.Time{}) //nolint:errcheck
	}

	// AwaitingCredential: "HASH <hex>" in the clear.
	hello, err := sess.ReceivePlain()
	if err != nil {
		return chaterr.Wrap("read", sess.RemoteAddr(), err)
	}
	keyword, hash, _ := strings.Cut(hello, " ")
	if keyword != "HASH" || hash == "" {
		return s.refuse(sess, ReplyBadHello, StageCredential, chaterr.ErrProtocol)
	}
	if !s.cfg.Codec.VerifyHash(hash) {
		return s.refuse(sess, ReplyBadPassword, StageCredential, chaterr.ErrAuthFailed)
	}

	// AwaitingIdentity: encrypted "RENAME <name>".
	ident, err := sess.Receive()
	if chaterr.Is(err, chaterr.ErrDecode) {
		return s.refuse(sess, ReplyBadHello, StageIdentity, chaterr.ErrProtocol)
	}
	if err != nil {
		return chaterr.Wrap("read", sess.RemoteAddr(), err)
	}
	name, ok := parseIdentity(ident)
	if !ok {
		return s.refuse(sess, ReplyBadHello, StageIdentity, chaterr.ErrProtocol)
	}

	// Established, unless the name is in use.
	err = s.cfg.Registry.Admit(name, sess, ReplyOK)
	if chaterr.Is(err, chaterr.ErrNameTaken) {
		return s.refuse(sess, ReplyNameTaken, StageRegister, err)
	}
	return err
}

// parseIdentity accepts exactly "RENAME <name>" with a non-empty name
// free of spaces.
func parseIdentity(line string) (string, bool) {
	w := words(line)
	if len(w) != 2 || w[0] != "RENAME" || w[1] == "" {
		return "", false
	}
	return w[1], true
}

func (s *Service) refuse(sess *session.Session, reply, stage string, cause error) error {
	if err := sess.SendPlain(reply); err != nil {
		sess.Logger().Debug("sending rejection: %v", err)
	}
	if stage == StageCredential {
		linger(sess)
	}
	return chaterr.Reject(stage, cause)
}

// lingerTimeout bounds how long a refused credential waits for the
// identity frame the client has already sent.
const lingerTimeout = 200 * time.Millisecond

// linger consumes the client's pipelined identity frame before the
// connection is closed.  Closing a TCP socket with unread input resets
// it, which can destroy the rejection reply before the client reads it.
func linger(sess *session.Session) {
	_ = sess.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = sess.ReceivePlain()
}
