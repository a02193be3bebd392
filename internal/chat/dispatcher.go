package chat

import (
	"golang.org/x/time/rate"

	chaterr "sockchat/internal/errors"
	"sockchat/internal/session"
	"sockchat/util"
)

// dispatch runs the command loop of an established session until the
// client says bye or the transport fails.  Per-command problems become
// ERROR replies; only a transport failure ends the loop early.
func (s *Service) dispatch(sess *session.Session) {
	log := sess.Logger()

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	}

	for {
		line, err := sess.Receive()
		if err != nil {
			if chaterr.Is(err, chaterr.ErrDecode) {
				log.Warn("dropping frame: %v", err)
				s.cfg.Metrics.DecodeFailed()
				continue
			}
			if util.IsHarmless(err) {
				log.Verbose("connection closed: %v", err)
			} else {
				log.Warn("read failed: %v", err)
				s.cfg.Metrics.RecordError("read: " + err.Error())
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			if sess.Send(ReplyRateLimited) != nil {
				return
			}
			continue
		}

		cmd := ParseCommand(line)
		s.cfg.Metrics.CommandHandled(cmd.Kind.String())
		log.Debug("command %s", cmd.Kind)

		if !s.execute(sess, cmd) {
			return
		}
	}
}

// execute runs one command and reports whether the loop should go on.
func (s *Service) execute(sess *session.Session, cmd Command) bool {
	reg := s.cfg.Registry

	if !cmd.Ok() {
		return s.reply(sess, cmd.Err.Reply)
	}

	switch cmd.Kind {
	case KindBye:
		s.reply(sess, ReplyDisconnect)
		return false

	case KindList:
		return s.reply(sess, roster(reg.ListNames()))

	case KindRename:
		old, err := reg.Rename(sess, cmd.Target)
		switch {
		case chaterr.Is(err, chaterr.ErrNameTaken):
			return s.reply(sess, ReplyNameTaken)
		case err != nil:
			// The session is no longer registered; it was pruned or
			// removed and its transport is already closed.
			sess.Logger().Verbose("rename: %v", err)
			return false
		}
		sess.Logger().Info("renamed %s -> %s", old, cmd.Target)
		return true

	case KindSendAll:
		err := reg.Broadcast(publicMessage(sess.RemoteAddr(), sess.Name(), cmd.Text, s.now()))
		if chaterr.Is(err, chaterr.ErrFrameTooLarge) {
			return s.reply(sess, ReplyTooLong)
		}
		return true

	case KindSendUser:
		if cmd.Target == sess.Name() {
			return s.reply(sess, ReplySelfMessage)
		}
		msg := privateMessage(sess.RemoteAddr(), sess.Name(), cmd.Target, cmd.Text, s.now())
		if err := reg.SendTo(cmd.Target, msg); err != nil {
			if chaterr.Is(err, chaterr.ErrFrameTooLarge) {
				return s.reply(sess, ReplyTooLong)
			}
			if !chaterr.Is(err, chaterr.ErrNoSuchSession) {
				// The recipient's connection failed and it was pruned.
				sess.Logger().Verbose("private message to %s: %v", cmd.Target, err)
			}
			return s.reply(sess, replyNoSuchUser(cmd.Target))
		}
		return s.reply(sess, msg)
	}

	return s.reply(sess, ReplyUnknown)
}

// reply sends msg to the session and reports whether it is still usable.
// A reply too large for one frame is replaced by ReplyTooLong.
func (s *Service) reply(sess *session.Session, msg string) bool {
	err := sess.Send(msg)
	if chaterr.Is(err, chaterr.ErrFrameTooLarge) {
		err = sess.Send(ReplyTooLong)
	}
	if err != nil {
		if !util.IsHarmless(err) {
			sess.Logger().Warn("reply failed: %v", err)
			s.cfg.Metrics.RecordError("reply: " + err.Error())
		}
		return false
	}
	s.cfg.Metrics.Delivered(1)
	return true
}
