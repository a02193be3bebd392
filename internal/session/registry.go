package session

import (
	"fmt"
	"sort"
	"sync"

	chaterr "sockchat/internal/errors"
	"sockchat/internal/metrics"
	"sockchat/util"
)

// Server pushes the registry sends on its own.
const (
	MsgDisconnect = "DISCONNECT"
	MsgRename     = "RENAME "
)

// Registry maps display names to established sessions.  One mutex guards
// the map; network writes happen outside it.
//
// The registry never announces departures.  Sessions it prunes or
// removes are closed, which ends their dispatcher loop, and the
// dispatcher announces the departure exactly once.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	logger  *util.Logger
	metrics *metrics.Collector
}

// NewRegistry returns an empty registry.  m may be nil.
func NewRegistry(logger *util.Logger, m *metrics.Collector) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// Insert registers s under name and marks it authenticated.  It fails
// with ErrNameTaken, leaving the registry untouched, if the name is in
// use.
func (r *Registry) Insert(name string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[name]; taken {
		return fmt.Errorf("%w: %s", chaterr.ErrNameTaken, name)
	}
	s.setName(name)
	s.authed.Store(true)
	r.sessions[name] = s
	return nil
}

// Admit inserts s under name and writes ack to it in the clear before
// any other frame can reach it: s's writes stay blocked from the moment
// it becomes visible until the ack is out.  If the ack cannot be written
// the entry is withdrawn and the write error returned.
func (r *Registry) Admit(name string, s *Session, ack string) error {
	s.wmu.Lock()
	if err := r.Insert(name, s); err != nil {
		s.wmu.Unlock()
		return err
	}
	err := s.writeLocked(ack)
	s.wmu.Unlock()

	if err != nil {
		r.Detach(s)
		return chaterr.Wrap("write", s.RemoteAddr(), err)
	}
	return nil
}

// Remove forcibly disconnects the session registered under name.  The
// entry is deleted first, then the client is told DISCONNECT and its
// transport closed; both are best effort.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", chaterr.ErrNoSuchSession, name)
	}

	if err := s.Send(MsgDisconnect); err != nil {
		r.logger.Debug("remove %s: notify: %v", name, err)
	}
	util.CloseQuietly(s)
	r.logger.Info("removed %s", s)
	return nil
}

// Detach deletes s's entry if the name still maps to s itself.  It
// reports whether an entry was deleted; calling it again is a no-op.
func (r *Registry) Detach(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(s)
}

func (r *Registry) detachLocked(s *Session) bool {
	name := s.Name()
	if cur, ok := r.sessions[name]; ok && cur == s {
		delete(r.sessions, name)
		return true
	}
	return false
}

// Rename moves s to newName.  On collision it returns ErrNameTaken with
// no side effects.  On success it pushes "RENAME <new>" to s and
// announces the change to everyone, s included, and returns the old
// name.
func (r *Registry) Rename(s *Session, newName string) (string, error) {
	r.mu.Lock()
	old := s.Name()
	if cur, ok := r.sessions[old]; !ok || cur != s {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", chaterr.ErrNoSuchSession, old)
	}
	if _, taken := r.sessions[newName]; taken {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", chaterr.ErrNameTaken, newName)
	}
	delete(r.sessions, old)
	r.sessions[newName] = s
	s.setName(newName)
	r.mu.Unlock()

	switch err := s.Send(MsgRename + newName); {
	case tooLarge(err):
		r.logger.Warn("rename %s: %v", s, err)
	case err != nil:
		r.prune([]*Session{s}, err)
	default:
		r.metrics.Delivered(1)
	}
	if err := r.Broadcast(fmt.Sprintf("*** %s changed username to %s", old, newName)); err != nil {
		r.logger.Warn("rename notice for %s: %v", s, err)
	}
	return old, nil
}

// SendTo delivers msg to the session registered under name.  A write
// failure prunes the target and is returned.  A message too large for
// one frame is returned as ErrFrameTooLarge and the target is kept.
func (r *Registry) SendTo(name, msg string) error {
	s, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", chaterr.ErrNoSuchSession, name)
	}
	if err := s.Send(msg); err != nil {
		if tooLarge(err) {
			return err
		}
		r.prune([]*Session{s}, err)
		return chaterr.Wrap("write", s.RemoteAddr(), err)
	}
	r.metrics.Delivered(1)
	return nil
}

// Broadcast delivers msg to every registered session.
func (r *Registry) Broadcast(msg string) error { return r.BroadcastExcept(msg, nil) }

// BroadcastExcept delivers msg to every registered session except skip.
// The recipient list is snapshotted under the lock and written outside
// it; sessions whose write fails are pruned afterwards.
//
// A message that does not fit in a frame is nobody's fault: every
// recipient shares the key, so it fails for all of them alike.  It is
// dropped, no one is pruned, and ErrFrameTooLarge is returned.
func (r *Registry) BroadcastExcept(msg string, skip *Session) error {
	targets := r.snapshot(skip)

	var failed []*Session
	var lastErr, oversize error
	delivered := 0
	for _, s := range targets {
		err := s.Send(msg)
		if err == nil {
			delivered++
			continue
		}
		if tooLarge(err) {
			oversize = err
			break
		}
		failed = append(failed, s)
		lastErr = err
	}
	r.metrics.Delivered(delivered)

	if len(failed) > 0 {
		r.prune(failed, lastErr)
	}
	return oversize
}

// tooLarge reports whether a send failed only because the message did
// not fit in one frame.  Nothing reached the wire in that case.
func tooLarge(err error) bool { return chaterr.Is(err, chaterr.ErrFrameTooLarge) }

func (r *Registry) snapshot(skip *Session) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != skip {
			out = append(out, s)
		}
	}
	return out
}

// prune detaches and closes sessions whose writes failed.  Entries that
// were renamed or replaced in the meantime are left alone.
func (r *Registry) prune(failed []*Session, cause error) {
	r.mu.Lock()
	for _, s := range failed {
		if r.detachLocked(s) {
			r.metrics.SessionPruned()
		}
	}
	r.mu.Unlock()

	for _, s := range failed {
		r.logger.Verbose("pruning %s after write failure: %v", s, cause)
		util.CloseQuietly(s)
	}
}

// Lookup returns the session registered under name.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	return s, ok
}

// ListNames returns the registered names in sorted order.
func (r *Registry) ListNames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for n := range r.sessions {
		names = append(names, n)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Info describes a registered session for operators.
type Info struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	RemoteAddr string `json:"remote_addr"`
}

// List returns a sorted description of every registered session.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for n, s := range r.sessions {
		out = append(out, Info{Name: n, ID: s.ID(), RemoteAddr: s.RemoteAddr()})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll empties the registry and disconnects every session.  Used on
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for name, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Send(MsgDisconnect)
		util.CloseQuietly(s)
	}
}
