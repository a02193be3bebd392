package session

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterr "sockchat/internal/errors"
	"sockchat/internal/metrics"
	"sockchat/util"
)

func newRegistry() *Registry {
	return NewRegistry(util.NewLogger(0), metrics.New())
}

func TestRegistry_Insert(t *testing.T) {
	r := newRegistry()
	a, _ := newTestSession(t)
	b, _ := newTestSession(t)

	require.NoError(t, r.Insert("alice", a))
	assert.Equal(t, "alice", a.Name())
	assert.True(t, a.Authenticated())

	err := r.Insert("alice", b)
	assert.ErrorIs(t, err, chaterr.ErrNameTaken)
	assert.Empty(t, b.Name(), "rejected session keeps no name")
	assert.False(t, b.Authenticated())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentInsertSameName(t *testing.T) {
	r := newRegistry()

	const n = 32
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i], _ = newTestSession(t)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if r.Insert("alice", s) == nil {
				wins.Add(1)
			}
		}(s)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, []string{"alice"}, r.ListNames())
}

func TestRegistry_Remove(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))

	assert.ErrorIs(t, r.Remove("bob"), chaterr.ErrNoSuchSession)

	require.NoError(t, r.Remove("alice"))
	pa.expect(MsgDisconnect)
	pa.expectClosed()

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	assert.ErrorIs(t, r.Remove("alice"), chaterr.ErrNoSuchSession)
}

func TestRegistry_RemoveToleratesDeadPeer(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	pa.hangUp()

	require.NoError(t, r.Remove("alice"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DetachIsIdentityChecked(t *testing.T) {
	r := newRegistry()
	old, _ := newTestSession(t)
	fresh, _ := newTestSession(t)

	require.NoError(t, r.Insert("alice", old))
	assert.True(t, r.Detach(old))
	assert.False(t, r.Detach(old), "second detach is a no-op")

	require.NoError(t, r.Insert("alice", fresh))
	assert.False(t, r.Detach(old), "stale session must not evict the new owner of its name")

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistry_Rename(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))

	old, err := r.Rename(a, "carol")
	require.NoError(t, err)
	assert.Equal(t, "alice", old)
	assert.Equal(t, "carol", a.Name())

	pa.expect("RENAME carol")
	pa.expect("*** alice changed username to carol")
	pb.expect("*** alice changed username to carol")

	assert.Equal(t, []string{"bob", "carol"}, r.ListNames())
}

func TestRegistry_RenameCollision(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))

	_, err := r.Rename(a, "bob")
	assert.ErrorIs(t, err, chaterr.ErrNameTaken)

	assert.Equal(t, "alice", a.Name())
	assert.Equal(t, []string{"alice", "bob"}, r.ListNames())
	pa.expectNothing()
	pb.expectNothing()
}

func TestRegistry_RenameUnregistered(t *testing.T) {
	r := newRegistry()
	a, _ := newTestSession(t)

	_, err := r.Rename(a, "alice")
	assert.ErrorIs(t, err, chaterr.ErrNoSuchSession)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SendTo(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))

	assert.ErrorIs(t, r.SendTo("bob", "hi"), chaterr.ErrNoSuchSession)

	require.NoError(t, r.SendTo("alice", "hi alice"))
	pa.expect("hi alice")
}

func TestRegistry_SendToPrunesOnFailure(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	pa.hangUp()

	err := r.SendTo("alice", "hello?")
	require.Error(t, err)
	assert.NotErrorIs(t, err, chaterr.ErrNoSuchSession)

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	<-a.Done()
}

func TestRegistry_BroadcastPrunesFailedSessions(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(util.NewLogger(0), m)

	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	c, pc := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))
	require.NoError(t, r.Insert("carol", c))

	pb.hangUp()
	r.Broadcast("*** hello")

	pa.expect("*** hello")
	pc.expect("*** hello")

	assert.Equal(t, []string{"alice", "carol"}, r.ListNames())
	<-b.Done()
	assert.EqualValues(t, 1, m.PrunedSessions())
	assert.EqualValues(t, 2, m.Deliveries())
}

func TestRegistry_OversizeMessageKeepsRecipients(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(util.NewLogger(0), m)
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))

	huge := strings.Repeat("x", 60000)
	assert.ErrorIs(t, r.Broadcast(huge), chaterr.ErrFrameTooLarge)
	assert.ErrorIs(t, r.SendTo("bob", huge), chaterr.ErrFrameTooLarge)

	pa.expectNothing()
	pb.expectNothing()
	assert.Equal(t, []string{"alice", "bob"}, r.ListNames())
	assert.Zero(t, m.PrunedSessions())

	require.NoError(t, r.Broadcast("*** still here"))
	pa.expect("*** still here")
	pb.expect("*** still here")
}

func TestRegistry_BroadcastExcept(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))

	r.BroadcastExcept("*** bob has connected.", b)

	pa.expect("*** bob has connected.")
	pb.expectNothing()
}

func TestRegistry_ListSorted(t *testing.T) {
	r := newRegistry()
	for _, n := range []string{"zed", "alice", "mallory", "bob"} {
		s, _ := newTestSession(t)
		require.NoError(t, r.Insert(n, s))
	}

	assert.Equal(t, []string{"alice", "bob", "mallory", "zed"}, r.ListNames())

	infos := r.List()
	require.Len(t, infos, 4)
	assert.Equal(t, "alice", infos[0].Name)
	assert.NotEmpty(t, infos[0].ID)
	assert.Equal(t, "pipe", infos[0].RemoteAddr)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)
	require.NoError(t, r.Insert("alice", a))
	require.NoError(t, r.Insert("bob", b))

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	pa.expect(MsgDisconnect)
	pb.expect(MsgDisconnect)
	pa.expectClosed()
	pb.expectClosed()
}

// TestRegistry_ConcurrentMutations hammers the registry from many
// goroutines and checks that every entry stays consistent with its
// session's name.  Run with -race.
func TestRegistry_ConcurrentMutations(t *testing.T) {
	r := newRegistry()

	const workers = 8
	sessions := make([]*Session, workers)
	for i := range sessions {
		sessions[i], _ = newTestSession(t)
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := fmt.Sprintf("user%d", (i+j)%4)
				if r.Insert(name, s) == nil {
					_, _ = r.Rename(s, fmt.Sprintf("renamed%d-%d", i, j))
					r.Detach(s)
				}
				_ = r.ListNames()
			}
		}(i, s)
	}
	wg.Wait()

	for _, name := range r.ListNames() {
		s, ok := r.Lookup(name)
		require.True(t, ok)
		assert.Equal(t, name, s.Name())
	}
	assert.Equal(t, 0, r.Len(), "every worker detached what it inserted")
}

func TestRegistry_AdmitAcksInTheClear(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	b, pb := newTestSession(t)

	require.NoError(t, r.Admit("alice", a, "OK"))
	pa.expect("UNDECRYPTABLE OK")
	assert.True(t, a.Authenticated())

	err := r.Admit("alice", b, "OK")
	assert.ErrorIs(t, err, chaterr.ErrNameTaken)
	pb.expectNothing()
}

func TestRegistry_AdmitWithdrawsOnWriteFailure(t *testing.T) {
	r := newRegistry()
	a, pa := newTestSession(t)
	pa.hangUp()

	require.Error(t, r.Admit("alice", a, "OK"))
	assert.Equal(t, 0, r.Len())
}
