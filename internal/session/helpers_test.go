package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sockchat/internal/cipher"
	"sockchat/internal/transport"
	"sockchat/util"
)

var (
	codecOnce   sync.Once
	sharedCodec *cipher.Codec
)

// testCodec derives the key once per package run; PBKDF2 is slow on
// purpose.
func testCodec(t testing.TB) *cipher.Codec {
	t.Helper()
	codecOnce.Do(func() {
		c, err := cipher.New("test-password", cipher.IVRandom)
		if err != nil {
			panic(err)
		}
		sharedCodec = c
	})
	return sharedCodec
}

// peer is the client end of an in-memory session.  It decrypts every
// frame it receives into msgs.
type peer struct {
	t    testing.TB
	conn *transport.StreamConn
	msgs chan string
}

func newTestSession(t testing.TB) (*Session, *peer) {
	t.Helper()
	codec := testCodec(t)
	server, client := net.Pipe()

	s := New(transport.NewStreamConn(server), codec, Options{
		WriteTimeout: time.Second,
		Logger:       util.NewLogger(0),
	})
	p := &peer{t: t, conn: transport.NewStreamConn(client), msgs: make(chan string, 4096)}

	go func() {
		defer close(p.msgs)
		for {
			ct, err := p.conn.ReadFrame()
			if err != nil {
				return
			}
			msg, err := codec.Decrypt(ct)
			if err != nil {
				msg = "UNDECRYPTABLE " + ct
			}
			p.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		s.Close()
		p.conn.Close()
	})
	return s, p
}

func (p *peer) expect(want string) {
	p.t.Helper()
	select {
	case got, ok := <-p.msgs:
		require.True(p.t, ok, "connection closed while waiting for %q", want)
		require.Equal(p.t, want, got)
	case <-time.After(2 * time.Second):
		p.t.Fatalf("timed out waiting for %q", want)
	}
}

func (p *peer) expectNothing() {
	p.t.Helper()
	select {
	case got, ok := <-p.msgs:
		if ok {
			p.t.Fatalf("unexpected message %q", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// expectClosed waits for the server side to hang up.
func (p *peer) expectClosed() {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.msgs:
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("connection still open")
		}
	}
}

// hangUp drops the client end so the next server write fails.
func (p *peer) hangUp() { p.conn.Close() }
