package chat

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sockchat/internal/cipher"
	"sockchat/internal/metrics"
	"sockchat/internal/session"
	"sockchat/internal/transport"
	"sockchat/util"
)

const testPassword = "correct horse"

var (
	codecOnce sync.Once
	codec     *cipher.Codec
)

func testCodec(t testing.TB) *cipher.Codec {
	t.Helper()
	codecOnce.Do(func() {
		c, err := cipher.New(testPassword, cipher.IVRandom)
		if err != nil {
			panic(err)
		}
		codec = c
	})
	return codec
}

// fixedTime renders as 2026-10-19T12:00:00.123.
var fixedTime = time.Date(2026, 10, 19, 12, 0, 0, 123_000_000, time.Local)

type harness struct {
	t       *testing.T
	svc     *Service
	reg     *session.Registry
	metrics *metrics.Collector
	ctx     context.Context
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, tweak ...func(*Config)) *harness {
	t.Helper()
	m := metrics.New()
	logger := util.NewLogger(0)
	reg := session.NewRegistry(logger, m)

	cfg := Config{
		Codec:            testCodec(t),
		Registry:         reg,
		Logger:           logger,
		Metrics:          m,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
		Clock:            func() time.Time { return fixedTime },
	}
	for _, f := range tweak {
		f(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{t: t, svc: svc, reg: reg, metrics: m, ctx: ctx, cancel: cancel}
}

// client is the far end of an in-memory connection to the service.
type client struct {
	t      *testing.T
	raw    net.Conn
	conn   *transport.StreamConn
	frames chan string
	done   chan error // Handle's return value
}

func (h *harness) dial() *client {
	h.t.Helper()
	server, peer := net.Pipe()

	c := &client{
		t:      h.t,
		raw:    peer,
		conn:   transport.NewStreamConn(peer),
		frames: make(chan string, 256),
		done:   make(chan error, 1),
	}
	go func() { c.done <- h.svc.Handle(h.ctx, transport.NewStreamConn(server)) }()
	go func() {
		defer close(c.frames)
		for {
			f, err := c.conn.ReadFrame()
			if err != nil {
				return
			}
			c.frames <- f
		}
	}()
	h.t.Cleanup(func() { c.conn.Close() })
	return c
}

// login dials and completes the handshake as name.
func (h *harness) login(name string) *client {
	h.t.Helper()
	c := h.dial()
	c.writePlain("HASH " + cipher.Hash(testPassword))
	c.send("RENAME " + name)
	c.expectPlain(ReplyOK)
	return c
}

func (c *client) writePlain(s string) {
	c.t.Helper()
	_ = c.conn.WriteFrame(s)
}

func (c *client) send(line string) {
	c.t.Helper()
	ct, err := testCodec(c.t).Encrypt(line)
	require.NoError(c.t, err)
	_ = c.conn.WriteFrame(ct)
}

func (c *client) next() (string, bool) {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		return f, ok
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for a frame")
		return "", false
	}
}

func (c *client) expectPlain(want string) {
	c.t.Helper()
	got, ok := c.next()
	require.True(c.t, ok, "connection closed while waiting for %q", want)
	require.Equal(c.t, want, got)
}

func (c *client) expect(want string) {
	c.t.Helper()
	got, ok := c.next()
	require.True(c.t, ok, "connection closed while waiting for %q", want)
	pt, err := testCodec(c.t).Decrypt(got)
	require.NoError(c.t, err, "frame %q", got)
	require.Equal(c.t, want, pt)
}

func (c *client) expectNothing() {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		if ok {
			pt, _ := testCodec(c.t).Decrypt(f)
			c.t.Fatalf("unexpected frame %q (%q)", f, pt)
		}
	case <-time.After(80 * time.Millisecond):
	}
}

// expectClosed drains until the server hangs up.
func (c *client) expectClosed() {
	c.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("server did not close the connection")
		}
	}
}

func (c *client) handleErr() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		c.t.Fatal("Handle did not return")
		return nil
	}
}

func (c *client) hangUp() { c.conn.Close() }
