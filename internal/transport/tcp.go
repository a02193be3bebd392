package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"sockchat/internal/frame"
)

// StreamConn carries length-prefixed frames over a byte stream.
type StreamConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewStreamConn wraps c.  The caller hands over ownership of c.
func NewStreamConn(c net.Conn) *StreamConn {
	return &StreamConn{conn: c, r: bufio.NewReader(c)}
}

// ReadFrame reads one length-prefixed frame.
func (s *StreamConn) ReadFrame() (string, error) { return frame.Read(s.r) }

// WriteFrame writes prefix and payload in one call.
func (s *StreamConn) WriteFrame(msg string) error { return frame.Write(s.conn, msg) }

func (s *StreamConn) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *StreamConn) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// RemoteAddr returns the peer's host:port.
func (s *StreamConn) RemoteAddr() string {
	if a := s.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

func (s *StreamConn) Close() error { return s.conn.Close() }

// TCPDialer establishes plain TCP connections, optionally binding to a
// specific source port.
type TCPDialer struct {
	Timeout   time.Duration
	LocalPort int // optional source-port binding (0 = ephemeral)
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.LocalPort > 0 {
		a, err := net.ResolveTCPAddr(network, fmt.Sprintf(":%d", d.LocalPort))
		if err != nil {
			return nil, fmt.Errorf("resolve local addr: %w", err)
		}
		dialer.LocalAddr = a
	}

	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
