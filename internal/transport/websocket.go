package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	chaterr "sockchat/internal/errors"
	"sockchat/internal/frame"
)

// closeWait bounds the close handshake sent by WSConn.Close.
const closeWait = time.Second

// WSConn carries one frame per WebSocket message.  Text messages hold
// the frame text as UTF-8; binary messages hold a modified UTF-8 payload
// without the length prefix, as a stream client would send it.
type WSConn struct {
	ws   *websocket.Conn
	addr string
}

// NewWSConn wraps an upgraded connection.  addr overrides the peer
// address shown to other users (e.g. from X-Forwarded-For); empty uses
// the socket address.
func NewWSConn(ws *websocket.Conn, addr string) *WSConn {
	if addr == "" {
		addr = ws.RemoteAddr().String()
	}
	ws.SetReadLimit(frame.MaxPayload)
	return &WSConn{ws: ws, addr: addr}
}

// ReadFrame returns the next data message.
func (c *WSConn) ReadFrame() (string, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	if mt == websocket.BinaryMessage {
		return frame.Decode(data)
	}
	return string(data), nil
}

// WriteFrame sends msg as one text message.  The size limit matches the
// stream transport so both kinds of client see the same ceiling.
func (c *WSConn) WriteFrame(msg string) error {
	if n := frame.EncodedLen(msg); n > frame.MaxPayload {
		return fmt.Errorf("%w: %d bytes", chaterr.ErrFrameTooLarge, n)
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *WSConn) RemoteAddr() string                 { return c.addr }

// Close sends a best-effort close message and drops the socket.
func (c *WSConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return c.ws.Close()
}

// DialWebSocket connects to a chat server's WebSocket endpoint, e.g.
// ws://host:8080/ws.
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WSConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, chaterr.Wrap("dial", url, err)
	}
	return NewWSConn(ws, ""), nil
}
