// Package client speaks the chat protocol from the user's side: the
// credential and identity handshake, then encrypted commands out and
// server pushes in.  The console mode and the server's end-to-end tests
// both drive it.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sockchat/internal/cipher"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/transport"
)

// PushKind classifies a frame received from the server.
type PushKind int

const (
	// PushMessage is anything to show the user: chat lines, *** notices,
	// and ERROR replies.
	PushMessage PushKind = iota
	// PushRename tells the client its display name changed.
	PushRename
	// PushDisconnect tells the client to leave.
	PushDisconnect
)

// Push is one decrypted frame from the server.
type Push struct {
	Kind PushKind
	Text string
	Name string // new name, for PushRename
}

// Client is one connection to a chat server.  Send and Receive may be
// used from different goroutines.
type Client struct {
	conn  transport.Conn
	codec *cipher.Codec
	hash  string

	wmu sync.Mutex

	mu   sync.RWMutex
	name string
}

// New prepares a client over conn.  The password is used to derive the
// session key and the credential hash; it is not kept.
func New(conn transport.Conn, password string, mode cipher.IVMode) (*Client, error) {
	codec, err := cipher.New(password, mode)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, codec: codec, hash: cipher.Hash(password)}, nil
}

// Handshake proves the password and claims name.  It returns
// ErrAuthFailed, ErrNameTaken or ErrProtocol when the server refuses; the
// server has closed the connection in every such case.
func (c *Client) Handshake(ctx context.Context, name string) error {
	if name == "" || strings.Contains(name, " ") {
		return fmt.Errorf("%w: name must be a single non-empty word", chaterr.ErrProtocol)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := c.writePlain("HASH " + c.hash); err != nil {
		return chaterr.Wrap("write", c.conn.RemoteAddr(), err)
	}
	// The identity goes out without waiting: the server only speaks after
	// it, or to refuse the credential.  A refused credential may close the
	// connection under this write, so the reply is read regardless.
	sendErr := c.Send("RENAME " + name)

	reply, err := c.conn.ReadFrame()
	if err != nil {
		if sendErr != nil {
			err = sendErr
		}
		return chaterr.Wrap("read", c.conn.RemoteAddr(), err)
	}
	switch {
	case reply == "OK":
		c.setName(name)
		return nil
	case reply == "Invalid password.":
		return chaterr.Reject("credential", chaterr.ErrAuthFailed)
	case strings.Contains(reply, "already taken"):
		return chaterr.Reject("register", chaterr.ErrNameTaken)
	}
	return chaterr.Reject("identity", fmt.Errorf("%w: server said %q", chaterr.ErrProtocol, reply))
}

// Send encrypts and sends one command line.
func (c *Client) Send(line string) error {
	ct, err := c.codec.Encrypt(line)
	if err != nil {
		return err
	}
	return c.writePlain(ct)
}

func (c *Client) writePlain(s string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteFrame(s)
}

// Receive blocks for the next server push.  RENAME pushes update Name
// before they are returned.
func (c *Client) Receive() (Push, error) {
	ct, err := c.conn.ReadFrame()
	if err != nil {
		return Push{}, err
	}
	text, err := c.codec.Decrypt(ct)
	if err != nil {
		return Push{}, err
	}

	switch {
	case text == "DISCONNECT":
		return Push{Kind: PushDisconnect, Text: text}, nil
	case strings.HasPrefix(text, "RENAME "):
		name := strings.TrimPrefix(text, "RENAME ")
		c.setName(name)
		return Push{Kind: PushRename, Text: text, Name: name}, nil
	}
	return Push{Kind: PushMessage, Text: text}, nil
}

// Name is the display name the server currently knows us by.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Client) setName(n string) {
	c.mu.Lock()
	c.name = n
	c.mu.Unlock()
}

// Close drops the connection.
func (c *Client) Close() error { return c.conn.Close() }
