package capability

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sockchat/internal/cipher"
	"sockchat/internal/client"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/transport"
	"sockchat/util"
)

// Console is the interactive client: it joins the chat as Name, then
// sends each stdin line as a command and prints every server push to
// stdout until the server says DISCONNECT.
type Console struct {
	Password string
	IVMode   cipher.IVMode
	Name     string

	// HandshakeTimeout bounds the wait for the server's verdict.
	HandshakeTimeout time.Duration

	Logger *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

func (c *Console) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Console) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c *Console) logger() *util.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return util.NewLogger(0)
}

// Handle performs the handshake and relays until either side is done.
// A handshake refusal is returned as-is so callers can classify it.
func (c *Console) Handle(ctx context.Context, conn transport.Conn) error {
	cl, err := client.New(conn, c.Password, c.IVMode)
	if err != nil {
		conn.Close()
		return err
	}
	defer cl.Close()

	hctx := ctx
	if c.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.HandshakeTimeout)
		defer cancel()
	}
	if err := cl.Handshake(hctx, c.Name); err != nil {
		return err
	}
	c.logger().Info("joined %s as %s", conn.RemoteAddr(), c.Name)

	return c.relay(ctx, cl)
}

// relay shuttles stdin lines to the server and pushes to stdout until
// the server disconnects us, the connection fails, or ctx ends.  End of
// input sends "bye" and keeps printing until the server's DISCONNECT.
func (c *Console) relay(ctx context.Context, cl *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := c.logger()
	errCh := make(chan error, 2)
	recvDone := make(chan struct{})

	// server → stdout
	go func() {
		defer close(recvDone)
		out := c.stdout()
		for {
			p, err := cl.Receive()
			if chaterr.Is(err, chaterr.ErrDecode) {
				log.Warn("dropping unreadable push: %v", err)
				continue
			}
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			switch p.Kind {
			case client.PushDisconnect:
				cancel()
				return
			case client.PushRename:
				log.Verbose("now known as %s", p.Name)
			default:
				fmt.Fprintln(out, p.Text)
			}
		}
	}()

	// stdin → server.  Not waited for: a blocked terminal read cannot be
	// interrupted, and sends fail once the connection is closed.
	go func() {
		sc := bufio.NewScanner(c.stdin())
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if line == "" {
				continue
			}
			if err := cl.Send(line); err != nil {
				errCh <- err
				cancel()
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.Warn("reading input: %v", err)
		}
		if err := cl.Send("bye"); err != nil {
			errCh <- err
			cancel()
		}
	}()

	<-ctx.Done()
	cl.Close() // unblock the receiver
	<-recvDone

	for {
		select {
		case err := <-errCh:
			if !util.IsHarmless(err) {
				return err
			}
		default:
			return nil
		}
	}
}
