package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	chaterr "sockchat/internal/errors"
	"sockchat/util"
)

// Defaults applied by NewSSHTunnel.
const (
	DefaultSSHPort     = 22
	DefaultSSHTimeout  = 30 * time.Second
	defaultKeepalive   = 30 * time.Second
	keepaliveRequestID = "keepalive@sockchat"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// Keepalive is the interval between keepalive requests on an idle
	// chat session; a failed request marks the tunnel dead.  Zero uses
	// the default, negative disables.
	Keepalive time.Duration
}

// Addr is the gateway's host:port.
func (c *SSHConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHTunnel implements [Tunnel] over an ssh.Client.  Chat sessions are
// long-lived and mostly idle, so the tunnel sends periodic keepalives to
// notice a dead gateway before the user types into it.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	stop   chan struct{}
}

// NewSSHTunnel creates a tunnel that is ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = DefaultSSHPort
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = DefaultSSHTimeout
	}
	if cfg.Keepalive == 0 {
		cfg.Keepalive = defaultKeepalive
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the gateway and completes the SSH handshake.  Calling it
// on a live tunnel is a no-op.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	if t.IsAlive() {
		return nil
	}

	auth, err := BuildAuthMethods(t.config)
	if err != nil {
		return chaterr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}
	hk, err := hostKeyCallback(t.config)
	if err != nil {
		return chaterr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	addr := t.config.Addr()
	t.logger.Debug("dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return chaterr.Wrap("dial", addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            auth,
		HostKeyCallback: hk,
		Timeout:         t.config.ConnTimeout,
	})
	if err != nil {
		raw.Close()
		return chaterr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}
	client := ssh.NewClient(conn, chans, reqs)
	stop := make(chan struct{})

	t.mu.Lock()
	t.client = client
	t.stop = stop
	t.mu.Unlock()

	go t.watch(client)
	if t.config.Keepalive > 0 {
		go t.keepalive(client, stop)
	}
	return nil
}

// Dial opens a forwarded connection to the chat server at address.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return nil, chaterr.ErrTunnelClosed
	}

	t.logger.Debug("forwarding %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, chaterr.Wrap("tunnel dial", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.  It is safe to call repeatedly.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// IsAlive reports whether the tunnel is connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

// drop forgets client if it is still the current one.
func (t *SSHTunnel) drop(client *ssh.Client) {
	t.mu.Lock()
	if t.client == client {
		t.client = nil
		if t.stop != nil {
			close(t.stop)
			t.stop = nil
		}
	}
	t.mu.Unlock()
}

func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()
	t.drop(client)
	if err != nil {
		t.logger.Debug("gateway connection closed: %v", err)
	} else {
		t.logger.Debug("gateway connection closed")
	}
}

func (t *SSHTunnel) keepalive(client *ssh.Client, stop <-chan struct{}) {
	tick := time.NewTicker(t.config.Keepalive)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if _, _, err := client.SendRequest(keepaliveRequestID, true, nil); err != nil {
				t.logger.Warn("gateway keepalive failed: %v", err)
				t.drop(client)
				client.Close()
				return
			}
		}
	}
}

// String describes the tunnel for log lines.
func (t *SSHTunnel) String() string {
	return fmt.Sprintf("ssh://%s@%s", t.config.User, t.config.Addr())
}
