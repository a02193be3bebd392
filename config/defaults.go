package config

import (
	"fmt"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the chat server's well-known port.
	DefaultPort = 27888

	// DefaultAdminAddr serves the admin HTTP API on loopback only.
	DefaultAdminAddr = "127.0.0.1:27889"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultHandshakeTimeout bounds the credential and identity reads.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds each frame written to a session.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to end.
	DefaultGracePeriod = 5 * time.Second

	// DefaultConnTimeout is the client's TCP/SSH dial timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultDialRetries is how many times the client dials before
	// giving up.
	DefaultDialRetries = 5

	// DefaultKeepAlive is the SSH keepalive interval.
	DefaultKeepAlive = 30 * time.Second
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             fmt.Sprintf(":%d", DefaultPort),
			AdminAddr:        DefaultAdminAddr,
			HandshakeTimeout: DefaultHandshakeTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			GracePeriod:      DefaultGracePeriod,
		},
		Client: ClientConfig{
			Port:    DefaultPort,
			Timeout: DefaultConnTimeout,
			Retries: DefaultDialRetries,
		},
		SSH: SSHConfig{
			Keepalive: DefaultKeepAlive,
		},
	}
}
