// Package config defines the runtime configuration for sockchat and
// provides helpers for parsing tunnel specifications and ports.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"sockchat/internal/cipher"
	chaterr "sockchat/internal/errors"
)

// Config holds every tuneable for the server and the console client.
// Keys are koanf paths: "server.addr" in YAML is SOCKCHAT_SERVER_ADDR in
// the environment.
type Config struct {
	// Password is the shared secret.  Never logged.
	Password string `koanf:"password"`
	// LegacyIV selects the fixed all-zero IV for peers that need it.
	LegacyIV bool `koanf:"legacy_iv"`
	Verbose  int  `koanf:"verbose"`

	Server ServerConfig `koanf:"server"`
	Client ClientConfig `koanf:"client"`
	SSH    SSHConfig    `koanf:"ssh"`
}

// ServerConfig configures `sockchat serve`.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// AdminAddr serves /healthz, /metrics, /sessions and /ws; empty
	// disables the admin listener.
	AdminAddr        string        `koanf:"admin_addr"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	GracePeriod      time.Duration `koanf:"grace_period"`
	// RateLimit is commands per second per session; 0 disables.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// ClientConfig configures `sockchat connect`.
type ClientConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Name string `koanf:"name"`
	// URL, when set, reaches the server's /ws endpoint instead of Host
	// and Port.
	URL       string        `koanf:"url"`
	Timeout   time.Duration `koanf:"timeout"`
	Retries   int           `koanf:"retries"`
	LocalPort int           `koanf:"local_port"`
}

// SSHConfig routes the console client through an SSH gateway.
type SSHConfig struct {
	// Tunnel is [user@]host[:port]; empty disables tunnelling.
	Tunnel        string        `koanf:"tunnel"`
	Key           string        `koanf:"key"`
	Password      bool          `koanf:"password"` // prompt interactively
	Agent         bool          `koanf:"agent"`
	StrictHostKey bool          `koanf:"strict_host_key"`
	KnownHosts    string        `koanf:"known_hosts"`
	Keepalive     time.Duration `koanf:"keepalive"`
}

// IVMode maps LegacyIV onto the cipher setting.
func (c *Config) IVMode() cipher.IVMode {
	if c.LegacyIV {
		return cipher.IVZero
	}
	return cipher.IVRandom
}

// ── Port helper ──────────────────────────────────────────────────────

// ParsePort accepts a decimal TCP port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// ValidateServe checks the settings `sockchat serve` depends on.
func (c *Config) ValidateServe() error {
	if c.Password == "" {
		return passwordMissing()
	}
	s := c.Server
	if s.Addr == "" {
		return &chaterr.ConfigError{Field: "addr", Message: "listen address is required", Hint: "use --addr :27888"}
	}
	if s.AdminAddr != "" && s.AdminAddr == s.Addr {
		return &chaterr.ConfigError{
			Field:   "admin-addr",
			Value:   s.AdminAddr,
			Message: "must differ from --addr",
			Hint:    "the admin listener speaks HTTP, the chat listener does not",
		}
	}
	if s.HandshakeTimeout < 0 {
		return &chaterr.ConfigError{Field: "handshake-timeout", Value: s.HandshakeTimeout, Message: "must not be negative"}
	}
	if s.WriteTimeout < 0 {
		return &chaterr.ConfigError{Field: "write-timeout", Value: s.WriteTimeout, Message: "must not be negative"}
	}
	if s.RateLimit < 0 {
		return &chaterr.ConfigError{Field: "rate-limit", Value: s.RateLimit, Message: "must not be negative", Hint: "use 0 to disable"}
	}
	return nil
}

// ValidateConnect checks the settings `sockchat connect` depends on.
func (c *Config) ValidateConnect() error {
	if c.Password == "" {
		return passwordMissing()
	}
	cl := c.Client
	if cl.Name == "" {
		return &chaterr.ConfigError{Field: "name", Message: "a user name is required"}
	}
	if !validName(cl.Name) {
		return &chaterr.ConfigError{Field: "name", Value: cl.Name, Message: "must be a single word", Hint: "names cannot contain spaces"}
	}
	if cl.URL == "" {
		if cl.Host == "" {
			return &chaterr.ConfigError{Field: "host", Message: "hostname is required", Hint: "usage: sockchat connect <host> <port> <name>"}
		}
		if cl.Port < 1 || cl.Port > 65535 {
			return &chaterr.ConfigError{Field: "port", Value: cl.Port, Message: "out of range 1-65535"}
		}
	}
	if c.SSH.Tunnel != "" {
		if cl.URL != "" {
			return &chaterr.ConfigError{Field: "tunnel", Value: c.SSH.Tunnel, Message: "cannot be combined with --url"}
		}
		if _, _, _, err := ParseTunnelSpec(c.SSH.Tunnel); err != nil {
			return &chaterr.ConfigError{Field: "tunnel", Value: c.SSH.Tunnel, Message: err.Error()}
		}
	}
	return nil
}

func passwordMissing() error {
	return &chaterr.ConfigError{
		Field:   "password",
		Message: "a shared password is required",
		Hint:    "pass --password, set SOCKCHAT_PASSWORD, or run from a terminal to be prompted",
	}
}

func validName(n string) bool {
	for _, r := range n {
		if r == ' ' {
			return false
		}
	}
	return n != ""
}
