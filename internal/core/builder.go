package core

import (
	"net/http"
	"os/user"
	"time"

	"sockchat/config"
	"sockchat/internal/admin"
	"sockchat/internal/capability"
	"sockchat/internal/chat"
	"sockchat/internal/cipher"
	"sockchat/internal/metrics"
	"sockchat/internal/retry"
	"sockchat/internal/session"
	"sockchat/internal/transport"
	"sockchat/tunnel"
	"sockchat/util"
)

// ── mode builders ────────────────────────────────────────────────────

// BuildServe validates cfg and assembles the server: key derivation,
// registry, chat service, TCP listener and admin API.
func BuildServe(cfg *config.Config, logger *util.Logger) (*ServeMode, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	codec, err := cipher.New(cfg.Password, cfg.IVMode())
	if err != nil {
		return nil, err
	}
	if codec.Mode() == cipher.IVZero {
		logger.Warn("legacy zero IV enabled: identical messages encrypt identically")
	}

	m := metrics.New()
	reg := session.NewRegistry(logger, m)
	svc, err := chat.NewService(chat.Config{
		Codec:            codec,
		Registry:         reg,
		Logger:           logger,
		Metrics:          m,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
	})
	if err != nil {
		return nil, err
	}

	mode := &ServeMode{
		Listen: &ListenMode{
			Address:    util.ListenAddr(cfg.Server.Addr),
			Capability: svc,
			Logger:     logger,
			Metrics:    m,
		},
		Registry:    reg,
		GracePeriod: cfg.Server.GracePeriod,
		Logger:      logger,
	}
	if cfg.Server.AdminAddr != "" {
		api := admin.NewRouter(admin.Options{
			Registry: reg,
			Chat:     svc,
			Metrics:  m,
			Logger:   logger,
		})
		mode.Admin = &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}
		mode.WebSockets = api
	}
	return mode, nil
}

// BuildConnect validates cfg and assembles the console client.
func BuildConnect(cfg *config.Config, logger *util.Logger) (*ConnectMode, error) {
	if err := cfg.ValidateConnect(); err != nil {
		return nil, err
	}

	b := retry.ForDial()
	b.MaxAttempts = max(cfg.Client.Retries, 1)

	mode := &ConnectMode{
		Capability: &capability.Console{
			Password:         cfg.Password,
			IVMode:           cfg.IVMode(),
			Name:             cfg.Client.Name,
			HandshakeTimeout: cfg.Client.Timeout,
			Logger:           logger,
		},
		Retry:  b,
		Logger: logger,
	}
	if cfg.Client.URL != "" {
		mode.URL = cfg.Client.URL
		return mode, nil
	}

	dialer, err := buildDialer(cfg, logger)
	if err != nil {
		return nil, err
	}
	mode.Dialer = dialer
	mode.Address = util.FormatAddr(cfg.Client.Host, cfg.Client.Port)
	return mode, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) (transport.Dialer, error) {
	if cfg.SSH.Tunnel == "" {
		return &transport.TCPDialer{
			Timeout:   cfg.Client.Timeout,
			LocalPort: cfg.Client.LocalPort,
		}, nil
	}

	u, host, port, err := config.ParseTunnelSpec(cfg.SSH.Tunnel)
	if err != nil {
		return nil, err
	}
	if u == "" {
		u = currentUser()
	}
	return transport.NewSSHDialer(&tunnel.SSHConfig{
		User:          u,
		Host:          host,
		Port:          port,
		KeyPath:       cfg.SSH.Key,
		PromptPass:    cfg.SSH.Password,
		UseAgent:      cfg.SSH.Agent,
		StrictHostKey: cfg.SSH.StrictHostKey,
		KnownHosts:    cfg.SSH.KnownHosts,
		ConnTimeout:   cfg.Client.Timeout,
		Keepalive:     cfg.SSH.Keepalive,
	}, logger), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}
