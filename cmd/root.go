// Package cmd wires up the CLI and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"sockchat/config"
	"sockchat/internal/core"
	"sockchat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sockchat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected subcommand.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	dryRun     bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "sockchat",
		Short: "Encrypted multi-user TCP chat",
		Long: `sockchat is a multi-user chat server and console client.

Clients prove a shared password, pick a unique name, and then exchange
AES-encrypted commands: broadcast, private messages, renames and a
roster of who is connected.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file")
	pf.String("password", "", "Shared password (prompted for when omitted on a terminal)")
	pf.Bool("legacy-iv", false, "Use the fixed all-zero IV of older clients")
	pf.CountP("verbose", "v", "Increase verbosity (repeatable)")
	pf.BoolVar(&g.dryRun, "dry-run", false, "Validate configuration and exit")

	root.AddCommand(serveCmd(g), connectCmd(g))
	return root
}

// globalKeys maps persistent flags to config keys.
var globalKeys = map[string]string{ //nolint:gochecknoglobals
	"password":  "password",
	"legacy-iv": "legacy_iv",
	"verbose":   "verbose",
}

// ── serve ────────────────────────────────────────────────────────────

func serveCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Example: `  sockchat serve --password s3cret
  sockchat serve --addr :9000 --admin-addr "" -v
  SOCKCHAT_PASSWORD=s3cret sockchat serve --rate-limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, g, serveKeys, nil)
			if err != nil {
				return err
			}
			logger := util.NewLogger(cfg.Verbose + 1)
			mode, err := core.BuildServe(cfg, logger)
			if err != nil {
				return err
			}
			if g.dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			}
			return mode.Run(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.String("addr", "", fmt.Sprintf("Chat listen address (default \":%d\")", config.DefaultPort))
	fs.String("admin-addr", "", fmt.Sprintf("Admin HTTP address, empty to disable (default %q)", config.DefaultAdminAddr))
	fs.Duration("handshake-timeout", config.DefaultHandshakeTimeout, "Time allowed to authenticate")
	fs.Duration("write-timeout", config.DefaultWriteTimeout, "Time allowed per message write")
	fs.Duration("grace-period", config.DefaultGracePeriod, "Shutdown wait for sessions")
	fs.Float64("rate-limit", 0, "Commands per second per session (0 = unlimited)")
	fs.Int("rate-burst", 0, "Command burst size (default derived from --rate-limit)")
	return cmd
}

var serveKeys = map[string]string{ //nolint:gochecknoglobals
	"addr":              "server.addr",
	"admin-addr":        "server.admin_addr",
	"handshake-timeout": "server.handshake_timeout",
	"write-timeout":     "server.write_timeout",
	"grace-period":      "server.grace_period",
	"rate-limit":        "server.rate_limit",
	"rate-burst":        "server.rate_burst",
}

// ── connect ──────────────────────────────────────────────────────────

func connectCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <host> <port> <name>",
		Short: "Join a chat server from the console",
		Long: `Join a chat server.  Each line typed is sent as a command:

  send -all <text>            message everyone
  send -user <name> <text>    message one user
  rename <name>               change your name
  list                        show who is connected
  bye                         leave

End of input leaves the chat.`,
		Example: `  sockchat connect chat.example.com 27888 alice
  sockchat connect -T ops@bastion 10.0.0.5 27888 alice
  sockchat connect --url ws://chat.example.com:27889/ws alice`,
		Args: func(cmd *cobra.Command, args []string) error {
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := positional(args)
			if err != nil {
				return err
			}
			cfg, err := load(cmd, g, connectKeys, pos)
			if err != nil {
				return err
			}
			logger := util.NewLogger(cfg.Verbose)
			mode, err := core.BuildConnect(cfg, logger)
			if err != nil {
				return err
			}
			if g.dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			}
			return mode.Run(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.String("url", "", "Connect to a WebSocket endpoint (ws://host:port/ws) instead of host and port")
	fs.Duration("timeout", config.DefaultConnTimeout, "Dial and handshake timeout")
	fs.Int("retries", config.DefaultDialRetries, "Dial attempts before giving up")
	fs.IntP("local-port", "p", 0, "Local source port")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringP("tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.String("ssh-key", "", "SSH private key file")
	fs.Bool("ssh-password", false, "Prompt for SSH password")
	fs.Bool("ssh-agent", false, "Use SSH agent")
	fs.Bool("strict-hostkey", false, "Verify SSH host keys")
	fs.String("known-hosts", "", "Custom known_hosts path")
	return cmd
}

var connectKeys = map[string]string{ //nolint:gochecknoglobals
	"url":            "client.url",
	"timeout":        "client.timeout",
	"retries":        "client.retries",
	"local-port":     "client.local_port",
	"tunnel":         "ssh.tunnel",
	"ssh-key":        "ssh.key",
	"ssh-password":   "ssh.password",
	"ssh-agent":      "ssh.agent",
	"strict-hostkey": "ssh.strict_host_key",
	"known-hosts":    "ssh.known_hosts",
}

// positional turns "host port name" or "name" into config overrides.
func positional(args []string) (map[string]any, error) {
	if len(args) == 1 {
		return map[string]any{"client.name": args[0]}, nil
	}
	port, err := config.ParsePort(args[1])
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	return map[string]any{
		"client.host": args[0],
		"client.port": port,
		"client.name": args[2],
	}, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// load builds the config: file and environment first, then every flag
// the user set explicitly, then positional arguments, and finally an
// interactive password prompt if nothing supplied one.
func load(cmd *cobra.Command, g *globals, keys map[string]string, extra map[string]any) (*config.Config, error) {
	overrides := changed(cmd.Flags(), globalKeys)
	for k, v := range changed(cmd.Flags(), keys) {
		overrides[k] = v
	}
	for k, v := range extra {
		overrides[k] = v
	}

	cfg, err := config.Load(g.configPath, overrides)
	if err != nil {
		return nil, err
	}

	if cfg.Password == "" && !g.dryRun {
		pw, err := util.ReadSecret("Chat password: ")
		if err != nil && !errors.Is(err, util.ErrNoTerminal) {
			return nil, err
		}
		cfg.Password = pw
	}
	return cfg, nil
}

// changed returns the values of flags set on the command line, keyed by
// config key.
func changed(fs *flag.FlagSet, keys map[string]string) map[string]any {
	out := make(map[string]any)
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		var v any
		switch f.Value.Type() {
		case "bool":
			v, _ = fs.GetBool(name)
		case "int":
			v, _ = fs.GetInt(name)
		case "count":
			v, _ = fs.GetCount(name)
		case "float64":
			v, _ = fs.GetFloat64(name)
		case "duration":
			v, _ = fs.GetDuration(name)
		default:
			v = f.Value.String()
		}
		out[key] = v
	}
	return out
}
