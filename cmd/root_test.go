package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	flag "github.com/spf13/pflag"

	chaterr "sockchat/internal/errors"
)

// run executes the CLI with captured output.
func run(args ...string) (string, error) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out, err := run("--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q should contain %q", out, version)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			out, err := run(args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, "connect") || !strings.Contains(out, "serve") {
				t.Errorf("help should list subcommands: %q", out)
			}
		})
	}
}

// TestExecute_ServeDryRun verifies --dry-run validates and exits cleanly.
func TestExecute_ServeDryRun(t *testing.T) {
	out, err := run("serve", "--password", "pw", "--addr", ":9999", "--rate-limit", "2", "--dry-run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "configuration OK") {
		t.Errorf("output = %q", out)
	}
}

// TestExecute_ServeNoPassword verifies --dry-run still catches bad
// configs.
func TestExecute_ServeNoPassword(t *testing.T) {
	t.Setenv("SOCKCHAT_PASSWORD", "")
	_, err := run("serve", "--dry-run")
	var ce *chaterr.ConfigError
	if !chaterr.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

// TestExecute_PasswordFromEnv verifies environment configuration.
func TestExecute_PasswordFromEnv(t *testing.T) {
	t.Setenv("SOCKCHAT_PASSWORD", "from-env")
	if _, err := run("serve", "--dry-run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_ConnectDryRun(t *testing.T) {
	tests := [][]string{
		{"connect", "--password", "pw", "--dry-run", "localhost", "27888", "alice"},
		{"connect", "--password", "pw", "--dry-run", "--url", "ws://localhost:27889/ws", "alice"},
		{"connect", "--password", "pw", "--dry-run", "-T", "ops@bastion:2222", "10.0.0.5", "27888", "alice"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[4:], " "), func(t *testing.T) {
			if _, err := run(args...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecute_ConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantSub string
	}{
		{"missing name", []string{"connect", "--password", "pw", "localhost", "27888"}, "accepts 3 arg(s)"},
		{"bad port", []string{"connect", "--password", "pw", "--dry-run", "localhost", "http", "alice"}, "port"},
		{"url takes only a name", []string{"connect", "--url", "ws://x/ws", "h", "1", "n"}, "accepts 1 arg(s)"},
		{"bad tunnel", []string{"connect", "--password", "pw", "--dry-run", "-T", "me@gw:0x", "h", "1", "n"}, "tunnel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if _, err := run("serve", "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestChanged verifies only explicitly set flags become overrides.
func TestChanged(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.String("addr", ":1", "")
	fs.Duration("grace-period", time.Second, "")
	fs.CountP("verbose", "v", "")
	fs.Bool("legacy-iv", false, "")
	if err := fs.Parse([]string{"--grace-period", "3s", "-vv"}); err != nil {
		t.Fatal(err)
	}

	got := changed(fs, map[string]string{
		"addr":         "server.addr",
		"grace-period": "server.grace_period",
		"verbose":      "verbose",
		"legacy-iv":    "legacy_iv",
	})
	if len(got) != 2 {
		t.Fatalf("got %v, want two overrides", got)
	}
	if got["server.grace_period"] != 3*time.Second {
		t.Errorf("grace_period = %v", got["server.grace_period"])
	}
	if got["verbose"] != 2 {
		t.Errorf("verbose = %v", got["verbose"])
	}
}
