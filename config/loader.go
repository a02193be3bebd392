package config

// loader.go - layered configuration loading.
//
// Precedence order (highest wins):
//   1. CLI flags  (passed in by cmd/root.go as overrides)
//   2. Environment variables  (SOCKCHAT_*)
//   3. YAML file  (--config)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix starts every supported environment variable.
const EnvPrefix = "SOCKCHAT_"

// sections are the nested keys; anything else is top level.
var sections = []string{"server", "client", "ssh"}

// envKey maps SOCKCHAT_SERVER_HANDSHAKE_TIMEOUT to
// server.handshake_timeout and SOCKCHAT_LEGACY_IV to legacy_iv.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(s, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return s
}

// Load builds a Config from defaults, the optional YAML file at path,
// the environment, and finally overrides (koanf keys to values, usually
// from explicitly set CLI flags).
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(mapProvider(overrides), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// errReadBytes is returned when koanf asks a map provider for bytes.
var errReadBytes = errors.New("config: map provider has no byte form")

// mapProvider is a koanf provider over an already-parsed map with
// dotted keys.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, errReadBytes }

// Read expands dotted keys into the nested map koanf expects.
func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, v := range m {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out, nil
}
