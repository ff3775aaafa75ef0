// Package config loads vizctl settings from TOML or YAML files.
//
// Keys present in the file override DefaultConfig; absent keys keep their
// defaults. Durations are Go duration strings ("10s", "250ms").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lightviz/internal/busy"
	"github.com/danmuck/lightviz/internal/client"
	"github.com/danmuck/lightviz/internal/logging"
	"github.com/danmuck/lightviz/internal/transport"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownFormat   = errors.New("config: unknown format")
	ErrNegativeTimeout = errors.New("config: negative duration")
	ErrInvalidLogLevel = errors.New("config: invalid log level")
	ErrStatusAddr      = errors.New("config: status addr required")
)

const DefaultStatusAddr = "127.0.0.1:9180"

type StatusConfig struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on proxied calls.
	Token string
}

type Config struct {
	Session           transport.Config
	Status            StatusConfig
	LogLevel          string
	Debounce          time.Duration
	DisconnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Session:           transport.DefaultConfig(),
		Status:            StatusConfig{Addr: DefaultStatusAddr, CorsOrigins: []string{}},
		LogLevel:          "info",
		Debounce:          busy.DefaultDebounce,
		DisconnectTimeout: client.DefaultDisconnectTimeout,
	}
}

// fileConfig is the on-disk layout shared by both formats.
type fileConfig struct {
	URL               string         `toml:"url" yaml:"url"`
	SessionManager    string         `toml:"session_manager" yaml:"session_manager"`
	Application       string         `toml:"application" yaml:"application"`
	Secret            string         `toml:"secret" yaml:"secret"`
	Extra             map[string]any `toml:"extra,omitempty" yaml:"extra,omitempty"`
	ConnectTimeout    string         `toml:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout  string         `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      string         `toml:"write_timeout" yaml:"write_timeout"`
	CallTimeout       string         `toml:"call_timeout" yaml:"call_timeout"`
	MaxMessageBytes   int64          `toml:"max_message_bytes" yaml:"max_message_bytes"`
	TLSCAFile         string         `toml:"tls_ca_file" yaml:"tls_ca_file"`
	TLSCertFile       string         `toml:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile        string         `toml:"tls_key_file" yaml:"tls_key_file"`
	TLSServerName     string         `toml:"tls_server_name" yaml:"tls_server_name"`
	TLSInsecure       bool           `toml:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify"`
	StatusAddr        string         `toml:"status_addr" yaml:"status_addr"`
	CorsOrigins       []string       `toml:"cors_origins" yaml:"cors_origins"`
	StatusToken       string         `toml:"status_token" yaml:"status_token"`
	LogLevel          string         `toml:"log_level" yaml:"log_level"`
	Debounce          string         `toml:"busy_debounce" yaml:"busy_debounce"`
	DisconnectTimeout string         `toml:"disconnect_timeout" yaml:"disconnect_timeout"`
}

// definer reports whether a top-level key was present in the file.
type definer func(key string) bool

// Load reads path, choosing the format from its extension, and validates the
// result. A leading "~" in path is expanded.
func Load(path string) (Config, error) {
	path, err := homedir.Expand(strings.TrimSpace(path))
	if err != nil {
		return Config{}, fmt.Errorf("config path %q: %w", path, err)
	}

	var (
		raw     fileConfig
		defined definer
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		defined, err = decodeYAML(path, &raw)
		if err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	cfg, err := apply(DefaultConfig(), raw, defined)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(path string, out *fileConfig) (definer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	keys := map[string]any{}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return func(key string) bool {
		_, ok := keys[key]
		return ok
	}, nil
}

func apply(cfg Config, raw fileConfig, defined definer) (Config, error) {
	s := &cfg.Session
	if defined("url") {
		s.URL = strings.TrimSpace(raw.URL)
	}
	if defined("session_manager") {
		s.SessionManagerURL = strings.TrimSpace(raw.SessionManager)
	}
	if defined("application") {
		s.Application = strings.TrimSpace(raw.Application)
	}
	if defined("secret") {
		s.Secret = raw.Secret
	}
	if defined("extra") {
		s.Extra = raw.Extra
	}
	if defined("max_message_bytes") {
		s.MaxMessageBytes = raw.MaxMessageBytes
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &s.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &s.WriteTimeout},
		{"call_timeout", raw.CallTimeout, &s.CallTimeout},
		{"busy_debounce", raw.Debounce, &cfg.Debounce},
		{"disconnect_timeout", raw.DisconnectTimeout, &cfg.DisconnectTimeout},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	tlsFiles := []struct {
		key string
		raw string
		dst *string
	}{
		{"tls_ca_file", raw.TLSCAFile, &s.TLS.CAFile},
		{"tls_cert_file", raw.TLSCertFile, &s.TLS.CertFile},
		{"tls_key_file", raw.TLSKeyFile, &s.TLS.KeyFile},
	}
	for _, f := range tlsFiles {
		if !defined(f.key) {
			continue
		}
		p, err := homedir.Expand(strings.TrimSpace(f.raw))
		if err != nil {
			return Config{}, fmt.Errorf("expand %s: %w", f.key, err)
		}
		*f.dst = p
	}
	if defined("tls_server_name") {
		s.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if defined("tls_insecure_skip_verify") {
		s.TLS.InsecureSkipVerify = raw.TLSInsecure
	}

	if defined("status_addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.StatusAddr)
	}
	if defined("cors_origins") {
		cfg.Status.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if defined("status_token") {
		cfg.Status.Token = strings.TrimSpace(raw.StatusToken)
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

// Validate checks local settings. Session settings are checked only once an
// endpoint is configured, since flags may still supply one.
func (c Config) Validate() error {
	timeouts := map[string]time.Duration{
		"connect_timeout":    c.Session.ConnectTimeout,
		"handshake_timeout":  c.Session.HandshakeTimeout,
		"write_timeout":      c.Session.WriteTimeout,
		"call_timeout":       c.Session.CallTimeout,
		"busy_debounce":      c.Debounce,
		"disconnect_timeout": c.DisconnectTimeout,
	}
	for key, d := range timeouts {
		if d < 0 {
			return fmt.Errorf("%w: %s=%s", ErrNegativeTimeout, key, d)
		}
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	if strings.TrimSpace(c.Status.Addr) == "" {
		return ErrStatusAddr
	}
	if c.Session.URL != "" || c.Session.SessionManagerURL != "" {
		if err := c.Session.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
