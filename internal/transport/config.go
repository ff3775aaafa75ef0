package transport

import (
	"time"

	"github.com/danmuck/lightviz/internal/protocol/wslink"
)

const DefaultSecret = "wslink-secret"

// TLSConfig controls wss:// dialing.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config describes how to reach one remote session.
type Config struct {
	// URL is the ws:// or wss:// session endpoint. When SessionManagerURL is
	// set, URL may be empty and is resolved through the launcher.
	URL               string
	SessionManagerURL string
	Application       string
	Secret            string
	// Extra is merged into the launcher request body.
	Extra map[string]any

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CallTimeout bounds calls whose context has no deadline. Zero disables it.
	CallTimeout     time.Duration
	MaxMessageBytes int64
	TLS             TLSConfig
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		Secret:           DefaultSecret,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     15 * time.Second,
		CallTimeout:      0,
		MaxMessageBytes:  wslink.DefaultMaxMessageBytes,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Secret == "" {
		c.Secret = def.Secret
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	return c
}
