package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

var (
	ErrURLRequired             = errors.New("transport: session url or session manager url required")
	ErrInvalidScheme           = errors.New("transport: invalid url scheme")
	ErrTLSCertFileRequired     = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("transport: tls key file required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify requires wss")
)

// Validate checks the endpoint and TLS settings before dialing.
func (c Config) Validate() error {
	sessionURL := strings.TrimSpace(c.URL)
	manager := strings.TrimSpace(c.SessionManagerURL)
	if sessionURL == "" && manager == "" {
		return ErrURLRequired
	}
	if sessionURL != "" {
		if err := validateScheme(sessionURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if manager != "" {
		if err := validateScheme(manager, "http", "https"); err != nil {
			return err
		}
	}

	hasCert := strings.TrimSpace(c.TLS.CertFile) != ""
	hasKey := strings.TrimSpace(c.TLS.KeyFile) != ""
	if hasCert && !hasKey {
		return ErrTLSKeyFileRequired
	}
	if hasKey && !hasCert {
		return ErrTLSCertFileRequired
	}
	if c.TLS.InsecureSkipVerify && sessionURL != "" && !strings.HasPrefix(strings.ToLower(sessionURL), "wss:") {
		return ErrTLSInsecureSkipNotAllow
	}
	return nil
}

func validateScheme(raw string, allowed ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScheme, err)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range allowed {
		if scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%w: missing host in %q", ErrInvalidScheme, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q (want %s)", ErrInvalidScheme, u.Scheme, strings.Join(allowed, " or "))
}

// clientTLSConfig builds the TLS settings for a wss:// or https:// endpoint.
// It returns nil for plain endpoints.
func clientTLSConfig(cfg TLSConfig, endpoint string) (*tls.Config, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
	default:
		return nil, nil
	}

	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(cfg.ServerName)
	if serverName == "" {
		serverName = u.Hostname()
		if host, _, err := net.SplitHostPort(u.Host); err == nil {
			serverName = host
		}
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(cfg.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}

	if strings.TrimSpace(cfg.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
