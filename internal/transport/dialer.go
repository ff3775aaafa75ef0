package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/danmuck/lightviz/internal/protocol/wslink"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer establishes wslink sessions. The zero value is usable.
type Dialer struct {
	// HTTPClient is used for session manager lookups.
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// LaunchResponse is the session manager reply.
type LaunchResponse struct {
	SessionURL string `json:"sessionURL"`
	Secret     string `json:"secret,omitempty"`
	ID         string `json:"id,omitempty"`
}

// Connect resolves, dials, and greets one session. Failures wrap
// ErrConnection; a socket that ends before the hello reply wraps
// ErrClosedBeforeReady. Both keep the underlying cause in the chain.
func (d *Dialer) Connect(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	logger := d.logger()

	endpoint := strings.TrimSpace(cfg.URL)
	if manager := strings.TrimSpace(cfg.SessionManagerURL); manager != "" {
		launch, err := d.launch(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		endpoint = launch.SessionURL
		if launch.Secret != "" {
			cfg.Secret = launch.Secret
		}
		logger.Debug().Str("manager", manager).Str("url", endpoint).Msg("session resolved")
	}

	tlsCfg, err := clientTLSConfig(cfg.TLS, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	ws, resp, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %w", ErrConnection, endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, endpoint, err)
	}

	conn := newConn(ws, cfg, endpoint, logger.With().Str("url", endpoint).Logger())
	go conn.readLoop()

	if err := conn.hello(dialCtx, cfg.Secret); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.log.Info().Str("client_id", conn.clientID).Msg("session ready")
	return conn, nil
}

func (c *Conn) hello(ctx context.Context, secret string) error {
	req := wslink.NewHello(secret)
	result, err := c.roundTrip(ctx, req.ID, req.Method, req.Args, nil)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return fmt.Errorf("%w: %w", ErrClosedBeforeReady, err)
		}
		return fmt.Errorf("%w: hello: %w", ErrConnection, err)
	}
	var hello wslink.HelloResult
	if err := json.Unmarshal(result, &hello); err != nil {
		return fmt.Errorf("%w: hello result: %w", ErrConnection, err)
	}
	if strings.TrimSpace(hello.ClientID) == "" {
		return fmt.Errorf("%w: hello result missing clientID", ErrConnection)
	}
	c.clientID = hello.ClientID
	return nil
}

func (d *Dialer) launch(ctx context.Context, cfg Config) (LaunchResponse, error) {
	body := make(map[string]any, len(cfg.Extra)+1)
	for k, v := range cfg.Extra {
		body[k] = v
	}
	if cfg.Application != "" {
		body["application"] = cfg.Application
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return LaunchResponse{}, err
	}

	tlsCfg, err := clientTLSConfig(cfg.TLS, cfg.SessionManagerURL)
	if err != nil {
		return LaunchResponse{}, err
	}
	client := d.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlsCfg
		client = &http.Client{Transport: tr, Timeout: cfg.ConnectTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SessionManagerURL, bytes.NewReader(payload))
	if err != nil {
		return LaunchResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return LaunchResponse{}, fmt.Errorf("session manager request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return LaunchResponse{}, fmt.Errorf("session manager: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out LaunchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LaunchResponse{}, fmt.Errorf("decode session manager response: %w", err)
	}
	if err := validateScheme(out.SessionURL, "ws", "wss"); err != nil {
		return LaunchResponse{}, fmt.Errorf("session manager returned bad sessionURL: %w", err)
	}
	return out, nil
}

func (d *Dialer) logger() zerolog.Logger {
	if d.Logger != nil {
		return *d.Logger
	}
	return log.Logger.With().Str("component", "transport").Logger()
}
