// Package server exposes a live session over a local HTTP surface: health,
// readiness, metrics, session status, and a JSON proxy for remote calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/lightviz/internal/auth"
	"github.com/danmuck/lightviz/internal/client"
	"github.com/danmuck/lightviz/internal/observability"
	"github.com/danmuck/lightviz/internal/protocol/wslink"
	"github.com/danmuck/lightviz/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Session is the client surface the server reports on.
type Session interface {
	ID() string
	IsConnected() bool
	BusyCount() int
	Groups() []client.GroupInfo
	Pending() []transport.PendingCall
	Call(ctx context.Context, group, method string, args ...any) (json.RawMessage, error)
}

var _ Session = (*client.Client)(nil)

var ErrInvalidArgs = errors.New("server: body must be a JSON array")

type Server struct {
	Addr    string
	Started time.Time
	// CallTimeout bounds proxied calls. Zero leaves them to the session.
	CallTimeout time.Duration
	// Auth guards the remote-call proxy when set.
	Auth auth.Validator

	session Session
	router  *gin.Engine
	http    *http.Server
}

func New(addr string, session Session, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.StatusRequests(observability.Logger("status"), session))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		session: session,
		router:  r,
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// RegisterRoutes mounts every route. Set Auth before calling it.
func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"client":  s.session.ID(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.session.IsConnected()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"client": s.session.ID(),
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		pending := s.session.Pending()
		if pending == nil {
			pending = []transport.PendingCall{}
		}
		c.JSON(http.StatusOK, gin.H{
			"client":    s.session.ID(),
			"connected": s.session.IsConnected(),
			"busy":      s.session.BusyCount(),
			"pending":   pending,
			"uptime":    time.Since(s.Started).String(),
		})
	})

	s.router.GET("/groups", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"groups": s.session.Groups()})
	})

	remote := s.router.Group("/remote")
	if s.Auth != nil {
		remote.Use(auth.Require(s.Auth))
	}
	remote.POST("/:group/:method", s.handleRemote)
}

func (s *Server) handleRemote(c *gin.Context) {
	group := c.Param("group")
	method := c.Param("method")

	args, err := decodeArgs(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if s.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
	}

	out, err := s.session.Call(ctx, group, method, args...)
	if err != nil {
		status, body := remoteFailure(err)
		_ = c.Error(err)
		c.JSON(status, body)
		return
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	c.JSON(http.StatusOK, gin.H{"result": out})
}

func decodeArgs(body io.Reader) ([]any, error) {
	if body == nil {
		return nil, nil
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var args []any
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Join(ErrInvalidArgs, err)
	}
	return args, nil
}

func remoteFailure(err error) (int, gin.H) {
	var remoteErr *wslink.RemoteError
	switch {
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway, gin.H{"error": remoteErr.Message, "code": remoteErr.Code, "data": remoteErr.Data}
	case errors.Is(err, client.ErrNotConnected), errors.Is(err, transport.ErrClosed):
		return http.StatusServiceUnavailable, gin.H{"error": err.Error()}
	case errors.Is(err, client.ErrUnknownGroup), errors.Is(err, client.ErrUnknownMethod):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	log.Info().Str("addr", s.Addr).Msg("status server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:8080"}
	}
	return out
}
