package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BusyReporter is the session view the status middleware reads.
type BusyReporter interface {
	ID() string
	BusyCount() int
}

// StatusRequests logs and measures every request to the status server. Proxy
// requests are routes carrying both :group and :method params; they are
// additionally counted per remote group and method. Each log line carries the
// session busy count at the time the request finished.
func StatusRequests(logger zerolog.Logger, session BusyReporter) gin.HandlerFunc {
	client := session.ID()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(client, c.Request.Method, path, status, elapsed)

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		} else if path == "/health" || path == "/ready" || path == "/metrics" {
			event = logger.Debug()
		}
		group, method := c.Param("group"), c.Param("method")
		if group != "" && method != "" {
			RecordProxyRequest(group, method, status)
			event = event.Str("group", group).Str("remote_method", method)
		}
		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.Last().Error())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Int("busy", session.BusyCount()).
			Msg("status_request")
	}
}
