package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/danmuck/lightviz/internal/testutil/testlog"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("c-1", "GET", "/health", 200, 12*time.Millisecond)
	RecordRemoteCall("ViewPort", "resetCamera", 24*time.Millisecond, true)
	SetBusy("c-1", 2)
	RecordConnect(OutcomeReady)

	if got := gaugeValue(t, busyCount.WithLabelValues("c-1")); got != 2 {
		t.Fatalf("expected busy gauge 2, got %v", got)
	}
	if got := counterValue(t, remoteCalls.WithLabelValues("ViewPort", "resetCamera", "true")); got < 1 {
		t.Fatalf("expected remote call counted, got %v", got)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "lightviz_session_connects_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("connect counter not registered")
	}
}

type busySession struct{ busy int }

func (busySession) ID() string { return "mw-test" }
func (b busySession) BusyCount() int { return b.busy }

func TestStatusRequestsRecordsRoutePattern(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(StatusRequests(Logger("test"), busySession{busy: 3}))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}

	got := counterValue(t, httpRequests.WithLabelValues("mw-test", "GET", "/items/:id", "204"))
	if got != 1 {
		t.Fatalf("expected one request on route pattern, got %v", got)
	}
}

func TestStatusRequestsTagsProxyCalls(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := gin.New()
	r.Use(StatusRequests(logger, busySession{busy: 2}))
	r.POST("/remote/:group/:method", func(c *gin.Context) {
		_ = c.Error(errors.New("remote said no"))
		c.Status(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodPost, "/remote/ViewPort/resetCamera", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := counterValue(t, proxyRequests.WithLabelValues("ViewPort", "resetCamera", "502"))
	if got != 1 {
		t.Fatalf("expected one proxied request, got %v", got)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"level":         "error",
		"group":         "ViewPort",
		"remote_method": "resetCamera",
		"path":          "/remote/:group/:method",
		"error":         "remote said no",
		"busy":          float64(2),
		"message":       "status_request",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("log field %s = %v, want %v (line %s)", k, line[k], v, buf.String())
		}
	}
}
