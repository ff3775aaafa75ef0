package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/lightviz/internal/protocol/wslink"
	"github.com/danmuck/lightviz/internal/testutil/testlog"
	"github.com/danmuck/lightviz/internal/testutil/tlstest"
	"github.com/danmuck/lightviz/internal/testutil/wslinktest"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func dial(t *testing.T, cfg Config) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var d Dialer
	conn, err := d.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectCallAndRemoteError(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	srv.Handle("pv.keyvaluepair.retrieve", func(args []json.RawMessage, _ json.RawMessage) (any, error) {
		var key string
		if err := json.Unmarshal(args[0], &key); err != nil {
			return nil, err
		}
		return map[string]string{"key": key, "value": "42"}, nil
	})
	srv.Handle("pv.proxy.manager.delete", func([]json.RawMessage, json.RawMessage) (any, error) {
		return nil, &wslink.RemoteError{Code: 7, Message: "no such proxy"}
	})

	conn := dial(t, testConfig(srv.URL()))
	if conn.ClientID() != "c1" {
		t.Fatalf("unexpected client id: %q", conn.ClientID())
	}

	out, err := conn.Call(context.Background(), "pv.keyvaluepair.retrieve", []any{"camera"}, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["key"] != "camera" || got["value"] != "42" {
		t.Fatalf("unexpected result: %#v", got)
	}

	_, err = conn.Call(context.Background(), "pv.proxy.manager.delete", []any{"12"}, nil)
	var remote *wslink.RemoteError
	if !errors.As(err, &remote) || remote.Code != 7 {
		t.Fatalf("expected remote error code 7, got %v", err)
	}

	_, err = conn.Call(context.Background(), "missing.method", nil, nil)
	if !errors.As(err, &remote) || remote.Code != -32601 {
		t.Fatalf("expected unregistered method error, got %v", err)
	}
	if len(conn.Pending()) != 0 {
		t.Fatalf("expected no pending calls, got %+v", conn.Pending())
	}
}

func TestConcurrentCallsAreMultiplexed(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	release := make(chan struct{})
	srv.Handle("slow", func([]json.RawMessage, json.RawMessage) (any, error) {
		<-release
		return "slow", nil
	})
	srv.Handle("fast", func([]json.RawMessage, json.RawMessage) (any, error) {
		return "fast", nil
	})
	conn := dial(t, testConfig(srv.URL()))

	var wg sync.WaitGroup
	slowResult := make(chan string, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := conn.Call(context.Background(), "slow", nil, nil)
		if err != nil {
			t.Errorf("slow call: %v", err)
			return
		}
		slowResult <- string(out)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.Pending()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pending := conn.Pending(); len(pending) != 1 || pending[0].Method != "slow" {
		t.Fatalf("expected slow call pending, got %+v", pending)
	}

	out, err := conn.Call(context.Background(), "fast", nil, nil)
	if err != nil || string(out) != `"fast"` {
		t.Fatalf("fast call out=%s err=%v", out, err)
	}
	close(release)
	wg.Wait()
	if got := <-slowResult; got != `"slow"` {
		t.Fatalf("unexpected slow result %s", got)
	}
}

func TestCallContextDeadline(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	block := make(chan struct{})
	defer close(block)
	srv.Handle("viewport.image.render", func([]json.RawMessage, json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})

	cfg := testConfig(srv.URL())
	cfg.CallTimeout = 50 * time.Millisecond
	conn := dial(t, cfg)

	_, err := conn.Call(context.Background(), "viewport.image.render", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(conn.Pending()) != 0 {
		t.Fatalf("timed out call should be forgotten")
	}
}

func TestPublishDeliveredToSubscribers(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	srv.Handle("ping", func([]json.RawMessage, json.RawMessage) (any, error) { return "pong", nil })
	conn := dial(t, testConfig(srv.URL()))

	got := make(chan json.RawMessage, 4)
	sub := conn.Subscribe("paraview.progress", func(payload json.RawMessage) {
		got <- payload
	})
	other := conn.Subscribe("viewport.image.push.subscription", func(json.RawMessage) {
		t.Errorf("unexpected delivery on other topic")
	})
	defer conn.Unsubscribe(other)

	srv.Publish("paraview.progress", map[string]any{"progress": 0.5})
	select {
	case payload := <-got:
		if string(payload) != `{"progress":0.5}` {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("publish not delivered")
	}

	conn.Unsubscribe(sub)
	srv.Publish("paraview.progress", map[string]any{"progress": 1})
	// A round trip after the publish guarantees it was read.
	if _, err := conn.Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
	select {
	case payload := <-got:
		t.Fatalf("unsubscribed handler received %s", payload)
	default:
	}
}

func TestBinaryAttachmentSubstitution(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	srv.Handle("viewport.image.push", func([]json.RawMessage, json.RawMessage) (any, error) {
		return wslinktest.Attachment{
			Key:    "wslink_bin0",
			Data:   []byte{0x89, 'P', 'N', 'G'},
			Result: map[string]any{"image": "wslink_bin0", "format": "png"},
		}, nil
	})
	conn := dial(t, testConfig(srv.URL()))

	out, err := conn.Call(context.Background(), "viewport.image.push", nil, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var img struct {
		Image  []byte `json:"image"`
		Format string `json:"format"`
	}
	if err := json.Unmarshal(out, &img); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(img.Image) != "\x89PNG" || img.Format != "png" {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestConnectBadSecret(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{Secret: "right"})
	cfg := testConfig(srv.URL())
	cfg.Secret = "wrong"

	var d Dialer
	_, err := d.Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	var remote *wslink.RemoteError
	if !errors.As(err, &remote) || remote.Code != 401 {
		t.Fatalf("expected remote auth error in chain, got %v", err)
	}
}

func TestConnectClosedBeforeReady(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{RejectHello: true})

	var d Dialer
	_, err := d.Connect(context.Background(), testConfig(srv.URL()))
	if !errors.Is(err, ErrClosedBeforeReady) {
		t.Fatalf("expected ErrClosedBeforeReady, got %v", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected close cause in chain, got %v", err)
	}
}

func TestConnectDialFailure(t *testing.T) {
	testlog.Start(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + ts.URL[len("http"):] + "/ws"
	ts.Close()

	var d Dialer
	_, err := d.Connect(context.Background(), testConfig(url))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestConnectValidatesConfig(t *testing.T) {
	testlog.Start(t)
	var d Dialer
	_, err := d.Connect(context.Background(), Config{})
	if !errors.Is(err, ErrURLRequired) || !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
	_, err = d.Connect(context.Background(), Config{URL: "http://localhost:1234/ws"})
	if !errors.Is(err, ErrInvalidScheme) {
		t.Fatalf("expected ErrInvalidScheme, got %v", err)
	}
}

func TestDestroyFailsPendingCalls(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	block := make(chan struct{})
	defer close(block)
	srv.Handle("pv.time.play", func([]json.RawMessage, json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	conn := dial(t, testConfig(srv.URL()))

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), "pv.time.play", nil, nil)
		errCh <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(conn.Pending()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn.Destroy(time.Second)
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("pending call not failed after destroy")
	}
	<-conn.Done()

	if _, err := conn.Call(context.Background(), "pv.time.play", nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after destroy, got %v", err)
	}
	// Second destroy is a no-op.
	conn.Destroy(time.Second)
}

func TestServerDropEndsConnection(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	conn := dial(t, testConfig(srv.URL()))

	srv.DropConnections()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not observe drop")
	}
	if !errors.Is(conn.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", conn.Err())
	}
}

func TestSessionManagerLaunch(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{Secret: "launched"})
	srv.Handle("ping", func([]json.RawMessage, json.RawMessage) (any, error) { return "pong", nil })

	var gotBody map[string]any
	launcher := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(LaunchResponse{SessionURL: srv.URL(), Secret: "launched", ID: "s-1"})
	}))
	defer launcher.Close()

	cfg := DefaultConfig()
	cfg.SessionManagerURL = launcher.URL + "/paraview"
	cfg.Application = "lightviz"
	cfg.Extra = map[string]any{"dataDir": "/data"}
	conn := dial(t, cfg)

	if gotBody["application"] != "lightviz" || gotBody["dataDir"] != "/data" {
		t.Fatalf("unexpected launcher body: %#v", gotBody)
	}
	if conn.URL() != srv.URL() {
		t.Fatalf("unexpected resolved url %q", conn.URL())
	}
	if _, err := conn.Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestSessionManagerFailure(t *testing.T) {
	testlog.Start(t)
	launcher := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer launcher.Close()

	cfg := DefaultConfig()
	cfg.SessionManagerURL = launcher.URL
	var d Dialer
	_, err := d.Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestConnectOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "lightviz-test-ca")
	srv := wslinktest.NewServer(t, wslinktest.Options{TLS: ca.ServerTLS(t)})
	srv.Handle("ping", func([]json.RawMessage, json.RawMessage) (any, error) { return "pong", nil })

	cfg := testConfig(srv.URL())
	cfg.TLS.CAFile = ca.CAFile()
	conn := dial(t, cfg)
	if _, err := conn.Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("ping over tls: %v", err)
	}

	// Without the CA the handshake must fail.
	var d Dialer
	if _, err := d.Connect(context.Background(), testConfig(srv.URL())); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection without ca, got %v", err)
	}
}

func TestValidateTLSPairs(t *testing.T) {
	testlog.Start(t)
	cfg := Config{URL: "wss://viz.example:9000/ws"}
	cfg.TLS.CertFile = "client.crt"
	if err := cfg.Validate(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
	cfg.TLS = TLSConfig{KeyFile: "client.key"}
	if err := cfg.Validate(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg = Config{URL: "ws://viz.example:9000/ws", TLS: TLSConfig{InsecureSkipVerify: true}}
	if err := cfg.Validate(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	cfg = Config{URL: "ws:///ws"}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidScheme) {
		t.Fatalf("expected missing host rejected, got %v", err)
	}
}
