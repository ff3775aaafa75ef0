package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/lightviz/internal/config"
	"github.com/danmuck/lightviz/internal/protocols"
	"github.com/danmuck/lightviz/internal/testutil/testlog"
	"github.com/danmuck/lightviz/internal/testutil/wslinktest"
	"github.com/danmuck/lightviz/internal/transport"
)

func TestParseArgsCommands(t *testing.T) {
	testlog.Start(t)
	opts, err := parseArgs([]string{"--url", "ws://h:1/ws", "-n", "3", "call", "ViewPort", "resetCamera", "-1"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.command != "call" || opts.repeat != 3 || len(opts.args) != 3 || opts.args[2] != "-1" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !opts.changed("url") || opts.changed("secret") {
		t.Fatalf("changed flags not tracked")
	}

	bad := [][]string{
		{},
		{"call", "ViewPort"},
		{"groups", "extra"},
		{"launch"},
		{"--repeat", "0", "groups"},
	}
	for _, argv := range bad {
		if _, err := parseArgs(argv, io.Discard); err == nil {
			t.Fatalf("expected error for %v", argv)
		}
	}
	if _, err := parseArgs([]string{"launch"}, io.Discard); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("expected errUnknownCommand, got %v", err)
	}
}

func TestResolveConfigFlagsOverrideFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "vizctl.toml")
	body := "url = \"ws://file.local:1/ws\"\nsecret = \"from-file\"\nstatus_addr = \"127.0.0.1:7000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	opts, err := parseArgs([]string{"--config", path, "--secret", "from-flag", "serve"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Session.URL != "ws://file.local:1/ws" || cfg.Session.Secret != "from-flag" || cfg.Status.Addr != "127.0.0.1:7000" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	opts, _ = parseArgs([]string{"groups"}, io.Discard)
	if _, err := resolveConfig(opts); !errors.Is(err, transport.ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
}

func TestParseCallArgs(t *testing.T) {
	testlog.Start(t)
	got := parseCallArgs([]string{"-1", `"id"`, `{"a":1}`, "plain", "true"})
	if got[0] != float64(-1) || got[1] != "id" || got[3] != "plain" || got[4] != true {
		t.Fatalf("unexpected args %#v", got)
	}
	if m, ok := got[2].(map[string]any); !ok || m["a"] != float64(1) {
		t.Fatalf("object arg not decoded: %#v", got[2])
	}
}

func sessionConfig(t *testing.T, srv *wslinktest.Server) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Session.URL = srv.URL()
	cfg.LogLevel = "debug"
	cfg.DisconnectTimeout = time.Second
	return cfg
}

func TestRunGroupsAndRepeatedCall(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	var resets atomic.Int32
	srv.Handle("viewport.camera.reset", func(args []json.RawMessage, _ json.RawMessage) (any, error) {
		resets.Add(1)
		return map[string]any{"view": json.RawMessage(args[0])}, nil
	})
	cfg := sessionConfig(t, srv)

	var out bytes.Buffer
	opts := options{command: "groups", timeout: 3 * time.Second, repeat: 1}
	if err := run(context.Background(), opts, cfg, &out, io.Discard); err != nil {
		t.Fatalf("groups: %v", err)
	}
	if !strings.Contains(out.String(), protocols.ViewPort+"\n") || !strings.Contains(out.String(), "  resetCamera\n") {
		t.Fatalf("groups output missing ViewPort methods:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "  @imageReady\n") {
		t.Fatalf("groups output missing events:\n%s", out.String())
	}

	out.Reset()
	opts = options{command: "call", args: []string{"ViewPort", "resetCamera", "-1"}, timeout: 3 * time.Second, repeat: 4}
	if err := run(context.Background(), opts, cfg, &out, io.Discard); err != nil {
		t.Fatalf("call: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 || resets.Load() != 4 {
		t.Fatalf("expected 4 results, got %d (server saw %d)", len(lines), resets.Load())
	}
	for _, line := range lines {
		if line != `{"view":-1}` {
			t.Fatalf("unexpected result line %q", line)
		}
	}

	opts = options{command: "call", args: []string{"ViewPort", "nope"}, timeout: 3 * time.Second, repeat: 1}
	if err := run(context.Background(), opts, cfg, io.Discard, io.Discard); err == nil {
		t.Fatalf("expected unknown method error")
	}
}

func TestRunServeEndsWithSession(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{})
	cfg := sessionConfig(t, srv)
	cfg.Status.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), options{command: "serve", timeout: 3 * time.Second, repeat: 1}, cfg, io.Discard, io.Discard)
	}()
	time.Sleep(200 * time.Millisecond)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if !errors.Is(err, errSessionEnded) {
				t.Fatalf("expected errSessionEnded, got %v", err)
			}
			return
		case <-tick.C:
			srv.DropConnections()
		case <-deadline:
			t.Fatalf("serve did not return after session drop")
		}
	}
}

func TestRunConnectFailure(t *testing.T) {
	testlog.Start(t)
	srv := wslinktest.NewServer(t, wslinktest.Options{Secret: "right"})
	cfg := sessionConfig(t, srv)
	cfg.Session.Secret = "wrong"
	err := run(context.Background(), options{command: "groups", timeout: 3 * time.Second, repeat: 1}, cfg, io.Discard, io.Discard)
	if !errors.Is(err, transport.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}
