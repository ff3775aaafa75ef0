package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/lightviz/internal/config"
	flag "github.com/spf13/pflag"
)

const usage = `usage: vizctl [flags] <command>

commands:
  groups                              list remote groups and their methods
  call <group> <method> [json-arg...] invoke one remote method
  serve                               hold the session and serve status over HTTP

flags:
`

var (
	errUsage          = errors.New("vizctl: usage")
	errUnknownCommand = errors.New("vizctl: unknown command")
)

type options struct {
	configPath     string
	url            string
	sessionManager string
	secret         string
	timeout        time.Duration
	repeat         int
	statusAddr     string
	logLevel       string

	changed func(name string) bool
	command string
	args    []string
}

func parseArgs(argv []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("vizctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (.toml, .yaml)")
	fs.StringVar(&opts.url, "url", "", "session websocket url (ws:// or wss://)")
	fs.StringVar(&opts.sessionManager, "session-manager", "", "launcher url used to resolve the session")
	fs.StringVar(&opts.secret, "secret", "", "session secret")
	fs.DurationVarP(&opts.timeout, "timeout", "t", 30*time.Second, "connect and call budget")
	fs.IntVarP(&opts.repeat, "repeat", "n", 1, "issue the call this many times concurrently")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "status server listen address for serve")
	fs.StringVar(&opts.logLevel, "log-level", "", "trace|debug|info|warn|error|off")
	fs.SetInterspersed(false)

	if err := fs.Parse(argv); err != nil {
		return options{}, err
	}
	opts.changed = fs.Changed

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return options{}, errUsage
	}
	opts.command, opts.args = rest[0], rest[1:]
	switch opts.command {
	case "groups", "serve":
		if len(opts.args) != 0 {
			return options{}, fmt.Errorf("%w: %s takes no arguments", errUsage, opts.command)
		}
	case "call":
		if len(opts.args) < 2 {
			return options{}, fmt.Errorf("%w: call needs <group> <method>", errUsage)
		}
	default:
		return options{}, fmt.Errorf("%w: %q", errUnknownCommand, opts.command)
	}
	if opts.repeat < 1 {
		return options{}, fmt.Errorf("%w: --repeat must be at least 1", errUsage)
	}
	return opts, nil
}

// resolveConfig loads the config file, if any, and applies explicit flags
// over it.
func resolveConfig(opts options) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := opts.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if changed("url") {
		cfg.Session.URL = strings.TrimSpace(opts.url)
	}
	if changed("session-manager") {
		cfg.Session.SessionManagerURL = strings.TrimSpace(opts.sessionManager)
	}
	if changed("secret") {
		cfg.Session.Secret = opts.secret
	}
	if changed("status-addr") {
		cfg.Status.Addr = strings.TrimSpace(opts.statusAddr)
	}
	if changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(opts.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Session.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseCallArgs decodes each argument as JSON. Anything that is not valid
// JSON is passed as a plain string.
func parseCallArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, arg := range raw {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		out = append(out, v)
	}
	return out
}
