package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/lightviz/internal/auth"
	"github.com/danmuck/lightviz/internal/client"
	"github.com/danmuck/lightviz/internal/config"
	"github.com/danmuck/lightviz/internal/logging"
	"github.com/danmuck/lightviz/internal/server"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func main() {
	logging.ConfigureRuntime()

	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "vizctl: %v\n", err)
		os.Exit(2)
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vizctl: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, cfg, os.Stdout, os.Stderr); err != nil {
		log.Error().Err(err).Str("command", opts.command).Msg("vizctl failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, cfg config.Config, stdout, stderr io.Writer) error {
	if !logging.SetLevel(cfg.LogLevel) {
		log.Warn().Str("level", cfg.LogLevel).Msg("ignoring log level")
	}

	c := client.New(client.WithDebounce(cfg.Debounce))
	c.SetBusyCallback(newIndicator(stderr).update)

	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	_, err := c.Connect(connectCtx, cfg.Session)
	cancel()
	if err != nil {
		return err
	}
	defer c.Disconnect(cfg.DisconnectTimeout)

	switch opts.command {
	case "groups":
		return printGroups(stdout, c.Groups())
	case "call":
		return callRepeated(ctx, c, opts, stdout)
	case "serve":
		return serve(ctx, c, cfg)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, opts.command)
	}
}

func printGroups(w io.Writer, groups []client.GroupInfo) error {
	for _, g := range groups {
		if _, err := fmt.Fprintf(w, "%s\n", g.Name); err != nil {
			return err
		}
		for _, m := range g.Methods {
			fmt.Fprintf(w, "  %s\n", m)
		}
		for _, e := range g.Events {
			fmt.Fprintf(w, "  @%s\n", e)
		}
	}
	return nil
}

// callRepeated issues opts.repeat concurrent copies of one call and prints
// each result on its own line, in issue order.
func callRepeated(ctx context.Context, c *client.Client, opts options, w io.Writer) error {
	group, method := opts.args[0], opts.args[1]
	args := parseCallArgs(opts.args[2:])

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	results := make([][]byte, opts.repeat)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		i := i
		g.Go(func() error {
			out, err := c.Call(gctx, group, method, args...)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", group, method, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, out := range results {
		if len(out) == 0 {
			out = []byte("null")
		}
		if _, err := fmt.Fprintf(w, "%s\n", out); err != nil {
			return err
		}
	}
	return nil
}

// serve runs the status server until ctx ends or the session drops.
func serve(ctx context.Context, c *client.Client, cfg config.Config) error {
	srv := server.New(cfg.Status.Addr, c, cfg.Status.CorsOrigins)
	srv.CallTimeout = cfg.Session.CallTimeout
	if cfg.Status.Token != "" {
		srv.Auth = auth.StaticToken{Token: cfg.Status.Token}
	}
	srv.RegisterRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.Done():
			return errSessionEnded
		}
	})
	return g.Wait()
}

var errSessionEnded = errors.New("vizctl: session ended")

// indicator shows the busy count on a terminal and logs it otherwise.
type indicator struct {
	mu  sync.Mutex
	w   io.Writer
	tty bool
}

func newIndicator(w io.Writer) *indicator {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &indicator{w: w, tty: tty}
}

func (i *indicator) update(count int) {
	if !i.tty {
		log.Debug().Int("busy", count).Msg("busy")
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if count > 0 {
		fmt.Fprintf(i.w, "\r[busy %d]", count)
		return
	}
	fmt.Fprint(i.w, "\r\033[K")
}
