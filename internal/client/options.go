package client

import (
	"time"

	"github.com/danmuck/lightviz/internal/busy"
	"github.com/danmuck/lightviz/internal/protocols"
	"github.com/rs/zerolog"
)

type Option func(*options)

type options struct {
	connector Connector
	table     *protocols.Table
	logger    *zerolog.Logger
	busy      []busy.Option
}

// WithConnector replaces the default websocket connector.
func WithConnector(c Connector) Option {
	return func(o *options) {
		if c != nil {
			o.connector = c
		}
	}
}

// WithTable replaces the default capability table.
func WithTable(t *protocols.Table) Option {
	return func(o *options) {
		if t != nil {
			o.table = t
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithClock schedules the idle notification on clock.
func WithClock(clock busy.Clock) Option {
	return func(o *options) {
		o.busy = append(o.busy, busy.WithClock(clock))
	}
}

// WithDebounce sets the idle notification delay.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.busy = append(o.busy, busy.WithDebounce(d))
	}
}
