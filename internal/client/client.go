// Package client owns one remote visualization session and exposes its
// capability groups with every call counted by a shared busy tracker.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/lightviz/internal/busy"
	"github.com/danmuck/lightviz/internal/observability"
	"github.com/danmuck/lightviz/internal/protocols"
	"github.com/danmuck/lightviz/internal/transport"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDisconnectTimeout is the teardown budget when Disconnect gets none.
const DefaultDisconnectTimeout = 60 * time.Second

var (
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
	ErrUnknownGroup     = errors.New("client: unknown group")
	ErrUnknownMethod    = errors.New("client: unknown method")
	ErrUnknownEvent     = errors.New("client: unknown event")
)

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Client is a reusable session handle. Connect may be called again only after
// Disconnect.
type Client struct {
	id        string
	log       zerolog.Logger
	connector Connector
	table     *protocols.Table
	tracker   *busy.Tracker

	mu         sync.RWMutex
	conn       Connection
	connecting bool
	groups     map[string]*Remote
}

func New(opts ...Option) *Client {
	o := options{
		connector: DialConnector{},
		table:     protocols.DefaultTable(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.Must(uuid.NewV4()).String()
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	gauge := func(n int) { observability.SetBusy(id, n) }
	return &Client{
		id:        id,
		log:       logger.With().Str("client", id).Logger(),
		connector: o.connector,
		table:     o.table,
		tracker:   busy.New(append(o.busy, busy.WithCountHook(gauge))...),
	}
}

func (c *Client) ID() string { return c.id }

// Connect establishes a session and builds every group of the capability
// table on it. It returns c so calls can be chained. A failed Connect leaves
// the client disconnected and may be retried.
func (c *Client) Connect(ctx context.Context, cfg transport.Config) (*Client, error) {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	c.log.Info().Str("url", cfg.URL).Str("session_manager", cfg.SessionManagerURL).Msg("connect")
	conn, err := c.connector.Connect(ctx, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		outcome := observability.OutcomeError
		if errors.Is(err, transport.ErrClosedBeforeReady) {
			outcome = observability.OutcomeClosed
		}
		observability.RecordConnect(outcome)
		c.log.Warn().Err(err).Str("outcome", outcome).Msg("connect failed")
		return nil, err
	}

	c.conn = conn
	c.groups = c.wrapGroups(c.table.Build(conn))
	observability.RecordConnect(observability.OutcomeReady)
	c.log.Info().Int("groups", len(c.groups)).Msg("connected")
	go c.watch(conn)
	return c, nil
}

func (c *Client) watch(conn Connection) {
	<-conn.Done()
	c.mu.RLock()
	current := c.conn == conn
	c.mu.RUnlock()
	if current {
		c.log.Warn().Msg("session transport ended")
	}
}

// Disconnect tears the session down with the given budget and clears the
// groups without waiting for teardown to finish. timeout <= 0 selects
// DefaultDisconnectTimeout. It does nothing when not connected.
func (c *Client) Disconnect(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.groups = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Destroy(timeout)
	c.log.Info().Dur("timeout", timeout).Msg("disconnected")
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Done is closed when the held session's transport ends. It is already
// closed when no session is held.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return closedDone
	}
	return c.conn.Done()
}

// SetBusyCallback replaces the busy observer. nil clears it. The observer runs
// without client locks held and may call BusyCount or issue further calls.
func (c *Client) SetBusyCallback(cb busy.Callback) {
	c.tracker.SetCallback(cb)
}

// BusyCount reports the number of remote calls in flight.
func (c *Client) BusyCount() int {
	return c.tracker.Count()
}

// Pending lists in-flight calls when the connection tracks them.
func (c *Client) Pending() []transport.PendingCall {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	tracked, ok := conn.(interface{ Pending() []transport.PendingCall })
	if !ok {
		return nil
	}
	return tracked.Pending()
}

// Remote returns the wrapped group registered under name.
func (c *Client) Remote(name string) (*Remote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	r, ok := c.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	return r, nil
}

// Call invokes group.method on the live session.
func (c *Client) Call(ctx context.Context, group, method string, args ...any) (json.RawMessage, error) {
	r, err := c.Remote(group)
	if err != nil {
		return nil, err
	}
	return r.Call(ctx, method, args...)
}

// Groups lists the live groups sorted by name.
func (c *Client) Groups() []GroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]GroupInfo, 0, len(c.groups))
	for _, r := range c.groups {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscribe attaches h to a group event. Subscriptions are not counted as
// busy work.
func (c *Client) Subscribe(group, event string, h transport.Handler) (transport.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return transport.Subscription{}, ErrNotConnected
	}
	r, ok := c.groups[group]
	if !ok {
		return transport.Subscription{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	topic, ok := r.topics[event]
	if !ok {
		return transport.Subscription{}, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, group, event)
	}
	return c.conn.Subscribe(topic, h), nil
}

func (c *Client) Unsubscribe(sub transport.Subscription) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Unsubscribe(sub)
	}
}

func (c *Client) wrapGroups(groups map[string]protocols.Group) map[string]*Remote {
	out := make(map[string]*Remote, len(groups))
	for name, g := range groups {
		out[name] = c.wrapGroup(g)
	}
	return out
}

func (c *Client) wrapGroup(g protocols.Group) *Remote {
	r := &Remote{
		name:    g.Name,
		methods: make(map[string]protocols.Method, len(g.Methods)),
		topics:  g.Topics,
	}
	for name, m := range g.Methods {
		r.methods[name] = c.wrap(g.Name, name, m)
	}
	return r
}

// wrap counts m as busy work for its whole duration and records its outcome.
func (c *Client) wrap(group, method string, m protocols.Method) protocols.Method {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		start := time.Now()
		out, err := busy.Do(c.tracker, func() (json.RawMessage, error) {
			return m(ctx, args...)
		})
		observability.RecordRemoteCall(group, method, time.Since(start), err == nil)
		if err != nil {
			c.log.Debug().Err(err).Str("group", group).Str("method", method).Msg("remote call failed")
		}
		return out, err
	}
}
