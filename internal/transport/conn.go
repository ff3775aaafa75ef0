package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/lightviz/internal/protocol/wslink"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrClosed            = errors.New("transport: connection closed")
	ErrConnection        = errors.New("transport: connection failed")
	ErrClosedBeforeReady = errors.New("transport: connection closed before ready")
)

// Handler receives one published payload.
type Handler func(payload json.RawMessage)

// Subscription identifies one Subscribe registration.
type Subscription struct {
	Topic string
	id    uint64
}

// Conn is an established wslink session.
type Conn struct {
	ws          *websocket.Conn
	cfg         Config
	url         string
	clientID    string
	log         zerolog.Logger
	nextID      atomic.Uint64
	pending     *pendingTable
	attachments *wslink.Attachments

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]map[uint64]Handler
	subSeq uint64

	closeOnce sync.Once
	closed    chan struct{}
	errMu     sync.Mutex
	closeErr  error

	destroyOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg Config, url string, logger zerolog.Logger) *Conn {
	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	return &Conn{
		ws:          ws,
		cfg:         cfg,
		url:         url,
		log:         logger,
		pending:     newPendingTable(),
		attachments: wslink.NewAttachments(),
		subs:        make(map[string]map[uint64]Handler),
		closed:      make(chan struct{}),
	}
}

func (c *Conn) ClientID() string { return c.clientID }

func (c *Conn) URL() string { return c.url }

// Done is closed when the read loop ends.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err returns the reason the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

// Pending lists in-flight calls, oldest first.
func (c *Conn) Pending() []PendingCall {
	return c.pending.list()
}

// Call sends one request and waits for its response. Remote failures are
// returned as *wslink.RemoteError.
func (c *Conn) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, c.closedError()
	default:
	}
	if c.cfg.CallTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
		}
	}

	id := wslink.RPCID(c.clientID, c.nextID.Add(1))
	return c.roundTrip(ctx, id, method, args, kwargs)
}

func (c *Conn) roundTrip(ctx context.Context, id, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	ch := c.pending.add(PendingCall{ID: id, Method: method, Started: time.Now()})
	if err := c.write(ctx, wslink.NewRequest(id, method, args, kwargs)); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	case <-c.closed:
		// The read loop fails every pending entry before closing, but a
		// response may have landed first.
		select {
		case resp := <-ch:
			return resp.result, resp.err
		default:
		}
		c.pending.remove(id)
		return nil, c.closedError()
	}
}

func (c *Conn) write(ctx context.Context, req wslink.Request) error {
	payload, err := wslink.Encode(req)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrClosed, req.Method, err)
	}
	return nil
}

// Subscribe registers h for messages published on topic.
func (c *Conn) Subscribe(topic string, h Handler) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subSeq++
	handlers, ok := c.subs[topic]
	if !ok {
		handlers = make(map[uint64]Handler)
		c.subs[topic] = handlers
	}
	handlers[c.subSeq] = h
	return Subscription{Topic: topic, id: c.subSeq}
}

func (c *Conn) Unsubscribe(sub Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	handlers, ok := c.subs[sub.Topic]
	if !ok {
		return
	}
	delete(handlers, sub.id)
	if len(handlers) == 0 {
		delete(c.subs, sub.Topic)
	}
}

// Destroy starts a close handshake and returns without waiting. If the peer
// has not closed within timeout the socket is closed locally.
func (c *Conn) Destroy(timeout time.Duration) {
	c.destroyOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		if err != nil {
			c.log.Debug().Err(err).Str("url", c.url).Msg("close frame not sent")
			_ = c.ws.Close()
			return
		}

		go func() {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-c.closed:
			case <-timer.C:
				c.log.Warn().Str("url", c.url).Dur("timeout", timeout).Msg("forcing connection close")
			}
			_ = c.ws.Close()
		}()
	})
}

// Close closes the socket immediately.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	var loopErr error
	defer func() {
		c.finish(loopErr)
	}()

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			loopErr = err
			return
		}
		switch typ {
		case websocket.BinaryMessage:
			if _, ok := c.attachments.Receive(data); !ok {
				c.log.Warn().Int("bytes", len(data)).Msg("binary frame without attachment announcement")
			}
		case websocket.TextMessage:
			c.dispatch(data)
		}
	}
}

func (c *Conn) dispatch(data []byte) {
	msg, err := wslink.Decode(data, c.cfg.MaxMessageBytes)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	if msg.Method == wslink.AttachmentMethod {
		keys, err := msg.AttachmentKeys()
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping attachment announcement")
			return
		}
		c.attachments.Announce(keys...)
		return
	}

	if topic, ok := wslink.PublishTopic(msg.ID); ok {
		c.publish(topic, c.attachments.Substitute(msg.Result))
		return
	}

	resp := response{result: c.attachments.Substitute(msg.Result)}
	if msg.Error != nil {
		resp = response{err: msg.Error}
	}
	if !c.pending.resolve(msg.ID, resp) {
		c.log.Debug().Str("id", msg.ID).Msg("response for unknown request")
	}
}

func (c *Conn) publish(topic string, payload json.RawMessage) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[topic]))
	for _, h := range c.subs[topic] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = ErrClosed
		} else {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		}
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.pending.failAll(err)
		close(c.closed)
		c.log.Debug().Err(err).Str("url", c.url).Msg("connection ended")
	})
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}
