// Package wslinktest runs an in-process wslink server for client tests.
package wslinktest

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/lightviz/internal/protocol/wslink"
	"github.com/gorilla/websocket"
)

// Method answers one request. Returning a *wslink.RemoteError sends it as the
// request's error; any other error becomes code -32000.
type Method func(args []json.RawMessage, kwargs json.RawMessage) (any, error)

type Options struct {
	Secret string
	// RejectHello closes the socket instead of answering the handshake.
	RejectHello bool
	TLS         *tls.Config
}

// Server is a minimal wslink endpoint backed by httptest.
type Server struct {
	t       testing.TB
	opts    Options
	http    *httptest.Server
	upgrade websocket.Upgrader

	mu      sync.Mutex
	methods map[string]Method
	conns   []*peer
	calls   []string
	nextID  int
}

type peer struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	seq     uint64
}

func (p *peer) send(typ int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteMessage(typ, data)
}

func (p *peer) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.send(websocket.TextMessage, data)
}

func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.Secret == "" {
		opts.Secret = "wslink-secret"
	}
	s := &Server{
		t:       t,
		opts:    opts,
		methods: make(map[string]Method),
		upgrade: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	if opts.TLS != nil {
		s.http = httptest.NewUnstartedServer(mux)
		s.http.TLS = opts.TLS
		s.http.StartTLS()
	} else {
		s.http = httptest.NewServer(mux)
	}
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// (or wss://) endpoint.
func (s *Server) URL() string {
	u := strings.Replace(s.http.URL, "http", "ws", 1)
	return u + "/ws"
}

// HTTPURL is the base http(s) URL, for mounting extra handlers in tests.
func (s *Server) HTTPURL() string { return s.http.URL }

func (s *Server) Handle(method string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = m
}

// Calls returns the methods invoked so far, in arrival order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Publish pushes payload on topic to every connected client.
func (s *Server) Publish(topic string, payload any) {
	for _, p := range s.peers() {
		p.seq++
		_ = p.sendJSON(map[string]any{
			"wslink": wslink.Version,
			"id":     wslink.PublishID(topic, p.seq),
			"result": payload,
		})
	}
}

// DropConnections closes every client socket without a close handshake.
func (s *Server) DropConnections() {
	for _, p := range s.peers() {
		_ = p.ws.Close()
	}
}

func (s *Server) Close() {
	s.DropConnections()
	s.http.Close()
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*peer(nil), s.conns...)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, p)
	s.nextID++
	clientID := fmt.Sprintf("c%d", s.nextID)
	s.mu.Unlock()
	defer ws.Close()

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, err := wslink.Decode(data, 0)
		if err != nil {
			continue
		}
		if msg.Method == wslink.HelloMethod {
			if !s.answerHello(p, msg, clientID) {
				return
			}
			continue
		}
		// Requests are answered concurrently so slow methods do not block
		// later ones.
		go s.answer(p, msg)
	}
}

func (s *Server) answerHello(p *peer, msg wslink.Message, clientID string) bool {
	if s.opts.RejectHello {
		_ = p.ws.Close()
		return false
	}
	var hello wslink.Hello
	if len(msg.Args) > 0 {
		_ = json.Unmarshal(msg.Args[0], &hello)
	}
	if hello.Secret != s.opts.Secret {
		_ = p.sendJSON(wslink.Message{
			Wslink: wslink.Version,
			ID:     msg.ID,
			Error:  &wslink.RemoteError{Code: 401, Message: "Authentication failed"},
		})
		_ = p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad secret"),
			time.Now().Add(time.Second))
		return false
	}
	result, _ := json.Marshal(wslink.HelloResult{ClientID: clientID})
	_ = p.sendJSON(wslink.Message{Wslink: wslink.Version, ID: msg.ID, Result: result})
	return true
}

func (s *Server) answer(p *peer, msg wslink.Message) {
	s.mu.Lock()
	s.calls = append(s.calls, msg.Method)
	m, ok := s.methods[msg.Method]
	s.mu.Unlock()

	reply := wslink.Message{Wslink: wslink.Version, ID: msg.ID}
	if !ok {
		reply.Error = &wslink.RemoteError{Code: -32601, Message: "Unregistered method called", Data: json.RawMessage(`"` + msg.Method + `"`)}
		_ = p.sendJSON(reply)
		return
	}

	out, err := m(msg.Args, msg.Kwargs)
	if err != nil {
		if remote, ok := err.(*wslink.RemoteError); ok {
			reply.Error = remote
		} else {
			reply.Error = &wslink.RemoteError{Code: -32000, Message: err.Error()}
		}
		_ = p.sendJSON(reply)
		return
	}

	if att, ok := out.(Attachment); ok {
		_ = p.sendJSON(map[string]any{
			"wslink": wslink.Version,
			"method": wslink.AttachmentMethod,
			"args":   []string{att.Key},
		})
		_ = p.send(websocket.BinaryMessage, att.Data)
		out = att.Result
	}

	result, err := json.Marshal(out)
	if err != nil {
		s.t.Errorf("wslinktest: marshal result for %s: %v", msg.Method, err)
		return
	}
	reply.Result = result
	_ = p.sendJSON(reply)
}

// Attachment makes a method send Data as a binary frame announced under Key
// before replying with Result.
type Attachment struct {
	Key    string
	Data   []byte
	Result any
}
