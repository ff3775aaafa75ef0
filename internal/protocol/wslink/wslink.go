// Package wslink encodes the JSON envelopes exchanged with a wslink server.
//
// Requests carry an id of the form "rpc:<client>:<n>" and are answered by a
// message with the same id and either a result or an error. Server pushes use
// ids of the form "publish:<topic>:<n>". Binary payloads are announced by a
// "wslink.binary.attachment" message and then sent as binary frames; results
// refer to them by placeholder string.
package wslink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Version = "1.0"

	HelloMethod      = "wslink.hello"
	HelloID          = "system:c0:0"
	AttachmentMethod = "wslink.binary.attachment"

	rpcPrefix     = "rpc:"
	publishPrefix = "publish:"
	systemPrefix  = "system:"

	DefaultMaxMessageBytes = 64 * 1024 * 1024
)

var (
	ErrMessageTooLarge = errors.New("wslink: message too large")
	ErrInvalidMessage  = errors.New("wslink: invalid message")
)

// Message is one wslink text frame.
type Message struct {
	Wslink string            `json:"wslink"`
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Kwargs json.RawMessage   `json:"kwargs,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *RemoteError      `json:"error,omitempty"`
}

// Request is the outgoing form of Message; arguments stay as Go values until
// encoding.
type Request struct {
	Wslink string         `json:"wslink"`
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// RemoteError is an error reported by the server for one request.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "wslink: <nil> remote error"
	}
	return fmt.Sprintf("wslink: remote error code=%d message=%q", e.Code, e.Message)
}

// Hello is the argument of the wslink.hello handshake.
type Hello struct {
	Secret string `json:"secret"`
}

// HelloResult is returned by the server when the handshake is accepted.
type HelloResult struct {
	ClientID string `json:"clientID"`
}

// NewRequest builds a request envelope. nil args and kwargs encode as empty
// containers.
func NewRequest(id, method string, args []any, kwargs map[string]any) Request {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Request{
		Wslink: Version,
		ID:     id,
		Method: method,
		Args:   args,
		Kwargs: kwargs,
	}
}

func NewHello(secret string) Request {
	return NewRequest(HelloID, HelloMethod, []any{Hello{Secret: secret}}, nil)
}

func RPCID(clientID string, n uint64) string {
	return rpcPrefix + clientID + ":" + strconv.FormatUint(n, 10)
}

func PublishID(topic string, n uint64) string {
	return publishPrefix + topic + ":" + strconv.FormatUint(n, 10)
}

func IsRPC(id string) bool {
	return strings.HasPrefix(id, rpcPrefix)
}

func IsSystem(id string) bool {
	return strings.HasPrefix(id, systemPrefix)
}

// PublishTopic extracts the topic of a publish id. Topics may contain ':'.
func PublishTopic(id string) (string, bool) {
	if !strings.HasPrefix(id, publishPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(id, publishPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses one text frame. limit <= 0 disables the size check.
func Decode(data []byte, limit int64) (Message, error) {
	if limit > 0 && int64(len(data)) > limit {
		return Message{}, ErrMessageTooLarge
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Wslink == "" {
		return Message{}, fmt.Errorf("%w: missing wslink version", ErrInvalidMessage)
	}
	return msg, nil
}

// AttachmentKeys returns the placeholders announced by an attachment message.
func (m Message) AttachmentKeys() ([]string, error) {
	if m.Method != AttachmentMethod {
		return nil, nil
	}
	keys := make([]string, 0, len(m.Args))
	for i, raw := range m.Args {
		var key string
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("%w: attachment arg[%d]: %v", ErrInvalidMessage, i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
