package wslink

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sync"
)

// Attachments pairs announced placeholders with the binary frames that
// follow them, in announcement order.
type Attachments struct {
	mu      sync.Mutex
	waiting []string
	data    map[string][]byte
}

func NewAttachments() *Attachments {
	return &Attachments{data: make(map[string][]byte)}
}

// Announce queues placeholders for the next binary frames.
func (a *Attachments) Announce(keys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.waiting = append(a.waiting, keys...)
}

// Receive stores one binary frame under the oldest announced placeholder.
// It reports false when no placeholder is waiting.
func (a *Attachments) Receive(payload []byte) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.waiting) == 0 {
		return "", false
	}
	key := a.waiting[0]
	a.waiting = a.waiting[1:]
	a.data[key] = append([]byte(nil), payload...)
	return key, true
}

func (a *Attachments) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// Substitute replaces every quoted placeholder in raw with the base64 string
// of its payload, so the bytes decode into []byte fields. Used payloads are
// released.
func (a *Attachments) Substitute(raw json.RawMessage) json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.data) == 0 || len(raw) == 0 {
		return raw
	}
	out := raw
	for key, payload := range a.data {
		quoted := []byte(`"` + key + `"`)
		if !bytes.Contains(out, quoted) {
			continue
		}
		encoded := []byte(`"` + base64.StdEncoding.EncodeToString(payload) + `"`)
		out = bytes.ReplaceAll(out, quoted, encoded)
		delete(a.data, key)
	}
	return out
}
