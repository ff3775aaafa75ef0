package transport

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// PendingCall is one request awaiting its response.
type PendingCall struct {
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Started time.Time `json:"started"`
}

type response struct {
	result json.RawMessage
	err    error
}

type pendingEntry struct {
	call PendingCall
	ch   chan response
}

// pendingTable stores in-flight requests by id.
type pendingTable struct {
	mu    sync.Mutex
	items map[string]pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{items: make(map[string]pendingEntry)}
}

func (p *pendingTable) add(call PendingCall) <-chan response {
	ch := make(chan response, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[call.ID] = pendingEntry{call: call, ch: ch}
	return ch
}

// resolve delivers a response and forgets the id. It reports false for
// unknown ids.
func (p *pendingTable) resolve(id string, resp response) bool {
	p.mu.Lock()
	entry, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	entry.ch <- resp
	return true
}

func (p *pendingTable) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

// failAll resolves every pending request with err.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	items := p.items
	p.items = make(map[string]pendingEntry)
	p.mu.Unlock()
	for _, entry := range items {
		entry.ch <- response{err: err}
	}
}

func (p *pendingTable) list() []PendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingCall, 0, len(p.items))
	for _, entry := range p.items {
		out = append(out, entry.call)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}
