package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/danmuck/lightviz/internal/protocols"
)

// Remote is one busy-wrapped capability group of a connected session.
type Remote struct {
	name    string
	methods map[string]protocols.Method
	topics  map[string]string
}

func (r *Remote) Name() string { return r.name }

// Call invokes method with positional args.
func (r *Remote) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	m, ok := r.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, r.name, method)
	}
	return m(ctx, args...)
}

// Method returns the wrapped method for direct use.
func (r *Remote) Method(name string) (protocols.Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

func (r *Remote) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupInfo describes one live group.
type GroupInfo struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	Events  []string `json:"events,omitempty"`
}

func (r *Remote) info() GroupInfo {
	events := make([]string, 0, len(r.topics))
	for name := range r.topics {
		events = append(events, name)
	}
	sort.Strings(events)
	return GroupInfo{Name: r.name, Methods: r.Methods(), Events: events}
}
