// Package protocols defines the remote-call groups a session exposes.
//
// A group is a named capability (color management, time handling, ...) that
// maps method names to remote procedures. Groups are built from a Session by
// the Factory registered under the capability name in a Table.
package protocols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/lightviz/internal/transport"
)

var (
	ErrGroupExists = errors.New("protocols: group already registered")
	ErrInvalidName = errors.New("protocols: invalid group name")
	ErrNilFactory  = errors.New("protocols: factory is nil")
)

// Session is the connection surface groups are built on.
type Session interface {
	Call(ctx context.Context, method string, args []any, kwargs map[string]any) (json.RawMessage, error)
	Subscribe(topic string, h transport.Handler) transport.Subscription
	Unsubscribe(sub transport.Subscription)
}

var _ Session = (*transport.Conn)(nil)

// Method invokes one remote procedure.
type Method func(ctx context.Context, args ...any) (json.RawMessage, error)

// Group is one capability's methods plus the pub/sub topics it listens on,
// keyed by event name.
type Group struct {
	Name    string
	Methods map[string]Method
	Topics  map[string]string
}

// MethodNames returns the sorted method names.
func (g Group) MethodNames() []string {
	names := make([]string, 0, len(g.Methods))
	for name := range g.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventNames returns the sorted topic event names.
func (g Group) EventNames() []string {
	names := make([]string, 0, len(g.Topics))
	for name := range g.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Factory func(Session) Group

// Table maps capability names to factories in registration order.
type Table struct {
	order     []string
	factories map[string]Factory
}

func NewTable() *Table {
	return &Table{factories: make(map[string]Factory)}
}

func (t *Table) Register(name string, f Factory) error {
	if f == nil {
		return ErrNilFactory
	}
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := t.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	t.factories[name] = f
	t.order = append(t.order, name)
	return nil
}

// MustRegister panics on registration errors; for static tables.
func (t *Table) MustRegister(name string, f Factory) {
	if err := t.Register(name, f); err != nil {
		panic(err)
	}
}

func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

func (t *Table) Len() int {
	return len(t.order)
}

// Build constructs every group from s.
func (t *Table) Build(s Session) map[string]Group {
	out := make(map[string]Group, len(t.order))
	for _, name := range t.order {
		g := t.factories[name](s)
		g.Name = name
		if g.Methods == nil {
			g.Methods = map[string]Method{}
		}
		if g.Topics == nil {
			g.Topics = map[string]string{}
		}
		out[name] = g
	}
	return out
}

// isValidName accepts identifiers like "ViewPortImageDelivery".
func isValidName(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if i == 0 && !isLetter {
			return false
		}
		if !(isLetter || isDigit) {
			return false
		}
	}
	return true
}

// rpc forwards positional arguments to the named remote procedure.
func rpc(s Session, remote string) Method {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		return s.Call(ctx, remote, args, nil)
	}
}

// withDefaults fills omitted trailing arguments of m from defaults.
func withDefaults(m Method, defaults ...any) Method {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		if len(args) < len(defaults) {
			filled := make([]any, len(defaults))
			copy(filled, args)
			copy(filled[len(args):], defaults[len(args):])
			args = filled
		}
		return m(ctx, args...)
	}
}

// methods builds a method map from method name to remote procedure name.
func methods(s Session, names map[string]string) map[string]Method {
	out := make(map[string]Method, len(names))
	for local, remote := range names {
		out[local] = rpc(s, remote)
	}
	return out
}
