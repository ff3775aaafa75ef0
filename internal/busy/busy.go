// Package busy counts in-flight remote calls and reports activity transitions.
//
// Every non-zero transition is reported to the callback immediately. Reaching
// zero is reported only after a short debounce window, and only if no new call
// started in that window, so back-to-back calls do not flicker an idle signal.
package busy

import (
	"sync"
	"time"
)

// DefaultDebounce is the idle notification delay.
const DefaultDebounce = 50 * time.Millisecond

// Callback observes the busy count.
type Callback func(count int)

type Option func(*Tracker)

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.debounce = d
		}
	}
}

// WithCountHook runs hook with the new count on every transition, while the
// tracker holds its lock. hook must be quick and must not call the tracker.
func WithCountHook(hook func(count int)) Option {
	return func(t *Tracker) {
		t.hook = hook
	}
}

// Tracker is a reference count of in-flight calls with a debounced idle
// notification. Observer notifications are queued in transition order and
// delivered with the lock released, so an observer may read or update the
// tracker. When another goroutine is already delivering, Update returns after
// queueing and that goroutine delivers the notification.
type Tracker struct {
	mu       sync.Mutex
	count    int
	callback Callback
	hook     func(count int)
	clock    Clock
	debounce time.Duration
	idle     Timer
	// gen invalidates an idle timer whose callback was already running when
	// it was stopped.
	gen      uint64
	queue    []note
	draining bool
}

type note struct {
	cb    Callback
	count int
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		clock:    RealClock{},
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCallback replaces the observer. nil clears it. Notifications already
// queued still reach the observer that was set when they were queued.
func (t *Tracker) SetCallback(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Tracker) Debounce() time.Duration {
	return t.debounce
}

// Update applies delta to the count and notifies the observer.
func (t *Tracker) Update(delta int) {
	t.mu.Lock()
	t.count += delta
	if t.count < 0 {
		t.count = 0
	}
	if t.hook != nil {
		t.hook(t.count)
	}
	t.cancelIdleLocked()
	if t.callback != nil {
		if t.count != 0 {
			t.queue = append(t.queue, note{cb: t.callback, count: t.count})
		} else {
			gen := t.gen
			t.idle = t.clock.AfterFunc(t.debounce, func() {
				t.fireIdle(gen)
			})
		}
	}
	t.deliverAndUnlock()
}

// deliverAndUnlock is entered with t.mu held and returns with it released.
// Only one goroutine drains the queue at a time.
func (t *Tracker) deliverAndUnlock() {
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.draining = true
	defer func() {
		t.draining = false
		t.mu.Unlock()
	}()
	for len(t.queue) > 0 {
		n := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		func() {
			defer t.mu.Lock()
			n.cb(n.count)
		}()
	}
}

// Stop cancels a pending idle notification.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelIdleLocked()
}

func (t *Tracker) cancelIdleLocked() {
	t.gen++
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
}

func (t *Tracker) fireIdle(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.count != 0 {
		t.mu.Unlock()
		return
	}
	t.idle = nil
	if t.callback != nil {
		t.queue = append(t.queue, note{cb: t.callback, count: 0})
	}
	t.deliverAndUnlock()
}

// Do runs fn between one increment and one decrement of t. The result and
// error of fn are returned unchanged.
func Do[T any](t *Tracker, fn func() (T, error)) (T, error) {
	t.Update(1)
	defer t.Update(-1)
	return fn()
}
