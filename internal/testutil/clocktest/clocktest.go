// Package clocktest provides a manually advanced clock for timing tests.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/lightviz/internal/busy"
)

// Manual fires scheduled callbacks only from Advance, on the caller's
// goroutine, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*timer
}

var _ busy.Clock = (*Manual)(nil)

func NewManual() *Manual {
	return &Manual{now: time.Unix(1700000000, 0)}
}

type timer struct {
	clock   *Manual
	at      time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (m *Manual) AfterFunc(d time.Duration, f func()) busy.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &timer{clock: m, at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending counts armed timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward and runs every callback that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		next := m.popDue(target)
		if next == nil {
			break
		}
		next.f()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

func (m *Manual) popDue(target time.Time) *timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	t := m.timers[0]
	t.fired = true
	m.now = t.at
	return t
}
