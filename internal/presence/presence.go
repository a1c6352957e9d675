// Package presence tracks who is currently typing. Signals are local and
// ephemeral: a keystroke marks someone as typing and each further
// keystroke pushes the expiry out again.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/metrics"
)

// DefaultTTL is how long a typing signal lives after the last keystroke.
const DefaultTTL = 1500 * time.Millisecond

type signal struct {
	expiresAt time.Time
	timer     *clock.Timer
}

// Tracker holds at most one pending expiry per key.
type Tracker struct {
	clock clock.Clock
	ttl   time.Duration
	log   *logrus.Entry

	mu      sync.Mutex
	signals map[string]*signal

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets the expiry window.
func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithClock sets the clock driving expiry timers.
func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clock.New(),
		ttl:     DefaultTTL,
		log:     logrus.WithField("component", "presence"),
		signals: make(map[string]*signal),
		subs:    make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Keystroke marks who as typing until ttl after now.
func (t *Tracker) Keystroke(who string) {
	if who == "" {
		return
	}

	t.mu.Lock()
	expiresAt := t.clock.Now().Add(t.ttl)
	if s, ok := t.signals[who]; ok {
		s.expiresAt = expiresAt
		s.timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}

	s := &signal{expiresAt: expiresAt}
	s.timer = t.clock.AfterFunc(t.ttl, func() { t.expire(who, s) })
	t.signals[who] = s
	n := len(t.signals)
	t.mu.Unlock()

	metrics.Typing.Set(float64(n))
	t.log.WithField("who", who).Debug("typing")
	t.notify()
}

func (t *Tracker) expire(who string, s *signal) {
	t.mu.Lock()
	if t.signals[who] != s {
		t.mu.Unlock()
		return
	}
	if remaining := s.expiresAt.Sub(t.clock.Now()); remaining > 0 {
		s.timer.Reset(remaining)
		t.mu.Unlock()
		return
	}
	delete(t.signals, who)
	n := len(t.signals)
	t.mu.Unlock()

	metrics.Typing.Set(float64(n))
	t.notify()
}

// Clear drops who's signal immediately.
func (t *Tracker) Clear(who string) {
	t.mu.Lock()
	s, ok := t.signals[who]
	if ok {
		s.timer.Stop()
		delete(t.signals, who)
	}
	n := len(t.signals)
	t.mu.Unlock()

	if ok {
		metrics.Typing.Set(float64(n))
		t.notify()
	}
}

// IsTyping reports whether who has a live signal.
func (t *Tracker) IsTyping(who string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.signals[who]
	return ok
}

// Typing lists everyone currently typing, sorted.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.signals))
	for who := range t.signals {
		out = append(out, who)
	}
	t.mu.Unlock()

	sort.Strings(out)
	return out
}

// Stop cancels every pending expiry and clears all signals.
func (t *Tracker) Stop() {
	t.mu.Lock()
	had := len(t.signals) > 0
	for who, s := range t.signals {
		s.timer.Stop()
		delete(t.signals, who)
	}
	t.mu.Unlock()

	if had {
		metrics.Typing.Set(0)
		t.notify()
	}
}

// Subscribe returns a channel signalled whenever the typing set changes.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	return ch, func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) notify() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
