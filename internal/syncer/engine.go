// Package syncer owns the canonical message list. A poll loop refreshes it
// from the ledger while an identity is connected; readers only ever see
// immutable snapshots, replaced wholesale on each refresh and patched with
// display names as identity lookups settle.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/metrics"
	"hoodhub.chat/hub/internal/names"
)

// DefaultInterval is the poll cadence.
const DefaultInterval = 5 * time.Second

// ErrRefreshInFlight is returned by Refresh when another refresh is still
// outstanding.
var ErrRefreshInFlight = errors.New("syncer: refresh already in flight")

// Resolver is the part of names.Resolver the engine uses.
type Resolver interface {
	Resolve(ctx context.Context, key ledger.Address) (names.Entry, error)
	Cached(key ledger.Address) (names.Entry, bool)
}

// Message is one record as shown to the user. Position is the record's
// index in the ledger and its identity for the session.
type Message struct {
	Position    int            `json:"position"`
	Author      ledger.Address `json:"author"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
	ObservedAt  time.Time      `json:"observedAt"`
	DisplayName string         `json:"displayName,omitempty"`
	AvatarURL   string         `json:"avatarUrl,omitempty"`
}

// Snapshot is an immutable view of the message list. Callers must not
// modify Messages.
type Snapshot struct {
	Messages    []Message `json:"messages"`
	Version     uint64    `json:"version"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// Status describes the poll loop.
type Status struct {
	Running     bool          `json:"running"`
	Refreshing  bool          `json:"refreshing"`
	Interval    time.Duration `json:"interval"`
	LastRefresh time.Time     `json:"lastRefresh"`
	LastError   string        `json:"lastError,omitempty"`
}

// Engine polls a ledger.Gateway and maintains the message snapshot.
type Engine struct {
	gateway  ledger.Gateway
	resolver Resolver
	clock    clock.Clock
	interval time.Duration
	log      *logrus.Entry

	snap    atomic.Pointer[Snapshot]
	writeMu sync.Mutex // serializes snapshot replacement and patches

	refreshing atomic.Bool
	followUp   atomic.Bool
	session    atomic.Uint64

	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	statusMu    sync.RWMutex
	lastRefresh time.Time
	lastErr     error

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock sets the clock driving the poll ticker and ObservedAt stamps.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// New creates a stopped engine with an empty snapshot.
func New(gateway ledger.Gateway, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		gateway:  gateway,
		resolver: resolver,
		clock:    clock.New(),
		interval: DefaultInterval,
		log:      logrus.WithField("component", "syncer"),
		subs:     make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snap.Store(&Snapshot{Messages: []Message{}})
	return e
}

// Snapshot returns the current message list.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Status reports loop state and the outcome of the last refresh.
func (e *Engine) Status() Status {
	e.runMu.Lock()
	running := e.cancel != nil
	e.runMu.Unlock()

	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	s := Status{
		Running:     running,
		Refreshing:  e.refreshing.Load(),
		Interval:    e.interval,
		LastRefresh: e.lastRefresh,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Subscribe returns a channel that receives a signal after every snapshot
// change. Signals coalesce; receivers re-read Snapshot.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Start begins polling: one refresh immediately, then one per interval.
// Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	session := e.session.Add(1)
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.done = make(chan struct{})

	e.log.WithField("interval", e.interval).Info("polling started")
	go e.run(runCtx, session, e.done)
}

// Stop cancels the poll loop. Refresh and lookup results still in flight
// are discarded when they arrive. The last snapshot stays readable.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	if cancel == nil {
		e.runMu.Unlock()
		return
	}
	e.cancel, e.done, e.runCtx = nil, nil, nil
	e.session.Add(1)
	e.runMu.Unlock()

	cancel()
	<-done
	e.log.Info("polling stopped")
}

// Reset stops polling and empties the message list.
func (e *Engine) Reset() {
	e.Stop()
	e.writeMu.Lock()
	e.session.Add(1)
	prev := e.snap.Load()
	e.snap.Store(&Snapshot{Messages: []Message{}, Version: prev.Version + 1, RefreshedAt: prev.RefreshedAt})
	e.writeMu.Unlock()
	metrics.Messages.Set(0)
	e.notify()
}

func (e *Engine) run(ctx context.Context, session uint64, done chan struct{}) {
	defer close(done)

	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()

	// initial refresh immediately; it queues behind one left over from a
	// previous session
	e.followUp.Store(true)
	if e.refreshing.CompareAndSwap(false, true) {
		go e.drain(ctx, session)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, session)
		}
	}
}

func (e *Engine) tick(ctx context.Context, session uint64) {
	if !e.refreshing.CompareAndSwap(false, true) {
		metrics.SkippedTicks.Inc()
		e.log.Debug("refresh still outstanding, skipping tick")
		return
	}
	go e.drain(ctx, session)
}

// RequestRefresh asks for one refresh outside the poll cadence. If a
// refresh is outstanding, exactly one more runs after it completes. It is a
// no-op while the engine is stopped.
func (e *Engine) RequestRefresh() {
	ctx, session, ok := e.currentRun()
	if !ok {
		return
	}
	e.followUp.Store(true)
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	go e.drain(ctx, session)
}

// Refresh runs one refresh synchronously and returns its error. It fails
// with ErrRefreshInFlight instead of waiting on an outstanding refresh.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	e.followUp.Store(false)
	err := e.refreshOnce(ctx, e.session.Load())
	e.refreshing.Store(false)

	if e.followUp.Load() {
		if runCtx, session, ok := e.currentRun(); ok && e.refreshing.CompareAndSwap(false, true) {
			go e.drain(runCtx, session)
		}
	}
	return err
}

func (e *Engine) currentRun() (context.Context, uint64, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.runCtx == nil {
		return nil, 0, false
	}
	return e.runCtx, e.session.Load(), true
}

// drain runs refreshes while follow-up requests keep arriving, each under
// the run current when it starts. The caller must hold the refreshing flag.
func (e *Engine) drain(ctx context.Context, session uint64) {
	for {
		e.followUp.Store(false)
		_ = e.refreshOnce(ctx, session)
		e.refreshing.Store(false)

		if !e.followUp.Load() {
			return
		}
		var ok bool
		if ctx, session, ok = e.currentRun(); !ok {
			return
		}
		if !e.refreshing.CompareAndSwap(false, true) {
			return
		}
	}
}

func (e *Engine) refreshOnce(ctx context.Context, session uint64) error {
	records, err := e.gateway.FetchAll(ctx)
	if e.session.Load() != session {
		metrics.RefreshesTotal.WithLabelValues(metrics.RefreshDiscarded).Inc()
		e.log.Debug("discarding refresh from ended session")
		return err
	}
	if err != nil {
		e.recordFailure(err)
		return err
	}

	e.writeMu.Lock()
	if e.session.Load() != session {
		e.writeMu.Unlock()
		metrics.RefreshesTotal.WithLabelValues(metrics.RefreshDiscarded).Inc()
		return nil
	}
	prev := e.snap.Load()
	now := e.clock.Now()
	msgs := e.build(records, prev.Messages, now)
	e.snap.Store(&Snapshot{Messages: msgs, Version: prev.Version + 1, RefreshedAt: now})
	e.writeMu.Unlock()

	e.statusMu.Lock()
	e.lastRefresh = now
	e.lastErr = nil
	e.statusMu.Unlock()

	metrics.RefreshesTotal.WithLabelValues(metrics.RefreshOK).Inc()
	metrics.Messages.Set(float64(len(msgs)))
	e.log.WithField("messages", len(msgs)).Debug("refreshed")
	e.notify()

	e.resolveAuthors(ctx, session, msgs)
	return nil
}

func (e *Engine) recordFailure(err error) {
	result := metrics.RefreshTransport
	if ledger.IsContract(err) {
		result = metrics.RefreshContract
	}
	metrics.RefreshesTotal.WithLabelValues(result).Inc()
	e.log.WithError(err).Warn("refresh failed, keeping previous messages")

	e.statusMu.Lock()
	e.lastErr = err
	e.statusMu.Unlock()
	e.notify()
}

// build maps records to messages in ledger order. ObservedAt carries over
// for a position whose author and text are unchanged; display fields come
// from resolved cache entries.
func (e *Engine) build(records []ledger.RawRecord, prev []Message, now time.Time) []Message {
	msgs := make([]Message, len(records))
	for i, rec := range records {
		m := Message{
			Position:   i,
			Author:     rec.Author,
			Text:       rec.Text,
			Timestamp:  rec.Time(),
			ObservedAt: now,
		}
		if i < len(prev) && prev[i].Author.Equal(rec.Author) && prev[i].Text == rec.Text {
			m.ObservedAt = prev[i].ObservedAt
		}
		if e.resolver != nil {
			if entry, ok := e.resolver.Cached(rec.Author); ok {
				m.DisplayName = entry.DisplayName
				m.AvatarURL = entry.AvatarURL
			}
		}
		msgs[i] = m
	}
	return msgs
}

func (e *Engine) resolveAuthors(ctx context.Context, session uint64, msgs []Message) {
	if e.resolver == nil {
		return
	}
	seen := make(map[ledger.Address]bool)
	for _, m := range msgs {
		key := m.Author.Normalize()
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := e.resolver.Cached(key); ok {
			continue
		}
		go e.resolve(ctx, session, key)
	}
}

func (e *Engine) resolve(ctx context.Context, session uint64, key ledger.Address) {
	entry, err := e.resolver.Resolve(ctx, key)
	if err != nil && !names.IsLookupError(err) {
		return
	}
	e.patch(session, entry)
}

// patch applies entry to every message by its author in the snapshot
// current at patch time. Entries from an ended session are dropped.
func (e *Engine) patch(session uint64, entry names.Entry) {
	if entry.DisplayName == "" && entry.AvatarURL == "" {
		return
	}

	e.writeMu.Lock()
	if e.session.Load() != session {
		e.writeMu.Unlock()
		return
	}
	cur := e.snap.Load()
	var msgs []Message
	for i, m := range cur.Messages {
		if !m.Author.Equal(entry.Key) || (m.DisplayName == entry.DisplayName && m.AvatarURL == entry.AvatarURL) {
			continue
		}
		if msgs == nil {
			msgs = make([]Message, len(cur.Messages))
			copy(msgs, cur.Messages)
		}
		msgs[i].DisplayName = entry.DisplayName
		msgs[i].AvatarURL = entry.AvatarURL
	}
	if msgs == nil {
		e.writeMu.Unlock()
		return
	}
	e.snap.Store(&Snapshot{Messages: msgs, Version: cur.Version + 1, RefreshedAt: cur.RefreshedAt})
	e.writeMu.Unlock()

	e.notify()
}
