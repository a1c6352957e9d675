// Package composer mediates user writes to the ledger. It tracks one
// submission at a time through Idle, Submitting, Confirming and Failed, and
// asks the sync engine for a fresh read once a write is confirmed.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/metrics"
)

// DefaultConfirmTimeout bounds how long Submit waits for inclusion.
const DefaultConfirmTimeout = 2 * time.Minute

var (
	// ErrEmptyText is returned for blank submissions. Nothing changes.
	ErrEmptyText = errors.New("composer: message text is empty")

	// ErrBusy is returned while a submission is in progress. Nothing
	// changes.
	ErrBusy = errors.New("composer: submission already in progress")
)

// State is the composer lifecycle state.
type State int

const (
	Idle State = iota
	Submitting
	Confirming
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Confirming:
		return "confirming"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Submitting, Confirming, Failed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("composer: unknown state %q", b)
}

// Busy reports whether a submission is in progress.
func (s State) Busy() bool {
	return s == Submitting || s == Confirming
}

// Status is a copy of the composer state.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
	Draft  string `json:"draft"`
	TxHash string `json:"txHash,omitempty"`
}

// SignerSource yields the connected signer, or nil when disconnected.
type SignerSource interface {
	Signer() ledger.Signer
}

// Refresher is asked for one out-of-cadence refresh after a confirmed
// write.
type Refresher interface {
	RequestRefresh()
}

// Composer owns the draft and the submission state machine.
type Composer struct {
	gateway        ledger.Gateway
	signers        SignerSource
	refresher      Refresher
	confirmTimeout time.Duration
	log            *logrus.Entry

	mu     sync.Mutex
	state  State
	reason string
	draft  string
	txHash string

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Option configures a Composer.
type Option func(*Composer)

// WithConfirmTimeout bounds the wait for inclusion.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// New creates an idle composer. refresher may be nil.
func New(gateway ledger.Gateway, signers SignerSource, refresher Refresher, opts ...Option) *Composer {
	c := &Composer{
		gateway:        gateway,
		signers:        signers,
		refresher:      refresher,
		confirmTimeout: DefaultConfirmTimeout,
		log:            logrus.WithField("component", "composer"),
		subs:           make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current state.
func (c *Composer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Reason: c.reason, Draft: c.draft, TxHash: c.txHash}
}

// SetDraft replaces the draft text.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	changed := c.draft != text
	c.draft = text
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Submit appends text to the ledger and blocks until the write is
// confirmed or fails. Blank text and submissions while busy return
// ErrEmptyText or ErrBusy without changing state. Any gateway failure
// leaves the composer Failed until the next submission.
func (c *Composer) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state, c.reason, c.txHash = Submitting, "", ""
	c.mu.Unlock()
	c.notify()

	var signer ledger.Signer
	if c.signers != nil {
		signer = c.signers.Signer()
	}

	conf, err := c.gateway.Append(ctx, signer, text)
	if err != nil {
		c.failed(err)
		return err
	}

	c.mu.Lock()
	c.state, c.txHash = Confirming, conf.Hash()
	c.mu.Unlock()
	c.notify()

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	if err := conf.Wait(waitCtx); err != nil {
		c.failed(err)
		return err
	}

	c.mu.Lock()
	c.state, c.draft = Idle, ""
	c.mu.Unlock()

	metrics.SubmissionsTotal.WithLabelValues(metrics.SubmissionConfirmed).Inc()
	c.log.WithField("tx", conf.Hash()).Info("message confirmed")
	if c.refresher != nil {
		c.refresher.RequestRefresh()
	}
	c.notify()
	return nil
}

func (c *Composer) failed(err error) {
	if ledger.IsConfirmationTimeout(err) {
		c.fail(err, metrics.SubmissionTimeout, "confirmation timed out; the message may still appear")
		return
	}
	c.fail(err, metrics.SubmissionRejected, err.Error())
}

func (c *Composer) fail(err error, result, reason string) {
	c.mu.Lock()
	c.state, c.reason = Failed, reason
	c.mu.Unlock()

	metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	c.log.WithError(err).Error("message submission failed")
	c.notify()
}

// Subscribe returns a channel signalled after every state or draft change.
func (c *Composer) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Composer) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
