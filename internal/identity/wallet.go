package identity

import (
	"errors"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/ledger"
)

var (
	// ErrUserDeclined is returned by Connect when the key source refuses.
	ErrUserDeclined = errors.New("identity: connection declined")

	// ErrNotConnected is returned when an operation needs a signer and none
	// is connected.
	ErrNotConnected = errors.New("identity: no identity connected")
)

// KeySource produces the identity to connect. Returning (nil, nil) or
// ErrUserDeclined means the user declined.
type KeySource func() (*Identity, error)

// StaticSource always offers the same identity.
func StaticSource(id *Identity) KeySource {
	return func() (*Identity, error) { return id, nil }
}

// EventKind describes an identity change.
type EventKind int

const (
	Connected EventKind = iota + 1
	Disconnected
	Switched
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Switched:
		return "switched"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every identity change. Identity is
// nil for Disconnected; Previous is nil for Connected.
type Event struct {
	Kind     EventKind
	Identity *Identity
	Previous *Identity
}

// Wallet is the session provider: it holds the connected identity and
// notifies subscribers when it changes. Subscribers are called
// synchronously, in order, outside the state lock. Each change and its
// delivery run under notifyMu, so subscribers see changes in the order they
// were applied.
type Wallet struct {
	mu      sync.RWMutex
	source  KeySource
	current *Identity
	subs    map[int]func(Event)
	nextSub int

	notifyMu sync.Mutex
	log      *logrus.Entry
}

// NewWallet creates a disconnected wallet backed by source.
func NewWallet(source KeySource) *Wallet {
	return &Wallet{
		source: source,
		subs:   make(map[int]func(Event)),
		log:    logrus.WithField("component", "wallet"),
	}
}

// Connect asks the key source for an identity. Connecting an already
// connected wallet returns the current identity without an event.
func (w *Wallet) Connect() (*Identity, error) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	if cur := w.Current(); cur != nil {
		return cur, nil
	}
	if w.source == nil {
		return nil, ErrUserDeclined
	}

	id, err := w.source()
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ErrUserDeclined
	}

	w.mu.Lock()
	w.current = id
	w.mu.Unlock()

	w.log.WithField("account", id.Address()).Info("identity connected")
	w.publishLocked(Event{Kind: Connected, Identity: id})
	return id, nil
}

// Disconnect drops the current identity. No-op when disconnected.
func (w *Wallet) Disconnect() {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	w.disconnectLocked()
}

func (w *Wallet) disconnectLocked() {
	w.mu.Lock()
	prev := w.current
	w.current = nil
	w.mu.Unlock()

	if prev == nil {
		return
	}
	w.log.WithField("account", prev.Address()).Info("identity disconnected")
	w.publishLocked(Event{Kind: Disconnected, Previous: prev})
}

// Switch replaces the connected identity. Switching to nil disconnects;
// switching while disconnected connects; switching to the same account is
// a no-op.
func (w *Wallet) Switch(id *Identity) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	if id == nil {
		w.disconnectLocked()
		return
	}

	w.mu.Lock()
	prev := w.current
	if prev != nil && prev.Address().Equal(id.Address()) {
		w.mu.Unlock()
		return
	}
	w.current = id
	w.mu.Unlock()

	if prev == nil {
		w.log.WithField("account", id.Address()).Info("identity connected")
		w.publishLocked(Event{Kind: Connected, Identity: id})
		return
	}
	w.log.WithFields(logrus.Fields{"from": prev.Address(), "to": id.Address()}).Info("identity switched")
	w.publishLocked(Event{Kind: Switched, Identity: id, Previous: prev})
}

// Current returns the connected identity or nil.
func (w *Wallet) Current() *Identity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Signer returns the connected identity as a ledger.Signer, or a nil
// interface when disconnected.
func (w *Wallet) Signer() ledger.Signer {
	if id := w.Current(); id != nil {
		return id
	}
	return nil
}

// Subscribe registers fn for identity changes and returns a function that
// removes it.
func (w *Wallet) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// publishLocked delivers ev to every subscriber. The caller holds notifyMu.
func (w *Wallet) publishLocked(ev Event) {
	w.mu.RLock()
	keys := make([]int, 0, len(w.subs))
	for k := range w.subs {
		keys = append(keys, k)
	}
	w.mu.RUnlock()

	slices.Sort(keys)
	for _, k := range keys {
		w.mu.RLock()
		fn, ok := w.subs[k]
		w.mu.RUnlock()
		if ok {
			fn(ev)
		}
	}
}
