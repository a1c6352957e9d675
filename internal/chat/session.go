// Package chat ties the wallet session to the sync engine, composer and
// presence tracker, and renders their combined state as a view model.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
	"hoodhub.chat/hub/internal/presence"
	"hoodhub.chat/hub/internal/syncer"
)

// Session reacts to wallet events: polling runs only while an identity is
// connected, and a switch restarts it under the new identity.
type Session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wallet   *identity.Wallet
	engine   *syncer.Engine
	composer *composer.Composer
	presence *presence.Tracker
	resolver *names.Resolver
	log      *logrus.Entry

	unsubscribe []func()
	wg          sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewSession wires the components together. If the wallet is already
// connected, polling starts immediately. Close releases the session.
func NewSession(ctx context.Context, wallet *identity.Wallet, engine *syncer.Engine, comp *composer.Composer, tracker *presence.Tracker, resolver *names.Resolver) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:      ctx,
		cancel:   cancel,
		wallet:   wallet,
		engine:   engine,
		composer: comp,
		presence: tracker,
		resolver: resolver,
		log:      logrus.WithField("component", "session"),
		subs:     make(map[int]chan struct{}),
	}

	s.unsubscribe = append(s.unsubscribe, wallet.Subscribe(s.handle))
	for _, sub := range []func() (<-chan struct{}, func()){engine.Subscribe, comp.Subscribe, tracker.Subscribe} {
		ch, unsub := sub()
		s.unsubscribe = append(s.unsubscribe, unsub)
		s.wg.Add(1)
		go s.forward(ch)
	}

	if wallet.Current() != nil {
		engine.Start(ctx)
	}
	return s
}

func (s *Session) handle(ev identity.Event) {
	switch ev.Kind {
	case identity.Connected:
		s.engine.Start(s.ctx)
	case identity.Disconnected:
		s.engine.Stop()
		s.presence.Stop()
		s.forget()
	case identity.Switched:
		s.engine.Stop()
		s.presence.Stop()
		s.forget()
		s.engine.Start(s.ctx)
	}
	s.log.WithField("event", ev.Kind).Debug("wallet event handled")
	s.notify()
}

// forget drops resolved names; a new identity session looks them up again.
func (s *Session) forget() {
	if s.resolver != nil {
		s.resolver.Forget()
	}
}

func (s *Session) forward(ch <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ch:
			s.notify()
		}
	}
}

// Connect asks the wallet for an identity.
func (s *Session) Connect() (*identity.Identity, error) {
	return s.wallet.Connect()
}

// Disconnect ends the wallet session.
func (s *Session) Disconnect() {
	s.wallet.Disconnect()
}

// Account returns the connected address, or "".
func (s *Session) Account() ledger.Address {
	if id := s.wallet.Current(); id != nil {
		return id.Address()
	}
	return ""
}

// Keystroke records a draft edit and marks the connected user as typing.
// Clearing the draft clears the signal.
func (s *Session) Keystroke(draft string) {
	s.composer.SetDraft(draft)
	account := s.Account()
	if account == "" {
		return
	}
	who := string(account.Normalize())
	if strings.TrimSpace(draft) == "" {
		s.presence.Clear(who)
		return
	}
	s.presence.Keystroke(who)
}

// Submit sends text through the composer and clears the typing signal
// once it is confirmed.
func (s *Session) Submit(ctx context.Context, text string) error {
	if err := s.composer.Submit(ctx, text); err != nil {
		return err
	}
	if account := s.Account(); account != "" {
		s.presence.Clear(string(account.Normalize()))
	}
	return nil
}

// View renders the current state.
func (s *Session) View() View {
	v := BuildView(s.engine.Snapshot(), s.Account(), s.composer.Status(), s.presence.Typing(), CachedLabeler(s.resolver))
	v.LastError = s.engine.Status().LastError
	return v
}

// Subscribe returns a channel signalled whenever the view may have
// changed.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops polling and detaches from every component.
func (s *Session) Close() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.cancel()
	s.wg.Wait()
	s.engine.Stop()
	s.presence.Stop()
}
