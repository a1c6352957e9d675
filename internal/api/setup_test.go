package api

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/logger"
	"hoodhub.chat/hub/internal/syncer"
)

// fakeSession implements ChatSession in memory.
type fakeSession struct {
	mu        sync.Mutex
	id        *identity.Identity
	declined  bool
	draft     string
	state     composer.State
	submitErr error
	submitted []string
	typing    []string
}

func (f *fakeSession) View() chat.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := chat.View{
		Connected: f.id != nil,
		Messages:  []chat.MessageView{},
		Composer:  composer.Status{State: f.state, Draft: f.draft},
		SendLabel: chat.SendLabel,
		Typing:    append([]string{}, f.typing...),
	}
	if f.id != nil {
		v.Account = string(f.id.Address())
		v.AccountLabel = "me"
	}
	for i, text := range f.submitted {
		v.Messages = append(v.Messages, chat.MessageView{Position: i, Text: text, Mine: true})
	}
	return v
}

func (f *fakeSession) Account() ledger.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == nil {
		return ""
	}
	return f.id.Address()
}

func (f *fakeSession) Connect() (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declined {
		return nil, identity.ErrUserDeclined
	}
	if f.id == nil {
		seed := make([]byte, ed25519.SeedSize)
		f.id = identity.NewIdentity(ed25519.NewKeyFromSeed(seed))
	}
	return f.id, nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = nil
	f.typing = nil
}

func (f *fakeSession) Keystroke(draft string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = draft
	if draft == "" {
		f.typing = nil
		return
	}
	f.typing = []string{"me"}
}

func (f *fakeSession) Submit(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, text)
	f.draft = ""
	return nil
}

func (f *fakeSession) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

type fakeSync struct {
	mu       sync.Mutex
	status   syncer.Status
	requests int
}

func (f *fakeSync) Status() syncer.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSync) RequestRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
}

// setupTest creates a service over in-memory collaborators.
func setupTest(t *testing.T) (*Service, *fakeSession, *fakeSync) {
	t.Helper()
	session := &fakeSession{}
	sync := &fakeSync{}
	return NewService(session, sync, logger.New(10), "test"), session, sync
}
