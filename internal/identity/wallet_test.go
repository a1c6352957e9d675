package identity

import (
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdentity(t *testing.T, b byte) *Identity {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	return NewIdentity(ed25519.NewKeyFromSeed(seed))
}

func recordEvents(w *Wallet) *[]Event {
	var events []Event
	w.Subscribe(func(ev Event) { events = append(events, ev) })
	return &events
}

func TestWalletConnect(t *testing.T) {
	alice := newTestIdentity(t, 1)
	w := NewWallet(StaticSource(alice))
	events := recordEvents(w)

	assert.Nil(t, w.Current())
	assert.Nil(t, w.Signer())

	id, err := w.Connect()
	require.NoError(t, err)
	assert.Same(t, alice, id)
	assert.Same(t, alice, w.Current())
	require.NotNil(t, w.Signer())

	// Second connect is a no-op.
	_, err = w.Connect()
	require.NoError(t, err)

	require.Len(t, *events, 1)
	assert.Equal(t, Connected, (*events)[0].Kind)
	assert.Same(t, alice, (*events)[0].Identity)
}

func TestWalletConnectDeclined(t *testing.T) {
	w := NewWallet(func() (*Identity, error) { return nil, nil })
	events := recordEvents(w)

	_, err := w.Connect()
	assert.ErrorIs(t, err, ErrUserDeclined)
	assert.Nil(t, w.Current())
	assert.Empty(t, *events)

	boom := errors.New("locked")
	w = NewWallet(func() (*Identity, error) { return nil, boom })
	_, err = w.Connect()
	assert.ErrorIs(t, err, boom)

	_, err = NewWallet(nil).Connect()
	assert.ErrorIs(t, err, ErrUserDeclined)
}

func TestWalletDisconnectAndSwitch(t *testing.T) {
	alice := newTestIdentity(t, 1)
	bob := newTestIdentity(t, 2)
	w := NewWallet(StaticSource(alice))
	events := recordEvents(w)

	w.Disconnect() // no-op while disconnected
	assert.Empty(t, *events)

	_, err := w.Connect()
	require.NoError(t, err)

	w.Switch(alice) // same account
	w.Switch(bob)
	w.Disconnect()
	w.Switch(alice)
	w.Switch(nil)

	kinds := make([]EventKind, 0, len(*events))
	for _, ev := range *events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{Connected, Switched, Disconnected, Connected, Disconnected}, kinds)

	sw := (*events)[1]
	assert.Same(t, bob, sw.Identity)
	assert.Same(t, alice, sw.Previous)
	assert.Same(t, bob, (*events)[2].Previous)
	assert.Nil(t, w.Current())
}

func TestWalletUnsubscribe(t *testing.T) {
	w := NewWallet(StaticSource(newTestIdentity(t, 3)))
	calls := 0
	unsubscribe := w.Subscribe(func(Event) { calls++ })

	_, err := w.Connect()
	require.NoError(t, err)
	unsubscribe()
	w.Disconnect()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "switched", Switched.String())
}

func TestWalletEventsFollowStateOrder(t *testing.T) {
	alice := newTestIdentity(t, 1)
	w := NewWallet(StaticSource(alice))

	var mu sync.Mutex
	var kinds []EventKind
	w.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = w.Connect()
		}()
		go func() {
			defer wg.Done()
			w.Disconnect()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	connected := false
	for i, k := range kinds {
		switch k {
		case Connected:
			require.False(t, connected, "connected twice at event %d", i)
			connected = true
		case Disconnected:
			require.True(t, connected, "disconnected while disconnected at event %d", i)
			connected = false
		}
	}
	assert.Equal(t, connected, w.Current() != nil)
}
