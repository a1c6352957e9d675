package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
	"hoodhub.chat/hub/internal/syncer"
)

const (
	alice = ledger.Address("0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAA1111")
	bob   = ledger.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2222")
)

func TestBuildViewEmpty(t *testing.T) {
	v := BuildView(&syncer.Snapshot{}, "", composer.Status{}, nil, nil)
	assert.False(t, v.Connected)
	assert.Empty(t, v.Messages)
	assert.NotNil(t, v.Messages)
	assert.Equal(t, EmptyText, v.EmptyText)
	assert.Equal(t, SendLabel, v.SendLabel)
}

func TestBuildViewMessages(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)
	snap := &syncer.Snapshot{
		Version: 4,
		Messages: []syncer.Message{
			{Position: 0, Author: alice, Text: "gm", DisplayName: "alice.hood", AvatarURL: "https://img/a"},
			{Position: 1, Author: bob, Text: "gm gm", Timestamp: ts},
		},
	}

	// Account casing differs from the stored author.
	v := BuildView(snap, ledger.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1111"), composer.Status{State: composer.Confirming}, []string{string(bob)}, nil)
	require.Len(t, v.Messages, 2)
	assert.True(t, v.Connected)
	assert.Empty(t, v.EmptyText)
	assert.Equal(t, uint64(4), v.Version)

	assert.True(t, v.Messages[0].Mine)
	assert.Equal(t, "alice.hood", v.Messages[0].Label)
	assert.Equal(t, "https://img/a", v.Messages[0].AvatarURL)
	assert.Empty(t, v.Messages[0].Time)

	assert.False(t, v.Messages[1].Mine)
	assert.Equal(t, "0xbbbb...2222", v.Messages[1].Label)
	assert.Equal(t, "Mar 9 14:05", v.Messages[1].Time)

	assert.Equal(t, SendingText, v.SendLabel)
	assert.Equal(t, []string{"0xbbbb...2222"}, v.Typing)
	assert.Equal(t, "0xaaaa...1111", v.AccountLabel)
}

func TestBuildViewDisconnectedNeverMine(t *testing.T) {
	snap := &syncer.Snapshot{Messages: []syncer.Message{{Author: alice, Text: "gm"}}}
	v := BuildView(snap, "", composer.Status{}, nil, nil)
	assert.False(t, v.Messages[0].Mine)
}

func TestCachedLabelerMatchesMessageLabel(t *testing.T) {
	r := names.NewResolver(nil)
	_, err := r.Resolve(context.Background(), ledger.Address(strings.ToLower(string(alice))))
	require.NoError(t, err)

	snap := &syncer.Snapshot{Messages: []syncer.Message{{Author: alice, Text: "gm"}}}
	v := BuildView(snap, alice, composer.Status{}, []string{string(alice)}, CachedLabeler(r))
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "0xAAAA...1111", v.Messages[0].Label)
	assert.Equal(t, v.Messages[0].Label, v.AccountLabel)
	assert.Equal(t, []string{v.Messages[0].Label}, v.Typing)
}
