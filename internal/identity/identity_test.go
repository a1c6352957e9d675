// Package identity tests validate key generation, loading, and signing
// behavior for the Identity abstraction, plus the wallet session that
// connects it.
package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityLifecycle(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "node_key.pem")

	identity1, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	identity2, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	assert.Equal(t, identity1.PublicKeyHex(), identity2.PublicKeyHex())
	assert.Equal(t, identity1.Address(), identity2.Address())
	assert.True(t, identity1.Address().Valid())
}

func TestEmptyKeyFileIsReplaced(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(keyPath, nil, 0600))

	id, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	loaded, err := LoadIdentity(keyPath)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), loaded.Address())
}

func TestLoadIdentityRejectsGarbage(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

	_, err := LoadIdentity(keyPath)
	assert.Error(t, err)

	_, err = LoadIdentity(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateIdentity(filepath.Join(dir, "test_key.pem"))
	require.NoError(t, err)

	message := []byte("gm hood")
	signature := identity.Sign(message)
	assert.True(t, identity.Verify(message, signature))

	other, err := LoadOrCreateIdentity(filepath.Join(dir, "other_key.pem"))
	require.NoError(t, err)
	assert.False(t, other.Verify(message, signature))
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secure_test_key.pem")

	_, err := LoadOrCreateIdentity(keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFromSeedHex(t *testing.T) {
	seed := "0x01" + strings.Repeat("00", 31)

	a, err := FromSeedHex(seed)
	require.NoError(t, err)
	b, err := FromSeedHex(seed[2:])
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = FromSeedHex("abcd")
	assert.Error(t, err)
	_, err = FromSeedHex("zz")
	assert.Error(t, err)
}
