package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoodhub.chat/hub/internal/ledger"
)

const testLedger = ledger.Address("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultRPCAddr, c.RPCURL)
	assert.Equal(t, 5*time.Second, c.PollInterval.Std())
	assert.Equal(t, 1500*time.Millisecond, c.TypingTTL.Std())
	assert.Equal(t, 8080, c.Port)
	assert.Same(t, c, Get())

	c, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().KeyFile, c.KeyFile)
}

func TestLoadConfigFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoodhub.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rpc_url": "https://rpc.testnet.example",
		"ledger_address": "`+string(testLedger)+`",
		"poll_interval": "2s",
		"port": 9090
	}`), 0600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.testnet.example", c.RPCURL)
	assert.Equal(t, testLedger, c.LedgerAddress)
	assert.Equal(t, 2*time.Second, c.PollInterval.Std())
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, 2*time.Minute, c.ConfirmTimeout.Std())
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadConfigInvalidFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"poll_interval": 5}`), 0600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().PollInterval, c.PollInterval)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"HOODHUB_RPC_URL":         "http://node:8545",
		"HOODHUB_LEDGER_ADDRESS":  string(testLedger),
		"HOODHUB_CHAIN_ID":        "31337",
		"PRIVATE_KEY":             "0xabc",
		"HOODHUB_API_KEY":         "secret",
		"PORT":                    "70000",
		"HOODHUB_POLL_INTERVAL":   "750ms",
		"HOODHUB_CONFIRM_TIMEOUT": "nonsense",
	}
	c := Defaults()
	applyEnv(c, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "http://node:8545", c.RPCURL)
	assert.Equal(t, testLedger, c.LedgerAddress)
	assert.Equal(t, int64(31337), c.ChainID)
	assert.Equal(t, "0xabc", c.PrivateKey)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 750*time.Millisecond, c.PollInterval.Std())
	assert.Equal(t, 2*time.Minute, c.ConfirmTimeout.Std())

	r := c.Redacted()
	assert.Equal(t, "****", r.PrivateKey)
	assert.Equal(t, "****", r.APIKey)
	assert.Equal(t, "0xabc", c.PrivateKey)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HOODHUB_LEDGER_ADDRESS", string(testLedger))
	t.Setenv("HOODHUB_TYPING_TTL", "3s")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, testLedger, c.LedgerAddress)
	assert.Equal(t, 3*time.Second, c.TypingTTL.Std())
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	c := Defaults()
	c.LedgerAddress = testLedger
	assert.NoError(t, c.Validate())

	c.RPCURL = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingEndpoint)

	c.RPCURL = "ftp://node"
	assert.ErrorIs(t, c.Validate(), ErrInvalidEndpoint)

	c.RPCURL = "http://"
	assert.ErrorIs(t, c.Validate(), ErrInvalidEndpoint)

	c.RPCURL = "https://node"
	c.LedgerAddress = "0x1234"
	assert.ErrorIs(t, c.Validate(), ErrInvalidLedger)
}
