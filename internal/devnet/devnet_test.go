package devnet

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
)

const testLedger = ledger.Address("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "devnet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newIdentity(b byte) *identity.Identity {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	return identity.NewIdentity(ed25519.NewKeyFromSeed(seed))
}

func newTestNode(t *testing.T, opts ...NodeOption) (*Node, *ledger.Client) {
	t.Helper()
	node := NewNode(newTestStore(t), testLedger, opts...)
	srv := httptest.NewServer(node.Handler())
	t.Cleanup(srv.Close)
	return node, ledger.NewClient(srv.URL, testLedger, ledger.WithConfirmPollInterval(5*time.Millisecond))
}

func TestAppendAndFetchRoundTrip(t *testing.T) {
	_, client := newTestNode(t)
	alice, bob := newIdentity(1), newIdentity(2)
	ctx := context.Background()

	records, err := client.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	for _, m := range []struct {
		who  *identity.Identity
		text string
	}{{alice, "gm"}, {bob, "gm gm"}, {alice, "wagmi"}} {
		conf, err := client.Append(ctx, m.who, m.text)
		require.NoError(t, err)
		require.NoError(t, conf.Wait(ctx))
	}

	records, err = client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, alice.Address(), records[0].Author)
	assert.Equal(t, "gm gm", records[1].Text)
	assert.Equal(t, "wagmi", records[2].Text)
	assert.NotZero(t, records[0].Timestamp)
}

func TestUnknownLedgerIsContractError(t *testing.T) {
	node := NewNode(newTestStore(t), testLedger)
	srv := httptest.NewServer(node.Handler())
	defer srv.Close()

	other := ledger.NewClient(srv.URL, "0x0000000000000000000000000000000000000001")
	_, err := other.FetchAll(context.Background())
	assert.True(t, ledger.IsContract(err))

	_, err = other.Append(context.Background(), newIdentity(1), "hi")
	assert.True(t, ledger.IsSubmission(err))
}

func TestRejectsForgedTransaction(t *testing.T) {
	node := NewNode(newTestStore(t), testLedger)

	alice, mallory := newIdentity(1), newIdentity(2)
	signed, err := ledger.NewMessageTx(alice.Address(), "not me", time.Now()).Sign(mallory)
	require.NoError(t, err)
	encoded, err := signed.Encode()
	require.NoError(t, err)

	res := node.updateMessage(encoded)
	assert.Equal(t, CodeInvalidSignature, res.Code)

	res = node.updateMessage("garbage")
	assert.Equal(t, CodeMalformedTx, res.Code)

	signed, err = ledger.NewMessageTx(alice.Address(), strings.Repeat("x", MaxMessageLength+1), time.Now()).Sign(alice)
	require.NoError(t, err)
	encoded, err = signed.Encode()
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidMessage, node.updateMessage(encoded).Code)
}

func TestDuplicateTransactionRejected(t *testing.T) {
	node := NewNode(newTestStore(t), testLedger)
	alice := newIdentity(1)

	signed, err := ledger.NewMessageTx(alice.Address(), "once", time.Now()).Sign(alice)
	require.NoError(t, err)
	encoded, err := signed.Encode()
	require.NoError(t, err)

	assert.Equal(t, CodeOK, node.updateMessage(encoded).Code)
	assert.Equal(t, CodeDuplicateTx, node.updateMessage(encoded).Code)

	records, err := node.store.Messages(testLedger)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBlockIntervalKeepsTransactionsPending(t *testing.T) {
	mock := clock.NewMock()
	node, client := newTestNode(t, WithBlockInterval(time.Second), WithClock(mock))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)

	conf, err := client.Append(ctx, newIdentity(1), "queued")
	require.NoError(t, err)

	status, err := client.TxStatus(ctx, conf.Hash())
	require.NoError(t, err)
	assert.Equal(t, ledger.TxPending, status.Status)

	records, err := client.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		status, err := client.TxStatus(ctx, conf.Hash())
		return err == nil && status.Status == ledger.TxIncluded
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conf.Wait(ctx))
	records, err = client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.LessOrEqual(t, records[0].Timestamp, mock.Now().Unix())
}

func TestUnknownTxHash(t *testing.T) {
	_, client := newTestNode(t)
	_, err := client.TxStatus(context.Background(), "deadbeef")
	require.Error(t, err)
	var rpcErr *ledger.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ledger.RPCTxNotFound, rpcErr.Code)
}

func TestNameRegistry(t *testing.T) {
	_, client := newTestNode(t)
	alice := newIdentity(1)
	ctx := context.Background()

	require.NoError(t, client.Call(ctx, "registerName", map[string]string{
		"address": "0x" + strings.ToUpper(string(alice.Address())[2:]),
		"name":    "alice.hood",
		"avatar":  "https://img/alice.png",
	}, &struct{}{}))

	resolver := names.NewResolver(names.NewRPCLookup(client))
	entry, err := resolver.Resolve(ctx, alice.Address())
	require.NoError(t, err)
	assert.Equal(t, "alice.hood", entry.DisplayName)
	assert.Equal(t, "https://img/alice.png", entry.AvatarURL)

	entry, err = resolver.Resolve(ctx, newIdentity(2).Address())
	require.NoError(t, err)
	assert.Empty(t, entry.DisplayName)

	err = client.Call(ctx, "registerName", map[string]string{"address": "nope", "name": "x"}, &struct{}{})
	assert.True(t, ledger.IsContract(err))
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	node := NewNode(newTestStore(t), testLedger)
	srv := httptest.NewServer(node.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/rpc", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := ledger.NewClient(srv.URL, testLedger)
	err = client.Call(context.Background(), "eth_blockNumber", nil, &struct{}{})
	assert.True(t, ledger.IsContract(err))

	var chain struct {
		ChainID int64 `json:"chainId"`
	}
	require.NoError(t, client.Call(context.Background(), "chainId", nil, &chain))
	assert.Equal(t, int64(46630), chain.ChainID)
}

func TestStoreBackupAndRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devnet.db")
	store, err := NewStore(path)
	require.NoError(t, err)

	alice := newIdentity(1)
	tx := ledger.NewMessageTx(alice.Address(), "persist me", time.Now())
	require.NoError(t, store.SubmitTx(testLedger, "h1", &tx))
	height, n, err := store.CommitBlock(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)
	assert.Equal(t, 1, n)

	backup, err := store.BackupCurrent(5)
	require.NoError(t, err)
	assert.FileExists(t, backup)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	records, err := reopened.Messages(testLedger)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "persist me", records[0].Text)

	// Empty blocks do not advance the height.
	height, n, err = reopened.CommitBlock(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)
	assert.Zero(t, n)
}
