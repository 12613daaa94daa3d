package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/transfer"
)

func signedCall(t *testing.T, key *crypto.PrivateKey, method string, methodParams interface{}, nonce uint64) *transfer.CallEnvelope {
	t.Helper()
	raw, err := ser.Encode(methodParams)
	require.NoError(t, err)
	env := &transfer.CallEnvelope{
		Caller:     key.Address(),
		Nonce:      nonce,
		ValidUntil: 10000,
		Method:     method,
		Params:     raw,
	}
	env.Sign(key, testChainID, custodyAddr)
	return env
}

func TestGovernanceCall(t *testing.T) {
	f := newFixture(t)
	h := NewGovernanceCallHandler(f.hub)
	h.now = fixedNow(200)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	// Unauthorized caller: nonce burns, operation fails.
	env := signedCall(t, key, "register_blockchain", &BlockchainParams{ChainID: 2, Name: "chain-b", FeeFactor: 3}, 1)
	res := decodeResult(t, runHandler(t, h.HandleStream, env))
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Reason)

	// Same nonce again: replay rejected outright.
	env2 := signedCall(t, key, "register_blockchain", &BlockchainParams{ChainID: 2, Name: "chain-b", FeeFactor: 3}, 1)
	res = decodeResult(t, runHandler(t, h.HandleStream, env2))
	assert.False(t, res.OK)
}

func TestGovernanceCallCommitHash(t *testing.T) {
	f := newFixture(t)
	h := NewGovernanceCallHandler(f.hub)
	h.now = fixedNow(200)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	// commit_hash is open to anyone; the call succeeds end to end.
	hash := crypto.KeccakData([]byte("commitment"))
	env := signedCall(t, key, "commit_hash", &CommitParams{Hash: hash}, 1)
	res := decodeResult(t, runHandler(t, h.HandleStream, env))
	assert.True(t, res.OK)
	assert.True(t, res.Executed)
}

func TestGovernanceCallTampered(t *testing.T) {
	f := newFixture(t)
	h := NewGovernanceCallHandler(f.hub)
	h.now = fixedNow(200)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	env := signedCall(t, key, "commit_hash", &CommitParams{Hash: crypto.KeccakData([]byte("a"))}, 1)
	env.Method = "pause"

	res := decodeResult(t, runHandler(t, h.HandleStream, env))
	assert.False(t, res.OK)
	assert.Equal(t, crypto.ErrInvalidSignature.Error(), res.Reason)
}

func TestGovernanceCallExpired(t *testing.T) {
	f := newFixture(t)
	h := NewGovernanceCallHandler(f.hub)
	h.now = fixedNow(20000)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	env := signedCall(t, key, "commit_hash", &CommitParams{Hash: crypto.KeccakData([]byte("a"))}, 1)
	res := decodeResult(t, runHandler(t, h.HandleStream, env))
	assert.False(t, res.OK)
	assert.Equal(t, ErrCallExpired.Error(), res.Reason)
}

func TestGovernanceCallUnknownMethod(t *testing.T) {
	f := newFixture(t)
	h := NewGovernanceCallHandler(f.hub)
	h.now = fixedNow(200)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	env := signedCall(t, key, "mint_tokens", &CommitParams{}, 1)
	res := decodeResult(t, runHandler(t, h.HandleStream, env))
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "unknown call method")
}
