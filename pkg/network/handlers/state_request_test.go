package handlers

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/chains"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
)

func runStateQuery(t *testing.T, h *StateRequestHandler, req *StateRequest) *StateResponse {
	t.Helper()
	stream := runHandler(t, h.HandleStream, req)
	msg, err := ReadMessageWithContext(context.Background(), stream.Out)
	require.NoError(t, err)
	var resp StateResponse
	require.NoError(t, ser.Decode(msg.Content, &resp))
	return &resp
}

func TestStateRequestStatus(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: QueryStatus})
	require.True(t, resp.OK)

	var status hub.Status
	require.NoError(t, ser.Decode(resp.Data, &status))
	assert.Equal(t, testChainID, status.ChainID)
	assert.False(t, status.Paused)
	assert.Equal(t, 2, status.Validators)
}

func TestStateRequestChains(t *testing.T) {
	f := newFixture(t)
	f.registerExternal(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: QueryChains})
	require.True(t, resp.OK)

	var list []chains.ListEntry
	require.NoError(t, ser.Decode(resp.Data, &list))
	assert.Len(t, list, 2)

	resp = runStateQuery(t, h, &StateRequest{Query: QueryChain, ChainID: externalChain})
	require.True(t, resp.OK)
	var record chains.Record
	require.NoError(t, ser.Decode(resp.Data, &record))
	assert.Equal(t, "chain-b", record.Name)
}

func TestStateRequestValidators(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: QueryValidators})
	require.True(t, resp.OK)

	var validators []crypto.Address
	require.NoError(t, ser.Decode(resp.Data, &validators))
	assert.Len(t, validators, 2)
}

func TestStateRequestNonces(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: QuerySenderNonce, Address: ownerAddr, Nonce: 1})
	require.True(t, resp.OK)
	var valid bool
	require.NoError(t, ser.Decode(resp.Data, &valid))
	assert.True(t, valid)

	require.NoError(t, f.hub.ConsumeCallNonce(ownerAddr, 1))
	resp = runStateQuery(t, h, &StateRequest{Query: QuerySenderNonce, Address: ownerAddr, Nonce: 1})
	require.True(t, resp.OK)
	require.NoError(t, ser.Decode(resp.Data, &valid))
	assert.False(t, valid)
}

func TestStateRequestCustodyBalance(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	require.NoError(t, f.asset.Mint(context.Background(), custodyAddr, big.NewInt(250)))
	resp := runStateQuery(t, h, &StateRequest{Query: QueryCustodyBalance, Address: assetToken})
	require.True(t, resp.OK)

	var balance string
	require.NoError(t, ser.Decode(resp.Data, &balance))
	assert.Equal(t, "250", balance)
}

func TestStateRequestUnknownQuery(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: "balances"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Reason, "unknown query")
}

func TestStateRequestMissingChain(t *testing.T) {
	f := newFixture(t)
	h := NewStateRequestHandler(f.hub)

	resp := runStateQuery(t, h, &StateRequest{Query: QueryChain, ChainID: 99})
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Reason)
}
