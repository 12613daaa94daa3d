package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/auth"
	"github.com/eigerco/cloudberry/internal/chains"
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/params"
	"github.com/eigerco/cloudberry/internal/token"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

const (
	testChainID   uint64 = 1
	externalChain uint64 = 2

	genesisTime chaintime.Time = 10
)

var (
	custodyAddr   = crypto.Address{0xaa}
	protocolToken = crypto.Address{0xdd}
	assetToken    = crypto.Address{0xee}

	pauserAddr   = crypto.Address{0x01}
	governorAddr = crypto.Address{0x02}
	criticalAddr = crypto.Address{0x03}
	userAddr     = crypto.Address{0x04}
	ownerAddr    = crypto.Address{0x05}
)

type fixture struct {
	hub      *Hub
	protocol *token.ReferenceLedger
	asset    *token.ReferenceLedger
	valKeys  []*crypto.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kv, err := pebble.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	protocol := token.NewReferenceLedger(kv, protocolToken, custodyAddr)
	asset := token.NewReferenceLedger(kv, assetToken, custodyAddr)
	resolver := token.ResolverFunc(func(tok crypto.Address) (token.Ledger, error) {
		switch tok {
		case protocolToken:
			return protocol, nil
		case assetToken:
			return asset, nil
		}
		return nil, token.ErrUnknownToken
	})

	valKeys := make([]*crypto.PrivateKey, 3)
	valAddrs := make([]crypto.Address, 3)
	for i := range valKeys {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		valKeys[i] = key
		valAddrs[i] = key.Address()
	}

	h := New(kv, resolver)
	require.NoError(t, h.Bootstrap(Genesis{
		ChainID:                    testChainID,
		ChainName:                  "local",
		Forwarder:                  custodyAddr,
		ProtocolToken:              protocolToken,
		UpdateDelay:                100,
		MinServiceNodeDeposit:      50,
		ServiceNodeUnbondingPeriod: 1000,
		CommitmentWaitPeriod:       60,
		MinValidatorSignatures:     2,
		LocalFeeFactor:             3,
		Pausers:                    []crypto.Address{pauserAddr},
		Governors:                  []crypto.Address{governorAddr},
		CriticalOps:                []crypto.Address{criticalAddr},
		Validators:                 valAddrs,
	}, genesisTime))

	return &fixture{hub: h, protocol: protocol, asset: asset, valKeys: valKeys}
}

// registerAsset registers the external chain, the asset token and its
// external mapping, the common setup for forwarding tests.
func (f *fixture) registerAsset(t *testing.T) {
	t.Helper()
	require.NoError(t, f.hub.RegisterBlockchain(governorAddr, 20, externalChain, "chain-b", 3))
	require.NoError(t, f.hub.RegisterToken(governorAddr, 20, assetToken, ownerAddr))
	require.NoError(t, f.hub.SetExternalToken(ownerAddr, 20, assetToken, externalChain, "0xExtOnB"))
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)

	err := f.hub.Bootstrap(Genesis{ChainID: testChainID, ChainName: "again",
		Forwarder: custodyAddr, MinValidatorSignatures: 1, LocalFeeFactor: 1}, 20)
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)

	rec, err := f.hub.Chain(testChainID)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, "local", rec.Name)

	delay, err := f.hub.Param(params.UpdateDelay)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), delay.Current)

	factor, err := f.hub.ValidatorFeeFactor(testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), factor)

	events, err := f.hub.Events(0, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, outbox.KindGenesis, events[0].Kind)

	members, err := f.hub.Validators()
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestLoad(t *testing.T) {
	kv, err := pebble.NewKVStore(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	h := New(kv, nil)
	assert.ErrorIs(t, h.Load(), ErrNotBootstrapped)

	require.NoError(t, h.Bootstrap(Genesis{
		ChainID: testChainID, ChainName: "local", Forwarder: custodyAddr,
		ProtocolToken: protocolToken, MinValidatorSignatures: 1, LocalFeeFactor: 1,
	}, genesisTime))

	reopened := New(kv, nil)
	require.NoError(t, reopened.Load())
	assert.Equal(t, testChainID, reopened.LocalChainID())
	assert.Equal(t, custodyAddr, reopened.ForwarderAddress())
	assert.Equal(t, protocolToken, reopened.ProtocolToken())
	assert.False(t, reopened.Paused())
}

func TestPauseGating(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.hub.Pause(userAddr, 20), auth.ErrUnauthorized)
	assert.ErrorIs(t, f.hub.Unpause(pauserAddr, 20), auth.ErrNotPaused)
	require.NoError(t, f.hub.Pause(pauserAddr, 20))
	assert.True(t, f.hub.Paused())

	// Normal governance refuses while paused.
	err := f.hub.RegisterBlockchain(governorAddr, 21, externalChain, "chain-b", 3)
	assert.ErrorIs(t, err, auth.ErrPaused)

	// The emergency allowlist stays open: validator membership changes.
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, f.hub.AddValidator(criticalAddr, 21, key.Address()))
	require.NoError(t, f.hub.RemoveValidator(criticalAddr, 22, key.Address()))

	require.NoError(t, f.hub.Unpause(pauserAddr, 23))
	require.NoError(t, f.hub.RegisterBlockchain(governorAddr, 24, externalChain, "chain-b", 3))
}

func TestParamUpdateTimelock(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t,
		f.hub.InitiateParamUpdate(userAddr, 20, params.MinServiceNodeDeposit, 75),
		auth.ErrUnauthorized)

	require.NoError(t, f.hub.InitiateParamUpdate(governorAddr, 20, params.MinServiceNodeDeposit, 75))

	err := f.hub.ExecuteParamUpdate(userAddr, 119, params.MinServiceNodeDeposit)
	assert.ErrorIs(t, err, params.ErrTooEarly)

	// Execution is permissionless once the timelock matures, boundary
	// inclusive.
	require.NoError(t, f.hub.ExecuteParamUpdate(userAddr, 120, params.MinServiceNodeDeposit))
	v, err := f.hub.Param(params.MinServiceNodeDeposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), v.Current)

	err = f.hub.ExecuteParamUpdate(userAddr, 121, params.MinServiceNodeDeposit)
	assert.ErrorIs(t, err, params.ErrNothingPending)
}

func TestDelayChangeDoesNotRetimePending(t *testing.T) {
	f := newFixture(t)

	// Scheduled under the genesis delay (100), so it matures at 120.
	require.NoError(t, f.hub.InitiateParamUpdate(governorAddr, 20, params.MinServiceNodeDeposit, 75))

	// Raise the delay to 1000. The delay update is itself scheduled under the
	// old delay: initiated at 21, it matures at 121, not 1021.
	require.NoError(t, f.hub.Pause(pauserAddr, 21))
	require.NoError(t, f.hub.InitiateParamUpdate(criticalAddr, 21, params.UpdateDelay, 1000))
	assert.ErrorIs(t, f.hub.ExecuteParamUpdate(userAddr, 120, params.UpdateDelay), params.ErrTooEarly)
	require.NoError(t, f.hub.ExecuteParamUpdate(userAddr, 121, params.UpdateDelay))
	require.NoError(t, f.hub.Unpause(pauserAddr, 121))

	// The deposit update keeps its original maturity; under the new delay it
	// would not be executable until 1020.
	require.NoError(t, f.hub.ExecuteParamUpdate(userAddr, 125, params.MinServiceNodeDeposit))
	v, err := f.hub.Param(params.MinServiceNodeDeposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), v.Current)

	// A new initiation picks up the new delay.
	require.NoError(t, f.hub.InitiateParamUpdate(governorAddr, 130, params.MinServiceNodeDeposit, 80))
	v, err = f.hub.Param(params.MinServiceNodeDeposit)
	require.NoError(t, err)
	assert.Equal(t, chaintime.Time(1130), v.UpdateAt)
	assert.ErrorIs(t, f.hub.ExecuteParamUpdate(userAddr, 1129, params.MinServiceNodeDeposit), params.ErrTooEarly)
	require.NoError(t, f.hub.ExecuteParamUpdate(userAddr, 1130, params.MinServiceNodeDeposit))
}

func TestCriticalParamRequiresPause(t *testing.T) {
	f := newFixture(t)

	err := f.hub.InitiateParamUpdate(criticalAddr, 20, params.MinValidatorSignatures, 3)
	assert.ErrorIs(t, err, auth.ErrNotPaused)

	require.NoError(t, f.hub.Pause(pauserAddr, 20))

	err = f.hub.InitiateParamUpdate(governorAddr, 21, params.MinValidatorSignatures, 3)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	require.NoError(t, f.hub.InitiateParamUpdate(criticalAddr, 21, params.MinValidatorSignatures, 3))

	// Execute works while still paused.
	require.NoError(t, f.hub.ExecuteParamUpdate(userAddr, 121, params.MinValidatorSignatures))
	quorum, err := f.hub.MinValidatorSignatures()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), quorum)
}

func TestFeeFactorUpdate(t *testing.T) {
	f := newFixture(t)
	f.registerAsset(t)

	assert.ErrorIs(t,
		f.hub.InitiateFeeFactorUpdate(governorAddr, 30, 99, 5),
		chains.ErrNotRegistered)

	require.NoError(t, f.hub.InitiateFeeFactorUpdate(governorAddr, 30, externalChain, 5))
	assert.ErrorIs(t, f.hub.ExecuteFeeFactorUpdate(userAddr, 100, externalChain), params.ErrTooEarly)
	require.NoError(t, f.hub.ExecuteFeeFactorUpdate(userAddr, 130, externalChain))

	factor, err := f.hub.ValidatorFeeFactor(externalChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), factor)
}

func TestBlockchainRegistry(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.hub.RegisterBlockchain(governorAddr, 20, externalChain, "chain-b", 3))
	err := f.hub.RegisterBlockchain(governorAddr, 21, externalChain, "again", 4)
	assert.ErrorIs(t, err, ErrChainExists)

	assert.ErrorIs(t, f.hub.UnregisterBlockchain(governorAddr, 22, testChainID), ErrLocalChain)

	require.NoError(t, f.hub.UnregisterBlockchain(governorAddr, 22, externalChain))
	active, err := f.hub.IsChainActive(externalChain)
	require.NoError(t, err)
	assert.False(t, active)

	// Fee factor state persists after unregistration.
	factor, err := f.hub.ValidatorFeeFactor(externalChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), factor)

	// A deactivated chain ID is still taken.
	err = f.hub.RegisterBlockchain(governorAddr, 23, externalChain, "revived", 3)
	assert.ErrorIs(t, err, ErrChainExists)
}

func TestTokenManagement(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RegisterBlockchain(governorAddr, 20, externalChain, "chain-b", 3))

	assert.ErrorIs(t,
		f.hub.RegisterToken(userAddr, 20, assetToken, ownerAddr),
		auth.ErrUnauthorized)
	require.NoError(t, f.hub.RegisterToken(governorAddr, 20, assetToken, ownerAddr))
	assert.ErrorIs(t,
		f.hub.RegisterToken(governorAddr, 21, assetToken, ownerAddr),
		ErrTokenExists)

	// External mapping: owner may manage, strangers may not, chain must be
	// registered.
	assert.ErrorIs(t,
		f.hub.SetExternalToken(userAddr, 21, assetToken, externalChain, "0xExtOnB"),
		auth.ErrUnauthorized)
	assert.ErrorIs(t,
		f.hub.SetExternalToken(ownerAddr, 21, assetToken, 99, "0xExtOnB"),
		chains.ErrNotRegistered)
	require.NoError(t, f.hub.SetExternalToken(ownerAddr, 21, assetToken, externalChain, "0xExtOnB"))

	ext, err := f.hub.ExternalToken(assetToken, externalChain)
	require.NoError(t, err)
	assert.True(t, ext.Active)
	assert.Equal(t, "0xExtOnB", ext.ExternalToken)

	// Governance may manage a token it does not own.
	require.NoError(t, f.hub.UnsetExternalToken(governorAddr, 22, assetToken, externalChain))
	active, err := f.hub.IsExternalTokenActive(assetToken, externalChain)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, f.hub.UnregisterToken(ownerAddr, 23, assetToken))
	active, err = f.hub.IsTokenActive(assetToken)
	require.NoError(t, err)
	assert.False(t, active)

	// An unregistered token may be registered afresh.
	require.NoError(t, f.hub.RegisterToken(governorAddr, 24, assetToken, userAddr))
}

func TestRoleManagement(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t,
		f.hub.GrantRole(governorAddr, 20, userAddr, auth.CapabilityPauser),
		auth.ErrUnauthorized)

	require.NoError(t, f.hub.GrantRole(criticalAddr, 20, userAddr, auth.CapabilityPauser))
	require.NoError(t, f.hub.Pause(userAddr, 21))
	require.NoError(t, f.hub.Unpause(userAddr, 22))

	require.NoError(t, f.hub.RevokeRole(criticalAddr, 23, userAddr, auth.CapabilityPauser))
	assert.ErrorIs(t, f.hub.Pause(userAddr, 24), auth.ErrUnauthorized)
}

func TestCallNonceConsumption(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.hub.ConsumeCallNonce(userAddr, 7))
	assert.Error(t, f.hub.ConsumeCallNonce(userAddr, 7))

	// Other senders have their own nonce space.
	require.NoError(t, f.hub.ConsumeCallNonce(ownerAddr, 7))
}
