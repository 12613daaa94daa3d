package handlers

import (
	"context"
	"math/big"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/internal/token"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/network/handlers/testutils"
)

const testChainID uint64 = 1

var (
	custodyAddr   = crypto.Address{0xaa}
	protocolToken = crypto.Address{0xdd}
	assetToken    = crypto.Address{0xee}

	governorAddr = crypto.Address{0x02}
	ownerAddr    = crypto.Address{0x05}
)

type fixture struct {
	hub     *hub.Hub
	asset   *token.ReferenceLedger
	metrics *metrics.Metrics
	dedup   *DedupCache
	valKeys []*crypto.PrivateKey
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

	valKeys := make([]*crypto.PrivateKey, 2)
	valAddrs := make([]crypto.Address, 2)
	for i := range valKeys {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		valKeys[i] = key
		valAddrs[i] = key.Address()
	}

	h := hub.New(kv, resolver)
	require.NoError(t, h.Bootstrap(hub.Genesis{
		ChainID:                testChainID,
		ChainName:              "local",
		Forwarder:              custodyAddr,
		ProtocolToken:          protocolToken,
		UpdateDelay:            100,
		MinValidatorSignatures: 2,
		LocalFeeFactor:         3,
		Governors:              []crypto.Address{governorAddr},
		Validators:             valAddrs,
	}, 10))

	m := metrics.New()
	dedup, err := NewDedupCache(128, m.DedupHits.Inc)
	require.NoError(t, err)

	return &fixture{hub: h, asset: asset, metrics: m, dedup: dedup, valKeys: valKeys}
}

// registerAsset sets up the asset token for same-chain transfers.
func (f *fixture) registerAsset(t *testing.T) {
	t.Helper()
	require.NoError(t, f.hub.RegisterToken(governorAddr, 20, assetToken, ownerAddr))
}

func (f *fixture) fundSender(t *testing.T, sender crypto.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.asset.Mint(ctx, sender, big.NewInt(amount)))
	require.NoError(t, f.asset.Approve(ctx, sender, custodyAddr, big.NewInt(amount)))
}

// fixedNow pins handler time so validity windows are deterministic.
func fixedNow(at chaintime.Time) func() chaintime.Time {
	return func() chaintime.Time { return at }
}

// runHandler feeds one request frame through a handler and returns the
// stream holding its response.
func runHandler(t *testing.T, handle func(context.Context, quic.Stream) error, request interface{}) *testutils.MockStream {
	t.Helper()
	stream := testutils.NewMockStream()
	content, err := ser.Encode(request)
	require.NoError(t, err)
	require.NoError(t, WriteMessageWithContext(context.Background(), stream.In, content))
	require.NoError(t, handle(context.Background(), stream))
	return stream
}

func decodeResult(t *testing.T, stream *testutils.MockStream) SubmissionResult {
	t.Helper()
	msg, err := ReadMessageWithContext(context.Background(), stream.Out)
	require.NoError(t, err)
	var res SubmissionResult
	require.NoError(t, ser.Decode(msg.Content, &res))
	return res
}
