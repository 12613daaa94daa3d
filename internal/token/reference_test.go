package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

var (
	tokenAddr   = crypto.Address{0xee}
	custodyAddr = crypto.Address{0xcc}
)

func newLedger(t *testing.T) *ReferenceLedger {
	t.Helper()
	kv, err := pebble.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return NewReferenceLedger(kv, tokenAddr, custodyAddr)
}

func TestMintAndBalance(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	holder := crypto.Address{0x01}

	balance, err := ledger.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())

	require.NoError(t, ledger.Mint(ctx, holder, big.NewInt(500)))
	require.NoError(t, ledger.Mint(ctx, holder, big.NewInt(100)))

	balance, err = ledger.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance.Int64())
}

func TestTransferFromCustody(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	recipient := crypto.Address{0x01}

	require.ErrorIs(t, ledger.Transfer(ctx, recipient, big.NewInt(10)), ErrInsufficientBalance)

	require.NoError(t, ledger.Mint(ctx, custodyAddr, big.NewInt(100)))
	require.NoError(t, ledger.Transfer(ctx, recipient, big.NewInt(30)))

	balance, err := ledger.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance.Int64())

	balance, err = ledger.BalanceOf(ctx, custodyAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance.Int64())
}

func TestTransferFromRequiresAllowance(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	holder := crypto.Address{0x01}
	recipient := crypto.Address{0x02}

	require.NoError(t, ledger.Mint(ctx, holder, big.NewInt(100)))

	err := ledger.TransferFrom(ctx, holder, recipient, big.NewInt(40))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, ledger.Approve(ctx, holder, custodyAddr, big.NewInt(50)))
	require.NoError(t, ledger.TransferFrom(ctx, holder, recipient, big.NewInt(40)))

	// Allowance is consumed.
	allowance, err := ledger.Allowance(ctx, holder, custodyAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(10), allowance.Int64())

	err = ledger.TransferFrom(ctx, holder, recipient, big.NewInt(40))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	balance, err := ledger.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.Int64())
}

func TestTransferFromBalanceCheckedBeforeAllowance(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	holder := crypto.Address{0x01}

	require.NoError(t, ledger.Approve(ctx, holder, custodyAddr, big.NewInt(1000)))

	err := ledger.TransferFrom(ctx, holder, crypto.Address{0x02}, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestInvalidAmounts(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, ledger.Mint(ctx, crypto.Address{0x01}, nil), ErrInvalidAmount)
	assert.ErrorIs(t, ledger.Transfer(ctx, crypto.Address{0x01}, big.NewInt(-5)), ErrInvalidAmount)
	assert.ErrorIs(t, ledger.Approve(ctx, crypto.Address{0x01}, custodyAddr, big.NewInt(-1)), ErrInvalidAmount)
}

func TestFailedTransferLeavesStateUntouched(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	holder := crypto.Address{0x01}

	require.NoError(t, ledger.Mint(ctx, holder, big.NewInt(10)))
	require.NoError(t, ledger.Approve(ctx, holder, custodyAddr, big.NewInt(5)))

	err := ledger.TransferFrom(ctx, holder, crypto.Address{0x02}, big.NewInt(7))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	balance, err := ledger.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Int64())

	allowance, err := ledger.Allowance(ctx, holder, custodyAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), allowance.Int64())
}

func TestResolverFunc(t *testing.T) {
	ledger := newLedger(t)
	resolver := ResolverFunc(func(token crypto.Address) (Ledger, error) {
		if token == tokenAddr {
			return ledger, nil
		}
		return nil, ErrUnknownToken
	})

	got, err := resolver.Resolve(tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, Ledger(ledger), got)

	_, err = resolver.Resolve(crypto.Address{0x99})
	assert.ErrorIs(t, err, ErrUnknownToken)
}
