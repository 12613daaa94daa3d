package hub

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/servicenode"
	"github.com/eigerco/cloudberry/internal/transfer"
)

var (
	nodeAddr       = crypto.Address{0x10}
	withdrawalAddr = crypto.Address{0x11}
)

// fundOperator mints protocol tokens for the node and approves custody, so
// deposit pulls succeed.
func (f *fixture) fundOperator(t *testing.T, operator crypto.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.protocol.Mint(ctx, operator, big.NewInt(amount)))
	require.NoError(t, f.protocol.Approve(ctx, operator, custodyAddr, big.NewInt(amount)))
}

// registerNode walks the commit-reveal flow at the given times.
func (f *fixture) registerNode(t *testing.T, node crypto.Address, url string, deposit uint64, commitAt, revealAt chaintime.Time) {
	t.Helper()
	hash := transfer.RegistrationCommitment(testChainID, custodyAddr, node, withdrawalAddr, url, node)
	require.NoError(t, f.hub.CommitHash(node, commitAt, hash))
	require.NoError(t, f.hub.RegisterServiceNode(context.Background(), node, revealAt, node, url, deposit, withdrawalAddr))
}

func TestServiceNodeRegistration(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	ctx := context.Background()

	// Reveal without a commitment fails.
	err := f.hub.RegisterServiceNode(ctx, nodeAddr, 100, nodeAddr, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, servicenode.ErrNoCommitment)

	hash := transfer.RegistrationCommitment(testChainID, custodyAddr, nodeAddr, withdrawalAddr, "https://sn.example", nodeAddr)
	require.NoError(t, f.hub.CommitHash(nodeAddr, 100, hash))

	// Wait period (60) not elapsed.
	err = f.hub.RegisterServiceNode(ctx, nodeAddr, 159, nodeAddr, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, ErrCommitmentNotMature)

	// Revealing different parameters than committed fails.
	err = f.hub.RegisterServiceNode(ctx, nodeAddr, 160, nodeAddr, "https://other.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)

	// Deposit below the minimum (50) fails.
	err = f.hub.RegisterServiceNode(ctx, nodeAddr, 160, nodeAddr, "https://sn.example", 49, withdrawalAddr)
	assert.ErrorIs(t, err, ErrDepositTooLow)

	// Reveal at the exact maturity boundary succeeds and pulls the deposit.
	require.NoError(t, f.hub.RegisterServiceNode(ctx, nodeAddr, 160, nodeAddr, "https://sn.example", 60, withdrawalAddr))

	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, uint64(60), rec.Deposit)
	assert.Equal(t, withdrawalAddr, rec.WithdrawalAddress)

	custody, err := f.protocol.BalanceOf(ctx, custodyAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(60), custody.Int64())

	// The commitment is consumed; a second reveal fails.
	err = f.hub.RegisterServiceNode(ctx, nodeAddr, 161, nodeAddr, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, servicenode.ErrNoCommitment)
}

func TestReRegistrationLifecycle(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	ctx := context.Background()

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)

	// Registering an active node fails even with a fresh matured commitment.
	hash := transfer.RegistrationCommitment(testChainID, custodyAddr, nodeAddr, withdrawalAddr, "https://sn.example", nodeAddr)
	require.NoError(t, f.hub.CommitHash(nodeAddr, 200, hash))
	err := f.hub.RegisterServiceNode(ctx, nodeAddr, 260, nodeAddr, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	// While unbonding the held deposit blocks a fresh registration; the node
	// must CancelUnregistration instead.
	require.NoError(t, f.hub.UnregisterServiceNode(nodeAddr, 300, nodeAddr))
	err = f.hub.RegisterServiceNode(ctx, nodeAddr, 300, nodeAddr, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, ErrDepositHeld)

	// Once the deposit is withdrawn the node registers afresh through the
	// full commit-reveal flow.
	require.NoError(t, f.hub.WithdrawDeposit(ctx, nodeAddr, 1300, nodeAddr))
	f.registerNode(t, nodeAddr, "https://sn.example", 60, 1300, 1360)

	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, uint64(60), rec.Deposit)
}

func TestServiceNodeURLUniqueness(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	other := crypto.Address{0x12}
	f.fundOperator(t, other, 1000)
	ctx := context.Background()

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)

	hash := transfer.RegistrationCommitment(testChainID, custodyAddr, other, withdrawalAddr, "https://sn.example", other)
	require.NoError(t, f.hub.CommitHash(other, 160, hash))
	err := f.hub.RegisterServiceNode(ctx, other, 220, other, "https://sn.example", 60, withdrawalAddr)
	assert.ErrorIs(t, err, servicenode.ErrURLTaken)
}

func TestServiceNodeUnbonding(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	ctx := context.Background()

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)

	// Only the node or its withdrawal address may manage it.
	assert.ErrorIs(t, f.hub.UnregisterServiceNode(userAddr, 200, nodeAddr), ErrNotNodeOperator)

	assert.ErrorIs(t, f.hub.WithdrawDeposit(ctx, nodeAddr, 200, nodeAddr), ErrNotUnbonding)

	require.NoError(t, f.hub.UnregisterServiceNode(nodeAddr, 200, nodeAddr))
	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.True(t, rec.Unbonding())

	// Unbonding period is 1000; too early.
	err = f.hub.WithdrawDeposit(ctx, withdrawalAddr, 1199, nodeAddr)
	assert.ErrorIs(t, err, ErrUnbondingNotComplete)

	require.NoError(t, f.hub.WithdrawDeposit(ctx, withdrawalAddr, 1200, nodeAddr))
	balance, err := f.protocol.BalanceOf(ctx, withdrawalAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance.Int64())

	rec, err = f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.Zero(t, rec.Deposit)
	assert.False(t, rec.Unbonding())

	err = f.hub.WithdrawDeposit(ctx, withdrawalAddr, 1201, nodeAddr)
	assert.ErrorIs(t, err, ErrNotUnbonding)
}

func TestCancelUnregistration(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)
	require.NoError(t, f.hub.UnregisterServiceNode(nodeAddr, 200, nodeAddr))

	require.NoError(t, f.hub.CancelUnregistration(nodeAddr, 300, nodeAddr))
	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Zero(t, rec.UnregisterAt)

	assert.ErrorIs(t, f.hub.CancelUnregistration(nodeAddr, 301, nodeAddr), ErrNotUnbonding)
}

func TestCancelUnregistrationURLReclaimed(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	other := crypto.Address{0x12}
	f.fundOperator(t, other, 1000)

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)
	require.NoError(t, f.hub.UnregisterServiceNode(nodeAddr, 200, nodeAddr))

	// While the first node unbonds its URL is free for others.
	hash := transfer.RegistrationCommitment(testChainID, custodyAddr, other, withdrawalAddr, "https://sn.example", other)
	require.NoError(t, f.hub.CommitHash(other, 200, hash))
	require.NoError(t, f.hub.RegisterServiceNode(context.Background(), other, 260, other, "https://sn.example", 60, withdrawalAddr))

	err := f.hub.CancelUnregistration(nodeAddr, 300, nodeAddr)
	assert.ErrorIs(t, err, servicenode.ErrURLTaken)
}

func TestDepositAdjustment(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)
	ctx := context.Background()

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)

	require.NoError(t, f.hub.IncreaseDeposit(ctx, nodeAddr, 200, nodeAddr, 40))
	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.Deposit)

	// Decrease below the minimum (50) fails.
	err = f.hub.DecreaseDeposit(ctx, nodeAddr, 201, nodeAddr, 51)
	assert.ErrorIs(t, err, ErrDepositTooLow)

	require.NoError(t, f.hub.DecreaseDeposit(ctx, nodeAddr, 202, nodeAddr, 50))
	rec, err = f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), rec.Deposit)

	balance, err := f.protocol.BalanceOf(ctx, withdrawalAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Int64())
}

func TestUpdateURL(t *testing.T) {
	f := newFixture(t)
	f.fundOperator(t, nodeAddr, 1000)

	f.registerNode(t, nodeAddr, "https://sn.example", 60, 100, 160)

	hash := transfer.URLCommitment(testChainID, custodyAddr, "https://sn2.example", nodeAddr)
	require.NoError(t, f.hub.CommitHash(nodeAddr, 200, hash))

	err := f.hub.UpdateURL(nodeAddr, 259, nodeAddr, "https://sn2.example")
	assert.ErrorIs(t, err, ErrCommitmentNotMature)

	require.NoError(t, f.hub.UpdateURL(nodeAddr, 260, nodeAddr, "https://sn2.example"))
	rec, err := f.hub.ServiceNode(nodeAddr)
	require.NoError(t, err)
	assert.Equal(t, "https://sn2.example", rec.URL)

	// The old URL is free again.
	owner, taken, err := f.hub.nodes.URLOwner("https://sn.example")
	require.NoError(t, err)
	assert.False(t, taken)
	assert.Equal(t, crypto.Address{}, owner)
}
