package hub

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/params"
	"github.com/eigerco/cloudberry/internal/safemath"
	"github.com/eigerco/cloudberry/internal/servicenode"
	"github.com/eigerco/cloudberry/internal/transfer"
	"github.com/eigerco/cloudberry/pkg/log"
)

// CommitHash records the caller's commitment hash, unconditionally replacing
// any prior one. The preimage is revealed later in RegisterServiceNode or
// UpdateURL, after the commitment wait period.
func (h *Hub) CommitHash(caller crypto.Address, now chaintime.Time, hash crypto.Hash) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpCommitHash, caller, h.paused); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.PutCommitment(batch, servicenode.Commitment{
		Committer: caller, Hash: hash, At: now,
	}); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindHashCommitted, CommitmentEvent{
		Committer: caller, Hash: hash,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// RegisterServiceNode reveals a matured registration commitment, pulls the
// deposit from the caller into hub custody and activates the node. A node
// still unbonding must CancelUnregistration instead; its held deposit blocks
// a fresh registration.
func (h *Hub) RegisterServiceNode(ctx context.Context, caller crypto.Address, now chaintime.Time, node crypto.Address, url string, deposit uint64, withdrawal crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpRegisterServiceNode, caller, h.paused); err != nil {
		return err
	}
	if caller != node && caller != withdrawal {
		return ErrNotNodeOperator
	}

	expected := transfer.RegistrationCommitment(h.chainID, h.forwarder, node, withdrawal, url, caller)
	if err := h.checkCommitment(caller, expected, now); err != nil {
		return err
	}

	minDeposit, err := h.params.Current(params.MinServiceNodeDeposit)
	if err != nil {
		return err
	}
	if deposit < minDeposit {
		return fmt.Errorf("%w: %d below %d", ErrDepositTooLow, deposit, minDeposit)
	}

	rec, err := h.nodes.Get(node)
	if err != nil && !errors.Is(err, servicenode.ErrNotRegistered) {
		return err
	}
	if err == nil {
		if rec.Active {
			return ErrAlreadyActive
		}
		if rec.Unbonding() {
			return ErrDepositHeld
		}
	}
	if err := h.nodes.CheckURLFree(url, node); err != nil {
		return err
	}

	ledger, err := h.ledgers.Resolve(h.protocolToken)
	if err != nil {
		return err
	}
	// Pull before committing the record so an active node always has its
	// deposit in custody.
	if err := ledger.TransferFrom(ctx, caller, h.forwarder, new(big.Int).SetUint64(deposit)); err != nil {
		return fmt.Errorf("pull deposit: %w", err)
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, servicenode.Record{
		URL: url, Deposit: deposit, Active: true, WithdrawalAddress: withdrawal,
	}); err != nil {
		return err
	}
	if err := h.nodes.ClaimURL(batch, url, node); err != nil {
		return err
	}
	if err := h.nodes.DeleteCommitment(batch, caller); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeRegistered, ServiceNodeEvent{
		Node: node, URL: url, Deposit: deposit, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// UnregisterServiceNode deactivates an active node and starts unbonding. The
// deposit stays locked until the unbonding period elapses; the URL frees
// immediately.
func (h *Hub) UnregisterServiceNode(caller crypto.Address, now chaintime.Time, node crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpUnregisterServiceNode, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrNotActive
	}
	rec.Active = false
	rec.UnregisterAt = now

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := h.nodes.ReleaseURL(batch, rec.URL); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeUnregistered, ServiceNodeEvent{
		Node: node, UnregisterAt: now, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// WithdrawDeposit pays an unbonded node's deposit to its withdrawal address.
// The record commits with the deposit cleared before the ledger payout, so a
// crash between the two can strand funds in custody but never double-pay.
func (h *Hub) WithdrawDeposit(ctx context.Context, caller crypto.Address, now chaintime.Time, node crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpWithdrawDeposit, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Unbonding() {
		return ErrNotUnbonding
	}

	unbonding, err := h.params.Current(params.ServiceNodeUnbondingPeriod)
	if err != nil {
		return err
	}
	releaseAt, err := rec.UnregisterAt.Add(chaintime.Period(unbonding))
	if err != nil {
		return err
	}
	if now.Before(releaseAt) {
		return fmt.Errorf("%w: withdrawable at %s", ErrUnbondingNotComplete, releaseAt)
	}

	amount := rec.Deposit
	rec.Deposit = 0
	rec.UnregisterAt = 0

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeDepositWithdrawn, ServiceNodeEvent{
		Node: node, Amount: amount, Caller: caller,
	}); err != nil {
		return err
	}
	if err := h.commit(batch, ap); err != nil {
		return err
	}

	return h.payout(ctx, rec.WithdrawalAddress, amount)
}

// CancelUnregistration reactivates an unbonding node, reclaiming its URL.
// Fails if another node claimed the URL in the meantime.
func (h *Hub) CancelUnregistration(caller crypto.Address, now chaintime.Time, node crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpCancelUnregistration, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Unbonding() {
		return ErrNotUnbonding
	}
	if err := h.nodes.CheckURLFree(rec.URL, node); err != nil {
		return err
	}
	rec.Active = true
	rec.UnregisterAt = 0

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := h.nodes.ClaimURL(batch, rec.URL, node); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeUnregistrationCancelled, ServiceNodeEvent{
		Node: node, URL: rec.URL, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// IncreaseDeposit pulls additional deposit from the caller into custody.
func (h *Hub) IncreaseDeposit(ctx context.Context, caller crypto.Address, now chaintime.Time, node crypto.Address, amount uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpIncreaseDeposit, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrNotActive
	}
	newDeposit, ok := safemath.Add64(rec.Deposit, amount)
	if !ok {
		return ErrDepositOverflow
	}
	rec.Deposit = newDeposit

	ledger, err := h.ledgers.Resolve(h.protocolToken)
	if err != nil {
		return err
	}
	if err := ledger.TransferFrom(ctx, caller, h.forwarder, new(big.Int).SetUint64(amount)); err != nil {
		return fmt.Errorf("pull deposit: %w", err)
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeDepositIncreased, ServiceNodeEvent{
		Node: node, Amount: amount, Deposit: newDeposit, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// DecreaseDeposit pays part of the deposit back to the withdrawal address.
// The remainder must stay at or above the minimum deposit.
func (h *Hub) DecreaseDeposit(ctx context.Context, caller crypto.Address, now chaintime.Time, node crypto.Address, amount uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpDecreaseDeposit, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrNotActive
	}
	newDeposit, ok := safemath.Sub64(rec.Deposit, amount)
	if !ok {
		return fmt.Errorf("%w: decrease exceeds deposit", ErrDepositTooLow)
	}
	minDeposit, err := h.params.Current(params.MinServiceNodeDeposit)
	if err != nil {
		return err
	}
	if newDeposit < minDeposit {
		return fmt.Errorf("%w: %d below %d", ErrDepositTooLow, newDeposit, minDeposit)
	}
	rec.Deposit = newDeposit

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeDepositDecreased, ServiceNodeEvent{
		Node: node, Amount: amount, Deposit: newDeposit, Caller: caller,
	}); err != nil {
		return err
	}
	if err := h.commit(batch, ap); err != nil {
		return err
	}

	return h.payout(ctx, rec.WithdrawalAddress, amount)
}

// UpdateURL reveals a matured URL commitment and moves the node to the new
// URL.
func (h *Hub) UpdateURL(caller crypto.Address, now chaintime.Time, node crypto.Address, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpUpdateURL, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.operatorRecord(caller, node)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrNotActive
	}

	expected := transfer.URLCommitment(h.chainID, h.forwarder, url, caller)
	if err := h.checkCommitment(caller, expected, now); err != nil {
		return err
	}
	if err := h.nodes.CheckURLFree(url, node); err != nil {
		return err
	}
	previous := rec.URL
	rec.URL = url

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nodes.Put(batch, node, rec); err != nil {
		return err
	}
	if err := h.nodes.ReleaseURL(batch, previous); err != nil {
		return err
	}
	if err := h.nodes.ClaimURL(batch, url, node); err != nil {
		return err
	}
	if err := h.nodes.DeleteCommitment(batch, caller); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindServiceNodeURLUpdated, ServiceNodeEvent{
		Node: node, URL: url, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// operatorRecord loads a node record and checks the caller is the node or
// its withdrawal address.
func (h *Hub) operatorRecord(caller, node crypto.Address) (servicenode.Record, error) {
	rec, err := h.nodes.Get(node)
	if err != nil {
		return servicenode.Record{}, err
	}
	if caller != node && caller != rec.WithdrawalAddress {
		return servicenode.Record{}, ErrNotNodeOperator
	}
	return rec, nil
}

// checkCommitment verifies the caller holds a matured commitment for the
// expected hash. Reveal is allowed from the exact maturity instant.
func (h *Hub) checkCommitment(caller crypto.Address, expected crypto.Hash, now chaintime.Time) error {
	c, err := h.nodes.GetCommitment(caller)
	if err != nil {
		return err
	}
	if c.Hash != expected {
		return ErrCommitmentMismatch
	}
	wait, err := h.params.Current(params.CommitmentWaitPeriod)
	if err != nil {
		return err
	}
	revealAt, err := c.At.Add(chaintime.Period(wait))
	if err != nil {
		return err
	}
	if now.Before(revealAt) {
		return fmt.Errorf("%w: revealable at %s", ErrCommitmentNotMature, revealAt)
	}
	return nil
}

// payout sends protocol tokens from custody after the state change is
// durable. A failure here leaves the funds in custody for operational
// recovery; the state never reflects an unpaid balance as owed.
func (h *Hub) payout(ctx context.Context, to crypto.Address, amount uint64) error {
	ledger, err := h.ledgers.Resolve(h.protocolToken)
	if err != nil {
		return err
	}
	if err := ledger.Transfer(ctx, to, new(big.Int).SetUint64(amount)); err != nil {
		log.Hub.Error().Err(err).Stringer("to", to).Uint64("amount", amount).
			Msg("deposit payout failed after state commit")
		return fmt.Errorf("pay out deposit: %w", err)
	}
	return nil
}
