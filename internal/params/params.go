package params

import (
	"fmt"

	"github.com/eigerco/cloudberry/internal/chaintime"
)

// Name identifies a governed parameter.
type Name string

const (
	// UpdateDelay is the delay, in seconds, between initiating and executing
	// any governed parameter update. It governs its own updates too.
	UpdateDelay Name = "update_delay"
	// MinServiceNodeDeposit is the minimum deposit, in protocol token base
	// units, a service node must bond to register.
	MinServiceNodeDeposit Name = "min_service_node_deposit"
	// ServiceNodeUnbondingPeriod is the wait, in seconds, between service
	// node unregistration and deposit withdrawal.
	ServiceNodeUnbondingPeriod Name = "service_node_unbonding_period"
	// CommitmentWaitPeriod is the wait, in seconds, between committing a
	// registration hash and revealing its preimage.
	CommitmentWaitPeriod Name = "commitment_wait_period"
	// MinValidatorSignatures is the quorum size for inbound settlements.
	MinValidatorSignatures Name = "min_validator_signatures"

	// ValidatorFeeFactor is the per-blockchain fee factor; the outbound fee
	// floor is the product of the source and destination chain factors.
	ValidatorFeeFactor Name = "validator_fee_factor"
)

// SingleNames lists the parameters that exist exactly once, as opposed to
// ValidatorFeeFactor which exists per registered blockchain.
func SingleNames() []Name {
	return []Name{
		UpdateDelay,
		MinServiceNodeDeposit,
		ServiceNodeUnbondingPeriod,
		CommitmentWaitPeriod,
		MinValidatorSignatures,
	}
}

// Critical reports whether updates to the parameter may only be initiated
// while the hub is paused. The update delay and the settlement quorum size
// shape the security of every other governance action, so changing them
// requires the stronger ceremony.
func (n Name) Critical() bool {
	return n == UpdateDelay || n == MinValidatorSignatures
}

// Valid reports whether n names a known single-value parameter.
func (n Name) Valid() bool {
	for _, known := range SingleNames() {
		if n == known {
			return true
		}
	}
	return false
}

// GovernedValue is a scalar under two-phase timelocked governance. A pending
// value becomes current only through an explicit Execute call at or after
// UpdateAt; at most one pending update exists at a time.
type GovernedValue struct {
	Current    uint64         `cbor:"1,keyasint"`
	Pending    uint64         `cbor:"2,keyasint"`
	UpdateAt   chaintime.Time `cbor:"3,keyasint"`
	HasPending bool           `cbor:"4,keyasint"`
}

// NewGovernedValue creates a governed value with no pending update.
func NewGovernedValue(initial uint64) GovernedValue {
	return GovernedValue{Current: initial}
}

// Initiate schedules a pending update executable at now+delay. The delay is
// the value in effect at initiation; a later change to the update delay never
// retimes an already scheduled update. Re-initiating replaces any prior
// pending update, so at most one is ever scheduled.
func (g *GovernedValue) Initiate(newValue uint64, now chaintime.Time, delay chaintime.Period) error {
	updateAt, err := now.Add(delay)
	if err != nil {
		return fmt.Errorf("schedule update: %w", err)
	}
	g.Pending = newValue
	g.UpdateAt = updateAt
	g.HasPending = true
	return nil
}

// Execute commits the pending value. Fails with ErrTooEarly before UpdateAt
// and ErrNothingPending when no update is scheduled; a committed update
// clears the pending slot so a second Execute fails.
func (g *GovernedValue) Execute(now chaintime.Time) error {
	if !g.HasPending {
		return ErrNothingPending
	}
	if now.Before(g.UpdateAt) {
		return ErrTooEarly
	}
	g.Current = g.Pending
	g.Pending = 0
	g.UpdateAt = 0
	g.HasPending = false
	return nil
}
