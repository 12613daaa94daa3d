package hub

import "errors"

var (
	ErrAlreadyBootstrapped = errors.New("store already bootstrapped")
	ErrNotBootstrapped     = errors.New("store not bootstrapped")
	ErrInvalidGenesis      = errors.New("invalid genesis")

	ErrChainExists = errors.New("blockchain already registered")
	ErrLocalChain  = errors.New("local chain cannot be unregistered")
	ErrTokenExists = errors.New("token already registered")

	ErrNotNodeOperator      = errors.New("caller is not the node or its withdrawal address")
	ErrCommitmentMismatch   = errors.New("commitment hash does not match reveal")
	ErrCommitmentNotMature  = errors.New("commitment wait period not elapsed")
	ErrDepositTooLow        = errors.New("deposit below minimum")
	ErrDepositOverflow      = errors.New("deposit arithmetic overflow")
	ErrAlreadyActive        = errors.New("service node already active")
	ErrNotActive            = errors.New("service node not active")
	ErrNotUnbonding         = errors.New("service node not unbonding")
	ErrUnbondingNotComplete = errors.New("unbonding period not elapsed")
	ErrDepositHeld          = errors.New("previous deposit not withdrawn")
)
