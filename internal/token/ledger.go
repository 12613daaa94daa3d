package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/eigerco/cloudberry/internal/crypto"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrUnknownToken          = errors.New("no ledger for token")
	ErrInvalidAmount         = errors.New("invalid token amount")
)

// Ledger is the external token contract the forwarder settles against. The
// hub calls it only after verification succeeds. Transfer moves from the
// hub's own custody balance; TransferFrom moves on behalf of a holder who
// granted the hub an allowance. Errors are reported back to the forwarder,
// which maps them to the soft- or hard-failure policy of its path; the hub
// never retries a ledger call.
type Ledger interface {
	Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to crypto.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr crypto.Address) (*big.Int, error)
}

// Resolver maps a registered token address to its ledger.
type Resolver interface {
	Resolve(token crypto.Address) (Ledger, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(token crypto.Address) (Ledger, error)

func (f ResolverFunc) Resolve(token crypto.Address) (Ledger, error) {
	return f(token)
}
