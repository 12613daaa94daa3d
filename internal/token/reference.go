package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
)

const (
	prefixBalance   byte = 0x0f
	prefixAllowance byte = 0x10
)

// ReferenceLedger is a minimal in-process fungible token ledger over the
// shared store: balances and allowances, standard semantics. It backs tests
// and local deployments; production deployments plug adapters for real token
// contracts behind the Ledger interface. Each mutation commits its own batch
// so a transfer is atomic on its own, independent of the hub operation that
// triggered it.
type ReferenceLedger struct {
	db      db.KVStore
	token   crypto.Address
	custody crypto.Address
}

// NewReferenceLedger creates a ledger for one token. custody is the address
// Transfer debits, normally the hub's own address.
func NewReferenceLedger(kv db.KVStore, token, custody crypto.Address) *ReferenceLedger {
	return &ReferenceLedger{db: kv, token: token, custody: custody}
}

func (l *ReferenceLedger) balanceKey(addr crypto.Address) []byte {
	k := make([]byte, 1+2*crypto.AddressSize)
	k[0] = prefixBalance
	copy(k[1:], l.token[:])
	copy(k[1+crypto.AddressSize:], addr[:])
	return k
}

func (l *ReferenceLedger) allowanceKey(owner, spender crypto.Address) []byte {
	k := make([]byte, 1+3*crypto.AddressSize)
	k[0] = prefixAllowance
	copy(k[1:], l.token[:])
	copy(k[1+crypto.AddressSize:], owner[:])
	copy(k[1+2*crypto.AddressSize:], spender[:])
	return k
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l *ReferenceLedger) read(key []byte) (*big.Int, error) {
	raw, err := l.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

// BalanceOf returns the holder's balance.
func (l *ReferenceLedger) BalanceOf(_ context.Context, addr crypto.Address) (*big.Int, error) {
	return l.read(l.balanceKey(addr))
}

// Allowance returns what spender may move on owner's behalf.
func (l *ReferenceLedger) Allowance(_ context.Context, owner, spender crypto.Address) (*big.Int, error) {
	return l.read(l.allowanceKey(owner, spender))
}

// Transfer moves amount from the custody balance to the recipient.
func (l *ReferenceLedger) Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error {
	return l.move(ctx, l.custody, to, amount, false)
}

// TransferFrom moves amount from a holder to the recipient, consuming the
// holder's allowance for the custody address.
func (l *ReferenceLedger) TransferFrom(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	return l.move(ctx, from, to, amount, from != l.custody)
}

func (l *ReferenceLedger) move(_ context.Context, from, to crypto.Address, amount *big.Int, spendAllowance bool) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	fromBalance, err := l.read(l.balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	if spendAllowance {
		allowance, err := l.read(l.allowanceKey(from, l.custody))
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		remaining := new(big.Int).Sub(allowance, amount)
		if err := batch.Put(l.allowanceKey(from, l.custody), remaining.Bytes()); err != nil {
			return fmt.Errorf("stage allowance: %w", err)
		}
	}

	if from == to {
		return batch.Commit()
	}

	toBalance, err := l.read(l.balanceKey(to))
	if err != nil {
		return err
	}
	if err := batch.Put(l.balanceKey(from), new(big.Int).Sub(fromBalance, amount).Bytes()); err != nil {
		return fmt.Errorf("stage sender balance: %w", err)
	}
	if err := batch.Put(l.balanceKey(to), new(big.Int).Add(toBalance, amount).Bytes()); err != nil {
		return fmt.Errorf("stage recipient balance: %w", err)
	}
	return batch.Commit()
}

// Approve sets spender's allowance over the caller's balance.
func (l *ReferenceLedger) Approve(_ context.Context, owner, spender crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Put(l.allowanceKey(owner, spender), amount.Bytes()); err != nil {
		return fmt.Errorf("stage allowance: %w", err)
	}
	return batch.Commit()
}

// Mint credits a balance out of nothing. Genesis and test setup only; the
// forwarder never mints.
func (l *ReferenceLedger) Mint(_ context.Context, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balance, err := l.read(l.balanceKey(to))
	if err != nil {
		return err
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Put(l.balanceKey(to), new(big.Int).Add(balance, amount).Bytes()); err != nil {
		return fmt.Errorf("stage minted balance: %w", err)
	}
	return batch.Commit()
}
