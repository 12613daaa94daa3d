package forwarder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/safemath"
	"github.com/eigerco/cloudberry/internal/transfer"
)

var (
	// ErrInvalidRequest covers malformed, expired, wrong-chain and
	// unregistered-token requests, and sender signature mismatches.
	ErrInvalidRequest = errors.New("invalid transfer request")
	// ErrReplayedNonce is returned when the request's nonce was already
	// consumed.
	ErrReplayedNonce = errors.New("replayed nonce")
	// ErrQuorumNotMet is returned when a settlement's validator signature
	// set fails any quorum requirement.
	ErrQuorumNotMet = errors.New("validator quorum not met")
)

// State is the registry view verification reads. The hub implements it over
// its store; verification itself never mutates anything, so the same checks
// back both the standalone verify views and the first phase of forwarding.
type State interface {
	LocalChainID() uint64
	ForwarderAddress() crypto.Address
	IsChainActive(chainID uint64) (bool, error)
	IsTokenActive(token crypto.Address) (bool, error)
	IsExternalTokenActive(token crypto.Address, chainID uint64) (bool, error)
	IsValidSenderNonce(sender crypto.Address, nonce uint64) (bool, error)
	IsValidValidatorNonce(nonce uint64) (bool, error)
	IsValidatorNode(addr crypto.Address) (bool, error)
	ValidatorFeeFactor(chainID uint64) (uint64, error)
	MinValidatorSignatures() (uint64, error)
}

// VerifyTransfer validates a same-chain transfer request: structural
// correctness, validity window, fresh sender nonce, local destination,
// active token, and a sender signature over the domain-bound digest. Any
// failing sub-check aborts the whole verification; there is no partial
// success.
func VerifyTransfer(s State, req *transfer.Request, now chaintime.Time) error {
	if err := checkAmounts(req.Amount, req.Fee); err != nil {
		return err
	}
	if !transfer.WindowContains(req.ValidFrom, req.ValidUntil, now) {
		return fmt.Errorf("%w: outside validity window", ErrInvalidRequest)
	}
	if err := checkSenderNonce(s, req.Sender, req.Nonce); err != nil {
		return err
	}
	if req.DestinationChainID != s.LocalChainID() {
		return fmt.Errorf("%w: destination chain %d is not the local chain", ErrInvalidRequest, req.DestinationChainID)
	}
	if err := checkTokenActive(s, req.Token); err != nil {
		return err
	}
	digest := req.SigningDigest(s.LocalChainID(), s.ForwarderAddress())
	return checkSenderSignature(digest, req.Signature, req.Sender)
}

// VerifyTransferFrom validates a cross-chain outbound request. On top of the
// same-chain checks it requires a registered active destination chain with
// an active external token mapping, and a fee at or above the two-factor
// floor: the product of the local and destination chain validator fee
// factors.
func VerifyTransferFrom(s State, req *transfer.FromRequest, now chaintime.Time) error {
	if err := checkAmounts(req.Amount, req.Fee); err != nil {
		return err
	}
	if !transfer.WindowContains(req.ValidFrom, req.ValidUntil, now) {
		return fmt.Errorf("%w: outside validity window", ErrInvalidRequest)
	}
	if err := checkSenderNonce(s, req.Sender, req.Nonce); err != nil {
		return err
	}
	if req.DestinationChainID == s.LocalChainID() {
		return fmt.Errorf("%w: outbound transfer to the local chain", ErrInvalidRequest)
	}
	active, err := s.IsChainActive(req.DestinationChainID)
	if err != nil {
		return fmt.Errorf("check destination chain: %w", err)
	}
	if !active {
		return fmt.Errorf("%w: destination chain %d not registered", ErrInvalidRequest, req.DestinationChainID)
	}
	if err := checkTokenActive(s, req.Token); err != nil {
		return err
	}
	extActive, err := s.IsExternalTokenActive(req.Token, req.DestinationChainID)
	if err != nil {
		return fmt.Errorf("check external token: %w", err)
	}
	if !extActive {
		return fmt.Errorf("%w: token has no external mapping for chain %d", ErrInvalidRequest, req.DestinationChainID)
	}

	floor, err := RequiredFee(s, req.DestinationChainID)
	if err != nil {
		return err
	}
	if req.Fee.Cmp(floor) < 0 {
		return fmt.Errorf("%w: fee %s below floor %s", ErrInvalidRequest, req.Fee, floor)
	}

	digest := req.SigningDigest(s.LocalChainID(), s.ForwarderAddress())
	return checkSenderSignature(digest, req.Signature, req.Sender)
}

// RequiredFee computes the outbound fee floor for a destination chain: the
// product of the local and destination validator fee factors, in token base
// units.
func RequiredFee(s State, destinationChainID uint64) (*big.Int, error) {
	src, err := s.ValidatorFeeFactor(s.LocalChainID())
	if err != nil {
		return nil, fmt.Errorf("local fee factor: %w", err)
	}
	dst, err := s.ValidatorFeeFactor(destinationChainID)
	if err != nil {
		return nil, fmt.Errorf("destination fee factor: %w", err)
	}
	product, ok := safemath.Mul64(src, dst)
	if !ok {
		return nil, fmt.Errorf("%w: fee factor product overflows", ErrInvalidRequest)
	}
	return new(big.Int).SetUint64(product), nil
}

// VerifyTransferTo validates a cross-chain inbound settlement. In place of a
// sender signature it requires a validator quorum over the settlement
// digest: signer addresses strictly ascending (which enforces uniqueness and
// a canonical order independent of how submitters collected signatures),
// every signer a current validator node, each signature recovering to its
// paired address, and at least the governed minimum number of signatures.
// The settlement nonce lives in the network-wide set, independent of any
// sender's nonce space.
func VerifyTransferTo(s State, req *transfer.ToRequest, now chaintime.Time) error {
	if err := checkAmounts(req.Amount, req.Fee); err != nil {
		return err
	}
	if !transfer.WindowContains(req.ValidFrom, req.ValidUntil, now) {
		return fmt.Errorf("%w: outside validity window", ErrInvalidRequest)
	}
	valid, err := s.IsValidValidatorNonce(req.Nonce)
	if err != nil {
		return fmt.Errorf("check validator nonce: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: settlement nonce %d", ErrReplayedNonce, req.Nonce)
	}
	srcActive, err := s.IsChainActive(req.SourceChainID)
	if err != nil {
		return fmt.Errorf("check source chain: %w", err)
	}
	if !srcActive {
		return fmt.Errorf("%w: source chain %d not registered", ErrInvalidRequest, req.SourceChainID)
	}
	if req.SourceChainID == s.LocalChainID() {
		return fmt.Errorf("%w: settlement cannot originate locally", ErrInvalidRequest)
	}
	if err := checkTokenActive(s, req.Token); err != nil {
		return err
	}

	digest := req.SigningDigest(s.LocalChainID(), s.ForwarderAddress())
	return verifyQuorum(s, req, digest)
}

func verifyQuorum(s State, req *transfer.ToRequest, digest crypto.Hash) error {
	if len(req.Signatures) != len(req.SignerAddresses) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrQuorumNotMet, len(req.Signatures), len(req.SignerAddresses))
	}

	minSignatures, err := s.MinValidatorSignatures()
	if err != nil {
		return fmt.Errorf("read quorum size: %w", err)
	}
	if uint64(len(req.SignerAddresses)) < minSignatures {
		return fmt.Errorf("%w: %d of %d required signatures", ErrQuorumNotMet, len(req.SignerAddresses), minSignatures)
	}

	for i, signer := range req.SignerAddresses {
		// Strictly ascending: no duplicates, one canonical order.
		if i > 0 && req.SignerAddresses[i-1].Compare(signer) >= 0 {
			return fmt.Errorf("%w: signer addresses not strictly ascending at index %d", ErrQuorumNotMet, i)
		}
		member, err := s.IsValidatorNode(signer)
		if err != nil {
			return fmt.Errorf("check validator membership: %w", err)
		}
		if !member {
			return fmt.Errorf("%w: %s is not a validator node", ErrQuorumNotMet, signer)
		}
		recovered, err := crypto.RecoverAddress(digest, req.Signatures[i])
		if err != nil || recovered != signer {
			return fmt.Errorf("%w: signature %d does not recover to %s", ErrQuorumNotMet, i, signer)
		}
	}
	return nil
}

func checkAmounts(amount, fee *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: missing or negative amount", ErrInvalidRequest)
	}
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("%w: missing or negative fee", ErrInvalidRequest)
	}
	return nil
}

func checkSenderNonce(s State, sender crypto.Address, nonce uint64) error {
	valid, err := s.IsValidSenderNonce(sender, nonce)
	if err != nil {
		return fmt.Errorf("check sender nonce: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: nonce %d for sender %s", ErrReplayedNonce, nonce, sender)
	}
	return nil
}

func checkTokenActive(s State, token crypto.Address) error {
	active, err := s.IsTokenActive(token)
	if err != nil {
		return fmt.Errorf("check token: %w", err)
	}
	if !active {
		return fmt.Errorf("%w: token %s not registered", ErrInvalidRequest, token)
	}
	return nil
}

func checkSenderSignature(digest crypto.Hash, sig crypto.Signature, sender crypto.Address) error {
	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: unrecoverable signature", ErrInvalidRequest)
	}
	if recovered != sender {
		return fmt.Errorf("%w: signature does not recover to sender", ErrInvalidRequest)
	}
	return nil
}
