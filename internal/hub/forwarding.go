package hub

import (
	"context"
	"fmt"
	"math/big"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/forwarder"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/transfer"
	"github.com/eigerco/cloudberry/pkg/log"
)

// ForwardOutcome is the result of an accepted transfer submission. Executed
// is false on a soft failure: verification passed and the nonce is consumed,
// but the token ledger refused the movement; Reason carries the ledger's
// explanation. Retrying requires a fresh nonce.
type ForwardOutcome struct {
	Executed bool   `cbor:"1,keyasint" json:"executed"`
	Reason   string `cbor:"2,keyasint,omitempty" json:"reason,omitempty"`
}

// SubmitTransfer verifies and forwards a same-chain transfer. The sequence
// is nonce-first: batch one consumes the sender nonce and records acceptance,
// then the ledger moves the funds, then batch two records the outcome. A
// crash between the batches leaves the nonce consumed and no funds moved,
// which is the safe side; the ledger is never invoked for a nonce that is not
// already burned.
func (h *Hub) SubmitTransfer(ctx context.Context, req *transfer.Request, now chaintime.Time) (ForwardOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpSubmitTransfer, req.Sender, h.paused); err != nil {
		return ForwardOutcome{}, err
	}
	if err := forwarder.VerifyTransfer(h, req, now); err != nil {
		return ForwardOutcome{}, err
	}
	ledger, err := h.ledgers.Resolve(req.Token)
	if err != nil {
		return ForwardOutcome{}, err
	}

	accepted := TransferEvent{
		Sender: req.Sender, Recipient: req.Recipient.String(), Token: req.Token,
		Amount: req.Amount, Fee: req.Fee, Nonce: req.Nonce,
	}
	if err := h.acceptTransfer(now, req.Sender, req.Nonce, outbox.KindTransferAccepted, accepted); err != nil {
		return ForwardOutcome{}, err
	}

	// Same-chain: direct movement sender to recipient; the fee is bound
	// into the digest but not collected here.
	ledgerErr := ledger.TransferFrom(ctx, req.Sender, req.Recipient, req.Amount)
	return h.recordOutcome(now, accepted, ledgerErr,
		outbox.KindTransferExecuted, outbox.KindTransferFailed)
}

// SubmitTransferFrom verifies and forwards a cross-chain outbound transfer:
// the amount escrows into hub custody and the full fee is collected on top.
// Same nonce-first sequence and soft-failure policy as SubmitTransfer.
func (h *Hub) SubmitTransferFrom(ctx context.Context, req *transfer.FromRequest, now chaintime.Time) (ForwardOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpSubmitTransferFrom, req.Sender, h.paused); err != nil {
		return ForwardOutcome{}, err
	}
	if err := forwarder.VerifyTransferFrom(h, req, now); err != nil {
		return ForwardOutcome{}, err
	}
	ledger, err := h.ledgers.Resolve(req.Token)
	if err != nil {
		return ForwardOutcome{}, err
	}

	accepted := TransferEvent{
		Sender: req.Sender, Recipient: req.Recipient, Token: req.Token,
		Amount: req.Amount, Fee: req.Fee, Nonce: req.Nonce,
		DestinationChainID: req.DestinationChainID,
	}
	if err := h.acceptTransfer(now, req.Sender, req.Nonce, outbox.KindTransferFromAccepted, accepted); err != nil {
		return ForwardOutcome{}, err
	}

	// Escrow amount plus fee into custody in one ledger movement; the fee
	// pool is the custody balance.
	total := new(big.Int).Add(req.Amount, req.Fee)
	ledgerErr := ledger.TransferFrom(ctx, req.Sender, h.forwarder, total)
	return h.recordOutcome(now, accepted, ledgerErr,
		outbox.KindTransferFromExecuted, outbox.KindTransferFromFailed)
}

// SubmitTransferTo verifies a validator-attested inbound settlement and
// releases the funds. The sequence is ledger-first: custody releases to the
// recipient, and only on ledger success does the batch consume the
// settlement nonce and record execution. A ledger failure aborts with no
// state change, so validators may resubmit the identical settlement.
func (h *Hub) SubmitTransferTo(ctx context.Context, req *transfer.ToRequest, now chaintime.Time) (ForwardOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpSubmitTransferTo, req.Recipient, h.paused); err != nil {
		return ForwardOutcome{}, err
	}
	if err := forwarder.VerifyTransferTo(h, req, now); err != nil {
		return ForwardOutcome{}, err
	}
	ledger, err := h.ledgers.Resolve(req.Token)
	if err != nil {
		return ForwardOutcome{}, err
	}

	if err := ledger.Transfer(ctx, req.Recipient, req.Amount); err != nil {
		return ForwardOutcome{}, fmt.Errorf("release settlement funds: %w", err)
	}

	batch, ap, err := h.begin()
	if err != nil {
		return ForwardOutcome{}, err
	}
	defer batch.Close()

	if err := h.nonces.ConsumeValidator(batch, req.Nonce); err != nil {
		return ForwardOutcome{}, err
	}
	if err := ap.Append(now, outbox.KindSettlementExecuted, SettlementEvent{
		SourceChainID: req.SourceChainID, SourceTransferID: req.SourceTransferID,
		Recipient: req.Recipient, Token: req.Token, Amount: req.Amount,
		Nonce: req.Nonce, Signers: len(req.SignerAddresses),
	}); err != nil {
		return ForwardOutcome{}, err
	}
	if err := h.commit(batch, ap); err != nil {
		return ForwardOutcome{}, err
	}
	return ForwardOutcome{Executed: true}, nil
}

// acceptTransfer commits batch one of an outbound path: nonce consumption
// plus the acceptance event.
func (h *Hub) acceptTransfer(now chaintime.Time, sender crypto.Address, n uint64, kind outbox.Kind, payload TransferEvent) error {
	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.nonces.ConsumeSender(batch, sender, n); err != nil {
		return err
	}
	if err := ap.Append(now, kind, payload); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// recordOutcome commits batch two with the execution or soft-failure event.
func (h *Hub) recordOutcome(now chaintime.Time, payload TransferEvent, ledgerErr error, okKind, failKind outbox.Kind) (ForwardOutcome, error) {
	kind := okKind
	outcome := ForwardOutcome{Executed: true}
	if ledgerErr != nil {
		kind = failKind
		payload.Reason = ledgerErr.Error()
		outcome = ForwardOutcome{Executed: false, Reason: ledgerErr.Error()}
		log.Hub.Warn().Err(ledgerErr).Uint64("nonce", payload.Nonce).
			Msg("ledger refused accepted transfer")
	}

	batch, ap, err := h.begin()
	if err != nil {
		return ForwardOutcome{}, err
	}
	defer batch.Close()

	if err := ap.Append(now, kind, payload); err != nil {
		return ForwardOutcome{}, err
	}
	if err := h.commit(batch, ap); err != nil {
		return ForwardOutcome{}, err
	}
	return outcome, nil
}
