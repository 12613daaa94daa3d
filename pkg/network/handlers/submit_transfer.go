package handlers

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/internal/transfer"
)

// TransferSubmissionHandler processes submit_transfer streams: one signed
// transfer or outbound transfer request per stream, one result frame back.
type TransferSubmissionHandler struct {
	hub     *hub.Hub
	dedup   *DedupCache
	metrics *metrics.Metrics
	now     func() chaintime.Time
}

func NewTransferSubmissionHandler(h *hub.Hub, dedup *DedupCache, m *metrics.Metrics) *TransferSubmissionHandler {
	return &TransferSubmissionHandler{
		hub:     h,
		dedup:   dedup,
		metrics: m,
		now:     chaintime.Now,
	}
}

// HandleStream reads one TransferSubmission, runs it through the hub and
// writes the SubmissionResult. Verification failures travel back in the
// result frame rather than killing the stream.
func (h *TransferSubmissionHandler) HandleStream(ctx context.Context, stream quic.Stream) error {
	msg, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}

	var sub TransferSubmission
	if err := ser.Decode(msg.Content, &sub); err != nil {
		return fmt.Errorf("decode submission: %w", err)
	}

	res := h.process(ctx, &sub)
	return writeResult(ctx, stream, res)
}

func (h *TransferSubmissionHandler) process(ctx context.Context, sub *TransferSubmission) SubmissionResult {
	if sub.Transfer == nil && sub.Outbound == nil {
		return SubmissionResult{Reason: ErrEmptySubmission.Error()}
	}
	if sub.Transfer != nil && sub.Outbound != nil {
		return SubmissionResult{Reason: ErrAmbiguousSubmission.Error()}
	}

	chainID := h.hub.LocalChainID()
	forwarder := h.hub.ForwarderAddress()

	var (
		kind    string
		digest  crypto.Hash
		outcome hub.ForwardOutcome
		err     error
	)
	if sub.Transfer != nil {
		kind = "transfer"
		digest = sub.Transfer.SigningDigest(chainID, forwarder)
	} else {
		kind = "transfer_from"
		digest = sub.Outbound.SigningDigest(chainID, forwarder)
	}
	if h.dedup.Seen(digest) {
		h.metrics.ObserveTransfer(kind, "duplicate")
		return SubmissionResult{Reason: ErrDuplicateSubmission.Error()}
	}

	if sub.Transfer != nil {
		outcome, err = h.hub.SubmitTransfer(ctx, sub.Transfer, h.now())
	} else {
		outcome, err = h.hub.SubmitTransferFrom(ctx, sub.Outbound, h.now())
	}

	if err != nil {
		h.metrics.ObserveTransfer(kind, "rejected")
		h.metrics.VerificationFailures.WithLabelValues(kind).Inc()
		return SubmissionResult{Reason: err.Error()}
	}
	h.dedup.Remember(digest)
	if !outcome.Executed {
		h.metrics.ObserveTransfer(kind, "failed")
		return SubmissionResult{OK: true, Reason: outcome.Reason}
	}
	h.metrics.ObserveTransfer(kind, "executed")
	return SubmissionResult{OK: true, Executed: true}
}

// TransferSubmitter is the client side of submit_transfer streams.
type TransferSubmitter struct{}

// Submit sends a local transfer request and returns the hub's result.
func (s *TransferSubmitter) Submit(ctx context.Context, stream quic.Stream, req *transfer.Request) (SubmissionResult, error) {
	return submitOnStream(ctx, stream, &TransferSubmission{Transfer: req})
}

// SubmitOutbound sends a cross-chain outbound request.
func (s *TransferSubmitter) SubmitOutbound(ctx context.Context, stream quic.Stream, req *transfer.FromRequest) (SubmissionResult, error) {
	return submitOnStream(ctx, stream, &TransferSubmission{Outbound: req})
}

func submitOnStream(ctx context.Context, stream quic.Stream, sub *TransferSubmission) (SubmissionResult, error) {
	content, err := ser.Encode(sub)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("encode submission: %w", err)
	}
	if err := WriteMessageWithContext(ctx, stream, content); err != nil {
		return SubmissionResult{}, fmt.Errorf("write submission: %w", err)
	}
	if err := stream.Close(); err != nil {
		return SubmissionResult{}, fmt.Errorf("close write: %w", err)
	}

	response, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("read result: %w", err)
	}
	var res SubmissionResult
	if err := ser.Decode(response.Content, &res); err != nil {
		return SubmissionResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
