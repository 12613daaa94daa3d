package handlers

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/internal/transfer"
)

// SettlementSubmissionHandler processes submit_settlement streams carrying
// validator-attested inbound settlements.
type SettlementSubmissionHandler struct {
	hub     *hub.Hub
	dedup   *DedupCache
	metrics *metrics.Metrics
	now     func() chaintime.Time
}

func NewSettlementSubmissionHandler(h *hub.Hub, dedup *DedupCache, m *metrics.Metrics) *SettlementSubmissionHandler {
	return &SettlementSubmissionHandler{
		hub:     h,
		dedup:   dedup,
		metrics: m,
		now:     chaintime.Now,
	}
}

// HandleStream reads one settlement request, runs it through the hub and
// writes the SubmissionResult.
func (h *SettlementSubmissionHandler) HandleStream(ctx context.Context, stream quic.Stream) error {
	msg, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return fmt.Errorf("read settlement: %w", err)
	}

	var req transfer.ToRequest
	if err := ser.Decode(msg.Content, &req); err != nil {
		return fmt.Errorf("decode settlement: %w", err)
	}

	res := h.process(ctx, &req)
	return writeResult(ctx, stream, res)
}

func (h *SettlementSubmissionHandler) process(ctx context.Context, req *transfer.ToRequest) SubmissionResult {
	const kind = "transfer_to"

	digest := req.SigningDigest(h.hub.LocalChainID(), h.hub.ForwarderAddress())
	if h.dedup.Seen(digest) {
		h.metrics.ObserveTransfer(kind, "duplicate")
		return SubmissionResult{Reason: ErrDuplicateSubmission.Error()}
	}

	outcome, err := h.hub.SubmitTransferTo(ctx, req, h.now())
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

// SettlementSubmitter is the client side of submit_settlement streams.
type SettlementSubmitter struct{}

// Submit sends a quorum-signed settlement and returns the hub's result.
func (s *SettlementSubmitter) Submit(ctx context.Context, stream quic.Stream, req *transfer.ToRequest) (SubmissionResult, error) {
	content, err := ser.Encode(req)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("encode settlement: %w", err)
	}
	if err := WriteMessageWithContext(ctx, stream, content); err != nil {
		return SubmissionResult{}, fmt.Errorf("write settlement: %w", err)
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
