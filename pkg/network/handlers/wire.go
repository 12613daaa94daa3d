// Package handlers implements the stream handlers of the node wire protocol
// and their client-side counterparts. All payloads are canonical CBOR inside
// length-prefixed frames.
package handlers

import (
	"context"
	"errors"
	"io"

	"github.com/eigerco/cloudberry/internal/transfer"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

var ser = serialization.NewSerializer(&codec.CBORCodec{})

var (
	ErrEmptySubmission     = errors.New("submission carries no request")
	ErrAmbiguousSubmission = errors.New("submission carries more than one request")
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// TransferSubmission is the payload of a submit_transfer stream. Exactly one
// of the two request kinds must be set.
type TransferSubmission struct {
	Transfer *transfer.Request     `cbor:"1,keyasint,omitempty" json:"transfer,omitempty"`
	Outbound *transfer.FromRequest `cbor:"2,keyasint,omitempty" json:"outbound,omitempty"`
}

// SubmissionResult is the response to submit and governance call streams.
// OK reports whether the submission was accepted; Executed whether the ledger
// movement went through. An accepted transfer can still fail execution, in
// which case its nonce stays burned and Reason says why.
type SubmissionResult struct {
	OK       bool   `cbor:"1,keyasint" json:"ok"`
	Executed bool   `cbor:"2,keyasint" json:"executed"`
	Reason   string `cbor:"3,keyasint,omitempty" json:"reason,omitempty"`
}

// writeResult encodes and writes a SubmissionResult frame.
func writeResult(ctx context.Context, w io.Writer, res SubmissionResult) error {
	data, err := ser.Encode(res)
	if err != nil {
		return err
	}
	return WriteMessageWithContext(ctx, w, data)
}
