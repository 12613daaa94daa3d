package handlers

import (
	"context"
	"fmt"
	"math/big"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/params"
)

// State query names served by state_request streams.
const (
	QueryStatus         = "status"
	QueryParam          = "param"
	QueryChain          = "chain"
	QueryChains         = "chains"
	QueryToken          = "token"
	QueryTokens         = "tokens"
	QueryExternalToken  = "external_token"
	QueryValidators     = "validators"
	QueryServiceNode    = "service_node"
	QueryServiceNodes   = "service_nodes"
	QuerySenderNonce    = "sender_nonce"
	QueryValidatorNonce = "validator_nonce"
	QueryCustodyBalance = "custody_balance"
)

// StateRequest selects a read-only query. Name, ChainID, Address and Nonce
// qualify the queries that need them.
type StateRequest struct {
	Query   string         `cbor:"1,keyasint" json:"query"`
	Name    string         `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	ChainID uint64         `cbor:"3,keyasint,omitempty" json:"chainId,omitempty"`
	Address crypto.Address `cbor:"4,keyasint,omitempty" json:"address,omitempty"`
	Nonce   uint64         `cbor:"5,keyasint,omitempty" json:"nonce,omitempty"`
}

// StateResponse wraps the CBOR-encoded query result.
type StateResponse struct {
	OK     bool   `cbor:"1,keyasint" json:"ok"`
	Reason string `cbor:"2,keyasint,omitempty" json:"reason,omitempty"`
	Data   []byte `cbor:"3,keyasint,omitempty" json:"data,omitempty"`
}

// StateRequestHandler serves read-only hub state over the wire protocol.
// Available on observer connections.
type StateRequestHandler struct {
	hub *hub.Hub
}

func NewStateRequestHandler(h *hub.Hub) *StateRequestHandler {
	return &StateRequestHandler{hub: h}
}

// HandleStream reads one StateRequest and writes one StateResponse.
func (h *StateRequestHandler) HandleStream(ctx context.Context, stream quic.Stream) error {
	msg, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return fmt.Errorf("read state request: %w", err)
	}

	var req StateRequest
	if err := ser.Decode(msg.Content, &req); err != nil {
		return fmt.Errorf("decode state request: %w", err)
	}

	resp := h.query(ctx, &req)
	content, err := ser.Encode(resp)
	if err != nil {
		return fmt.Errorf("encode state response: %w", err)
	}
	return WriteMessageWithContext(ctx, stream, content)
}

func (h *StateRequestHandler) query(ctx context.Context, req *StateRequest) StateResponse {
	var (
		result interface{}
		err    error
	)
	switch req.Query {
	case QuerySenderNonce:
		result, err = h.hub.IsValidSenderNonce(req.Address, req.Nonce)
	case QueryValidatorNonce:
		result, err = h.hub.IsValidValidatorNonce(req.Nonce)
	case QueryCustodyBalance:
		var balance *big.Int
		balance, err = h.hub.CustodyBalance(ctx, req.Address)
		if balance != nil {
			result = balance.String()
		}
	case QueryStatus:
		result, err = h.hub.Status()
	case QueryParam:
		result, err = h.hub.Param(params.Name(req.Name))
	case QueryChain:
		result, err = h.hub.Chain(req.ChainID)
	case QueryChains:
		result, err = h.hub.Chains()
	case QueryToken:
		result, err = h.hub.Token(req.Address)
	case QueryTokens:
		result, err = h.hub.Tokens()
	case QueryExternalToken:
		result, err = h.hub.ExternalToken(req.Address, req.ChainID)
	case QueryValidators:
		result, err = h.hub.Validators()
	case QueryServiceNode:
		result, err = h.hub.ServiceNode(req.Address)
	case QueryServiceNodes:
		result, err = h.hub.ServiceNodes()
	default:
		return StateResponse{Reason: fmt.Sprintf("unknown query: %s", req.Query)}
	}
	if err != nil {
		return StateResponse{Reason: err.Error()}
	}

	data, err := ser.Encode(result)
	if err != nil {
		return StateResponse{Reason: err.Error()}
	}
	return StateResponse{OK: true, Data: data}
}

// StateRequester is the client side of state_request streams.
type StateRequester struct{}

// Request sends a query and returns the raw response. The caller decodes
// Data into the type matching the query.
func (r *StateRequester) Request(ctx context.Context, stream quic.Stream, req *StateRequest) (*StateResponse, error) {
	content, err := ser.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode state request: %w", err)
	}
	if err := WriteMessageWithContext(ctx, stream, content); err != nil {
		return nil, fmt.Errorf("write state request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("close write: %w", err)
	}

	response, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("read state response: %w", err)
	}
	var resp StateResponse
	if err := ser.Decode(response.Content, &resp); err != nil {
		return nil, fmt.Errorf("decode state response: %w", err)
	}
	return &resp, nil
}
