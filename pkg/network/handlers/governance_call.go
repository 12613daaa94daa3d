package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/internal/auth"
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/params"
	"github.com/eigerco/cloudberry/internal/transfer"
)

var (
	ErrUnknownMethod = errors.New("unknown call method")
	ErrCallExpired   = errors.New("call envelope outside validity window")
)

// Fee factor updates are per-chain parameter updates; they get their own
// method names because their parameters differ from the single-value ones.
const (
	MethodInitiateFeeFactorUpdate = "initiate_fee_factor_update"
	MethodExecuteFeeFactorUpdate  = "execute_fee_factor_update"
)

// Per-method parameter payloads, CBOR-encoded into CallEnvelope.Params.
type (
	// ParamUpdateParams names a single-value parameter; Value is used by
	// initiation only.
	ParamUpdateParams struct {
		Name  string `cbor:"1,keyasint" json:"name"`
		Value uint64 `cbor:"2,keyasint" json:"value,omitempty"`
	}

	// FeeFactorParams addresses a chain's validator fee factor.
	FeeFactorParams struct {
		ChainID uint64 `cbor:"1,keyasint" json:"chainId"`
		Value   uint64 `cbor:"2,keyasint" json:"value,omitempty"`
	}

	// BlockchainParams registers or unregisters a remote blockchain.
	BlockchainParams struct {
		ChainID   uint64 `cbor:"1,keyasint" json:"chainId"`
		Name      string `cbor:"2,keyasint" json:"name,omitempty"`
		FeeFactor uint64 `cbor:"3,keyasint" json:"feeFactor,omitempty"`
	}

	// TokenParams manages a token and its external mappings.
	TokenParams struct {
		Token         crypto.Address `cbor:"1,keyasint" json:"token"`
		Owner         crypto.Address `cbor:"2,keyasint" json:"owner,omitempty"`
		ChainID       uint64         `cbor:"3,keyasint" json:"chainId,omitempty"`
		ExternalToken string         `cbor:"4,keyasint" json:"externalToken,omitempty"`
	}

	// ValidatorParams adds or removes a validator.
	ValidatorParams struct {
		Validator crypto.Address `cbor:"1,keyasint" json:"validator"`
	}

	// RoleParams grants or revokes a capability.
	RoleParams struct {
		Address    crypto.Address `cbor:"1,keyasint" json:"address"`
		Capability string         `cbor:"2,keyasint" json:"capability"`
	}

	// CommitParams carries a registration or URL commitment hash.
	CommitParams struct {
		Hash crypto.Hash `cbor:"1,keyasint" json:"hash"`
	}

	// ServiceNodeParams covers the service node lifecycle calls.
	ServiceNodeParams struct {
		Node       crypto.Address `cbor:"1,keyasint" json:"node"`
		URL        string         `cbor:"2,keyasint" json:"url,omitempty"`
		Deposit    uint64         `cbor:"3,keyasint" json:"deposit,omitempty"`
		Withdrawal crypto.Address `cbor:"4,keyasint" json:"withdrawal,omitempty"`
		Amount     uint64         `cbor:"5,keyasint" json:"amount,omitempty"`
	}
)

// GovernanceCallHandler processes governance_call streams. Each stream
// carries one signed CallEnvelope; the handler verifies the signature,
// consumes the caller's nonce, dispatches the method against the hub and
// returns a SubmissionResult. Authorization is the hub's job: the recovered
// caller goes through the same capability checks as any direct call.
type GovernanceCallHandler struct {
	hub *hub.Hub
	now func() chaintime.Time
}

func NewGovernanceCallHandler(h *hub.Hub) *GovernanceCallHandler {
	return &GovernanceCallHandler{hub: h, now: chaintime.Now}
}

// HandleStream reads one envelope, executes it and writes the result.
func (h *GovernanceCallHandler) HandleStream(ctx context.Context, stream quic.Stream) error {
	msg, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return fmt.Errorf("read call: %w", err)
	}

	var env transfer.CallEnvelope
	if err := ser.Decode(msg.Content, &env); err != nil {
		return fmt.Errorf("decode call: %w", err)
	}

	res := SubmissionResult{OK: true, Executed: true}
	if err := h.execute(ctx, &env); err != nil {
		res = SubmissionResult{Reason: err.Error()}
	}
	return writeResult(ctx, stream, res)
}

func (h *GovernanceCallHandler) execute(ctx context.Context, env *transfer.CallEnvelope) error {
	if err := env.Verify(h.hub.LocalChainID(), h.hub.ForwarderAddress()); err != nil {
		return err
	}

	now := h.now()
	if now.After(env.ValidUntil) {
		return ErrCallExpired
	}

	// The nonce burns before dispatch. A failed operation is not retryable
	// under the same envelope; the caller signs a fresh one.
	if err := h.hub.ConsumeCallNonce(env.Caller, env.Nonce); err != nil {
		return err
	}

	return h.dispatch(ctx, env.Caller, now, env.Method, env.Params)
}

func (h *GovernanceCallHandler) dispatch(ctx context.Context, caller crypto.Address, now chaintime.Time, method string, raw []byte) error {
	switch method {
	case hub.OpPause:
		return h.hub.Pause(caller, now)
	case hub.OpUnpause:
		return h.hub.Unpause(caller, now)

	case hub.OpInitiateParamUpdate:
		var p ParamUpdateParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.InitiateParamUpdate(caller, now, params.Name(p.Name), p.Value)
	case hub.OpExecuteParamUpdate:
		var p ParamUpdateParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.ExecuteParamUpdate(caller, now, params.Name(p.Name))
	case MethodInitiateFeeFactorUpdate:
		var p FeeFactorParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.InitiateFeeFactorUpdate(caller, now, p.ChainID, p.Value)
	case MethodExecuteFeeFactorUpdate:
		var p FeeFactorParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.ExecuteFeeFactorUpdate(caller, now, p.ChainID)

	case hub.OpRegisterBlockchain:
		var p BlockchainParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.RegisterBlockchain(caller, now, p.ChainID, p.Name, p.FeeFactor)
	case hub.OpUnregisterBlockchain:
		var p BlockchainParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.UnregisterBlockchain(caller, now, p.ChainID)

	case hub.OpRegisterToken:
		var p TokenParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.RegisterToken(caller, now, p.Token, p.Owner)
	case hub.OpUnregisterToken:
		var p TokenParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.UnregisterToken(caller, now, p.Token)
	case hub.OpSetExternalToken:
		var p TokenParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.SetExternalToken(caller, now, p.Token, p.ChainID, p.ExternalToken)
	case hub.OpUnsetExternalToken:
		var p TokenParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.UnsetExternalToken(caller, now, p.Token, p.ChainID)

	case hub.OpAddValidator:
		var p ValidatorParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.AddValidator(caller, now, p.Validator)
	case hub.OpRemoveValidator:
		var p ValidatorParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.RemoveValidator(caller, now, p.Validator)

	case hub.OpGrantRole:
		var p RoleParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.GrantRole(caller, now, p.Address, auth.Capability(p.Capability))
	case hub.OpRevokeRole:
		var p RoleParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.RevokeRole(caller, now, p.Address, auth.Capability(p.Capability))

	case hub.OpCommitHash:
		var p CommitParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.CommitHash(caller, now, p.Hash)
	case hub.OpRegisterServiceNode:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.RegisterServiceNode(ctx, caller, now, p.Node, p.URL, p.Deposit, p.Withdrawal)
	case hub.OpUnregisterServiceNode:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.UnregisterServiceNode(caller, now, p.Node)
	case hub.OpWithdrawDeposit:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.WithdrawDeposit(ctx, caller, now, p.Node)
	case hub.OpCancelUnregistration:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.CancelUnregistration(caller, now, p.Node)
	case hub.OpIncreaseDeposit:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.IncreaseDeposit(ctx, caller, now, p.Node, p.Amount)
	case hub.OpDecreaseDeposit:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.DecreaseDeposit(ctx, caller, now, p.Node, p.Amount)
	case hub.OpUpdateURL:
		var p ServiceNodeParams
		if err := ser.Decode(raw, &p); err != nil {
			return err
		}
		return h.hub.UpdateURL(caller, now, p.Node, p.URL)
	}
	return fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

// CallSubmitter is the client side of governance_call streams.
type CallSubmitter struct{}

// Call encodes the method parameters, signs the envelope with the caller's
// key and sends it. The nonce must be fresh in the caller's nonce space.
func (c *CallSubmitter) Call(ctx context.Context, stream quic.Stream, key *crypto.PrivateKey,
	chainID uint64, forwarder crypto.Address, method string, methodParams interface{},
	nonce uint64, validUntil chaintime.Time) (SubmissionResult, error) {

	raw, err := ser.Encode(methodParams)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("encode params: %w", err)
	}
	env := transfer.CallEnvelope{
		Caller:     key.Address(),
		Nonce:      nonce,
		ValidUntil: validUntil,
		Method:     method,
		Params:     raw,
	}
	env.Sign(key, chainID, forwarder)

	content, err := ser.Encode(&env)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("encode call: %w", err)
	}
	if err := WriteMessageWithContext(ctx, stream, content); err != nil {
		return SubmissionResult{}, fmt.Errorf("write call: %w", err)
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
