package hub

import (
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/auth"
	"github.com/eigerco/cloudberry/internal/chains"
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/nonce"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/params"
	"github.com/eigerco/cloudberry/internal/tokens"
)

// InitiateParamUpdate schedules a pending update for a single-value governed
// parameter, executable after the update delay in effect right now. Critical
// parameters route through the stronger rule: CriticalOps capability and a
// paused hub.
func (h *Hub) InitiateParamUpdate(caller crypto.Address, now chaintime.Time, name params.Name, newValue uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !name.Valid() {
		return params.ErrUnknownParameter
	}
	op := OpInitiateParamUpdate
	if name.Critical() {
		op = OpInitiateCriticalParamUpdate
	}
	if err := h.table.Check(h.authority, op, caller, h.paused); err != nil {
		return err
	}

	value, err := h.params.Get(name)
	if err != nil {
		return err
	}
	delay, err := h.params.Current(params.UpdateDelay)
	if err != nil {
		return err
	}
	if err := value.Initiate(newValue, now, chaintime.Period(delay)); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.params.Put(batch, name, value); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindParamUpdateInitiated, ParamUpdateEvent{
		Name: string(name), Value: newValue, UpdateAt: value.UpdateAt, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// ExecuteParamUpdate commits a matured pending update. Permissionless and
// callable in any pause state; the timelock itself is the protection.
func (h *Hub) ExecuteParamUpdate(caller crypto.Address, now chaintime.Time, name params.Name) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !name.Valid() {
		return params.ErrUnknownParameter
	}
	if err := h.table.Check(h.authority, OpExecuteParamUpdate, caller, h.paused); err != nil {
		return err
	}

	value, err := h.params.Get(name)
	if err != nil {
		return err
	}
	if err := value.Execute(now); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.params.Put(batch, name, value); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindParamUpdateExecuted, ParamUpdateEvent{
		Name: string(name), Value: value.Current, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// InitiateFeeFactorUpdate schedules an update to a chain's validator fee
// factor under the same timelock as single-value parameters.
func (h *Hub) InitiateFeeFactorUpdate(caller crypto.Address, now chaintime.Time, chainID uint64, newValue uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpInitiateParamUpdate, caller, h.paused); err != nil {
		return err
	}

	value, err := h.params.GetChain(chainID, params.ValidatorFeeFactor)
	if errors.Is(err, params.ErrUnknownParameter) {
		return chains.ErrNotRegistered
	}
	if err != nil {
		return err
	}
	delay, err := h.params.Current(params.UpdateDelay)
	if err != nil {
		return err
	}
	if err := value.Initiate(newValue, now, chaintime.Period(delay)); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.params.PutChain(batch, chainID, params.ValidatorFeeFactor, value); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindChainParamUpdateInitiated, ParamUpdateEvent{
		Name: string(params.ValidatorFeeFactor), ChainID: chainID,
		Value: newValue, UpdateAt: value.UpdateAt, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// ExecuteFeeFactorUpdate commits a matured fee factor update.
func (h *Hub) ExecuteFeeFactorUpdate(caller crypto.Address, now chaintime.Time, chainID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpExecuteParamUpdate, caller, h.paused); err != nil {
		return err
	}

	value, err := h.params.GetChain(chainID, params.ValidatorFeeFactor)
	if errors.Is(err, params.ErrUnknownParameter) {
		return chains.ErrNotRegistered
	}
	if err != nil {
		return err
	}
	if err := value.Execute(now); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.params.PutChain(batch, chainID, params.ValidatorFeeFactor, value); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindChainParamUpdateExecuted, ParamUpdateEvent{
		Name: string(params.ValidatorFeeFactor), ChainID: chainID,
		Value: value.Current, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// RegisterBlockchain adds an external chain and creates its validator fee
// factor parameter. Registering an already known chain ID fails, active or
// not.
func (h *Hub) RegisterBlockchain(caller crypto.Address, now chaintime.Time, chainID uint64, name string, feeFactor uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpRegisterBlockchain, caller, h.paused); err != nil {
		return err
	}
	exists, err := h.chains.Exists(chainID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: chain %d", ErrChainExists, chainID)
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.chains.Put(batch, chainID, chains.Record{Active: true, Name: name}); err != nil {
		return err
	}
	if err := h.params.PutChain(batch, chainID, params.ValidatorFeeFactor,
		params.NewGovernedValue(feeFactor)); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindBlockchainRegistered, BlockchainEvent{
		ChainID: chainID, Name: name, FeeFactor: feeFactor, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// UnregisterBlockchain deactivates a chain. The record and its fee factor
// state persist for historical reads; the local chain is never removable.
func (h *Hub) UnregisterBlockchain(caller crypto.Address, now chaintime.Time, chainID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpUnregisterBlockchain, caller, h.paused); err != nil {
		return err
	}
	if chainID == h.chainID {
		return ErrLocalChain
	}
	rec, err := h.chains.Get(chainID)
	if err != nil {
		return err
	}
	rec.Active = false

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.chains.Put(batch, chainID, rec); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindBlockchainUnregistered, BlockchainEvent{
		ChainID: chainID, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// RegisterToken registers a local token under an owner who may manage its
// external mappings. Re-registering an active token fails; a previously
// unregistered token may be registered afresh.
func (h *Hub) RegisterToken(caller crypto.Address, now chaintime.Time, tok, owner crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpRegisterToken, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.tokens.Get(tok)
	if err != nil && !errors.Is(err, tokens.ErrNotRegistered) {
		return err
	}
	if err == nil && rec.Active {
		return fmt.Errorf("%w: %s", ErrTokenExists, tok)
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.tokens.Put(batch, tok, tokens.Record{Active: true, Owner: owner}); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindTokenRegistered, TokenEvent{
		Token: tok, Owner: owner, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// UnregisterToken deactivates a token. Callable by the token owner or
// Governance.
func (h *Hub) UnregisterToken(caller crypto.Address, now chaintime.Time, tok crypto.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpUnregisterToken, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := h.ownerOrGovernance(caller, rec.Owner); err != nil {
		return err
	}
	rec.Active = false

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.tokens.Put(batch, tok, rec); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindTokenUnregistered, TokenEvent{
		Token: tok, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// SetExternalToken maps a local token to its counterpart address on a
// registered external chain. Owner or Governance.
func (h *Hub) SetExternalToken(caller crypto.Address, now chaintime.Time, tok crypto.Address, chainID uint64, externalToken string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpSetExternalToken, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := h.ownerOrGovernance(caller, rec.Owner); err != nil {
		return err
	}
	exists, err := h.chains.Exists(chainID)
	if err != nil {
		return err
	}
	if !exists {
		return chains.ErrNotRegistered
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.tokens.PutExternal(batch, tok, chainID, tokens.ExternalRecord{
		Active: true, ExternalToken: externalToken,
	}); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindExternalTokenSet, TokenEvent{
		Token: tok, ChainID: chainID, ExternalToken: externalToken, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// UnsetExternalToken deactivates an external mapping. Owner or Governance.
func (h *Hub) UnsetExternalToken(caller crypto.Address, now chaintime.Time, tok crypto.Address, chainID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, OpUnsetExternalToken, caller, h.paused); err != nil {
		return err
	}
	rec, err := h.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := h.ownerOrGovernance(caller, rec.Owner); err != nil {
		return err
	}
	ext, err := h.tokens.GetExternal(tok, chainID)
	if err != nil {
		return err
	}
	ext.Active = false

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := h.tokens.PutExternal(batch, tok, chainID, ext); err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindExternalTokenUnset, TokenEvent{
		Token: tok, ChainID: chainID, Caller: caller,
	}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// AddValidator adds a validator node to the quorum membership. Available
// while paused so the set can be repaired during an incident.
func (h *Hub) AddValidator(caller crypto.Address, now chaintime.Time, validator crypto.Address) error {
	return h.changeValidator(caller, now, validator, OpAddValidator, outbox.KindValidatorAdded)
}

// RemoveValidator ejects a validator node. Available while paused.
func (h *Hub) RemoveValidator(caller crypto.Address, now chaintime.Time, validator crypto.Address) error {
	return h.changeValidator(caller, now, validator, OpRemoveValidator, outbox.KindValidatorRemoved)
}

func (h *Hub) changeValidator(caller crypto.Address, now chaintime.Time, validator crypto.Address, op string, kind outbox.Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, op, caller, h.paused); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if op == OpAddValidator {
		err = h.validators.Add(batch, validator)
	} else {
		err = h.validators.Remove(batch, validator)
	}
	if err != nil {
		return err
	}
	if err := ap.Append(now, kind, ValidatorEvent{Validator: validator, Caller: caller}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// GrantRole grants a capability to an address. CriticalOps only.
func (h *Hub) GrantRole(caller crypto.Address, now chaintime.Time, addr crypto.Address, c auth.Capability) error {
	return h.changeRole(caller, now, addr, c, OpGrantRole, outbox.KindRoleGranted)
}

// RevokeRole removes a capability grant. CriticalOps only.
func (h *Hub) RevokeRole(caller crypto.Address, now chaintime.Time, addr crypto.Address, c auth.Capability) error {
	return h.changeRole(caller, now, addr, c, OpRevokeRole, outbox.KindRoleRevoked)
}

func (h *Hub) changeRole(caller crypto.Address, now chaintime.Time, addr crypto.Address, c auth.Capability, op string, kind outbox.Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, op, caller, h.paused); err != nil {
		return err
	}

	batch, ap, err := h.begin()
	if err != nil {
		return err
	}
	defer batch.Close()

	if op == OpGrantRole {
		err = h.authority.Grant(batch, addr, c)
	} else {
		err = h.authority.Revoke(batch, addr, c)
	}
	if err != nil {
		return err
	}
	if err := ap.Append(now, kind, RoleEvent{Address: addr, Capability: string(c), Caller: caller}); err != nil {
		return err
	}
	return h.commit(batch, ap)
}

// ConsumeCallNonce consumes a governance call envelope's nonce from the
// caller's sender-nonce space, in its own batch before the call dispatches.
// The nonce stays consumed even if the dispatched operation fails, the same
// soft policy forwarding applies to ledger failures.
func (h *Hub) ConsumeCallNonce(caller crypto.Address, callNonce uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	valid, err := h.nonces.IsValidSenderNonce(caller, callNonce)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: call nonce %d for %s", nonce.ErrReplayed, callNonce, caller)
	}

	batch := h.db.NewBatch()
	defer batch.Close()
	if err := h.nonces.ConsumeSender(batch, caller, callNonce); err != nil {
		return err
	}
	return batch.Commit()
}

func (h *Hub) ownerOrGovernance(caller, owner crypto.Address) error {
	if caller == owner {
		return nil
	}
	ok, err := h.authority.HasCapability(caller, auth.CapabilityGovernance)
	if err != nil {
		return fmt.Errorf("capability check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: requires token owner or governance", auth.ErrUnauthorized)
	}
	return nil
}
