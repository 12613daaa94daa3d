package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/eigerco/cloudberry/internal/auth"
	"github.com/eigerco/cloudberry/internal/chains"
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/nonce"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/params"
	"github.com/eigerco/cloudberry/internal/servicenode"
	"github.com/eigerco/cloudberry/internal/token"
	"github.com/eigerco/cloudberry/internal/tokens"
	"github.com/eigerco/cloudberry/internal/validators"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/log"
)

// Operation names, the keys of the authorization table. The network layer
// uses the same names as governance call methods.
const (
	OpPause   = "pause"
	OpUnpause = "unpause"

	OpInitiateParamUpdate         = "initiate_param_update"
	OpInitiateCriticalParamUpdate = "initiate_critical_param_update"
	OpExecuteParamUpdate          = "execute_param_update"

	OpRegisterBlockchain   = "register_blockchain"
	OpUnregisterBlockchain = "unregister_blockchain"

	OpRegisterToken      = "register_token"
	OpUnregisterToken    = "unregister_token"
	OpSetExternalToken   = "set_external_token"
	OpUnsetExternalToken = "unset_external_token"

	OpAddValidator    = "add_validator"
	OpRemoveValidator = "remove_validator"
	OpGrantRole       = "grant_role"
	OpRevokeRole      = "revoke_role"

	OpCommitHash            = "commit_hash"
	OpRegisterServiceNode   = "register_service_node"
	OpUnregisterServiceNode = "unregister_service_node"
	OpWithdrawDeposit       = "withdraw_deposit"
	OpCancelUnregistration  = "cancel_unregistration"
	OpIncreaseDeposit       = "increase_deposit"
	OpDecreaseDeposit       = "decrease_deposit"
	OpUpdateURL             = "update_url"

	OpSubmitTransfer     = "submit_transfer"
	OpSubmitTransferFrom = "submit_transfer_from"
	OpSubmitTransferTo   = "submit_transfer_to"
)

// operationTable is the full authorization surface in one place. While the
// hub is paused only the explicit emergency allowlist stays open: unpausing,
// parameter execution, critical-parameter initiation and validator
// membership changes.
func operationTable() *auth.Table {
	return auth.NewTable(map[string]auth.Rule{
		OpPause:   {Capability: auth.CapabilityPauser, Pause: auth.RequiresActive},
		OpUnpause: {Capability: auth.CapabilityPauser, Pause: auth.RequiresPaused},

		OpInitiateParamUpdate:         {Capability: auth.CapabilityGovernance, Pause: auth.RequiresActive},
		OpInitiateCriticalParamUpdate: {Capability: auth.CapabilityCriticalOps, Pause: auth.RequiresPaused},
		OpExecuteParamUpdate:          {Capability: auth.CapabilityNone, Pause: auth.Any},

		OpRegisterBlockchain:   {Capability: auth.CapabilityGovernance, Pause: auth.RequiresActive},
		OpUnregisterBlockchain: {Capability: auth.CapabilityGovernance, Pause: auth.RequiresActive},

		// Token management admits the token owner as well; the owner check
		// happens in the operation, the table only gates the pause state.
		OpRegisterToken:      {Capability: auth.CapabilityGovernance, Pause: auth.RequiresActive},
		OpUnregisterToken:    {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpSetExternalToken:   {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpUnsetExternalToken: {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},

		OpAddValidator:    {Capability: auth.CapabilityCriticalOps, Pause: auth.Any},
		OpRemoveValidator: {Capability: auth.CapabilityCriticalOps, Pause: auth.Any},
		OpGrantRole:       {Capability: auth.CapabilityCriticalOps, Pause: auth.RequiresActive},
		OpRevokeRole:      {Capability: auth.CapabilityCriticalOps, Pause: auth.RequiresActive},

		OpCommitHash:            {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpRegisterServiceNode:   {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpUnregisterServiceNode: {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpWithdrawDeposit:       {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpCancelUnregistration:  {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpIncreaseDeposit:       {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpDecreaseDeposit:       {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpUpdateURL:             {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},

		OpSubmitTransfer:     {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpSubmitTransferFrom: {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
		OpSubmitTransferTo:   {Capability: auth.CapabilityNone, Pause: auth.RequiresActive},
	})
}

const prefixMeta byte = 0x01

const schemaVersion byte = 1

func metaKey(name string) []byte {
	k := make([]byte, 1+len(name))
	k[0] = prefixMeta
	copy(k[1:], name)
	return k
}

// Genesis is the initial hub state written by Bootstrap.
type Genesis struct {
	ChainID       uint64         `toml:"chain_id" json:"chainId"`
	ChainName     string         `toml:"chain_name" json:"chainName"`
	Forwarder     crypto.Address `toml:"-" json:"forwarder"`
	ProtocolToken crypto.Address `toml:"-" json:"protocolToken"`

	UpdateDelay                uint64 `toml:"update_delay" json:"updateDelay"`
	MinServiceNodeDeposit      uint64 `toml:"min_service_node_deposit" json:"minServiceNodeDeposit"`
	ServiceNodeUnbondingPeriod uint64 `toml:"service_node_unbonding_period" json:"serviceNodeUnbondingPeriod"`
	CommitmentWaitPeriod       uint64 `toml:"commitment_wait_period" json:"commitmentWaitPeriod"`
	MinValidatorSignatures     uint64 `toml:"min_validator_signatures" json:"minValidatorSignatures"`
	LocalFeeFactor             uint64 `toml:"local_fee_factor" json:"localFeeFactor"`

	Pausers     []crypto.Address `toml:"-" json:"pausers"`
	Governors   []crypto.Address `toml:"-" json:"governors"`
	CriticalOps []crypto.Address `toml:"-" json:"criticalOps"`
	Validators  []crypto.Address `toml:"-" json:"validators"`
}

func (g *Genesis) validate() error {
	if g.ChainName == "" {
		return fmt.Errorf("%w: empty chain name", ErrInvalidGenesis)
	}
	if g.Forwarder.IsZero() {
		return fmt.Errorf("%w: zero forwarder address", ErrInvalidGenesis)
	}
	if g.MinValidatorSignatures == 0 {
		return fmt.Errorf("%w: zero settlement quorum", ErrInvalidGenesis)
	}
	if g.LocalFeeFactor == 0 {
		return fmt.Errorf("%w: zero local fee factor", ErrInvalidGenesis)
	}
	return nil
}

// Hub is the composition root: one pebble store, the registries over it, the
// nonce ledger, the outbox and the authorization table. Every public mutation
// takes the caller and the current time as explicit inputs, checks the
// authorization table, validates against current state and commits one atomic
// batch with its events; the mutex serializes mutations so event sequence
// numbers are assigned without races.
type Hub struct {
	mu sync.Mutex

	db          db.KVStore
	params      *params.Store
	nonces      *nonce.Ledger
	chains      *chains.Registry
	tokens      *tokens.Registry
	validators  *validators.Set
	nodes       *servicenode.Registry
	outbox      *outbox.Outbox
	broadcaster *outbox.Broadcaster
	authority   *auth.StoreAuthority
	table       *auth.Table
	ledgers     token.Resolver

	chainID       uint64
	forwarder     crypto.Address
	protocolToken crypto.Address
	paused        bool
}

// New builds a hub over an open store. Call Bootstrap on an empty store or
// Load on a bootstrapped one before invoking operations.
func New(kv db.KVStore, ledgers token.Resolver) *Hub {
	return &Hub{
		db:          kv,
		params:      params.NewStore(kv),
		nonces:      nonce.NewLedger(kv),
		chains:      chains.NewRegistry(kv),
		tokens:      tokens.NewRegistry(kv),
		validators:  validators.NewSet(kv),
		nodes:       servicenode.NewRegistry(kv),
		outbox:      outbox.NewOutbox(kv),
		broadcaster: outbox.NewBroadcaster(),
		authority:   auth.NewStoreAuthority(kv),
		table:       operationTable(),
		ledgers:     ledgers,
	}
}

// Bootstrapped reports whether the store holds genesis state.
func (h *Hub) Bootstrapped() (bool, error) {
	_, err := h.db.Get(metaKey("genesis"))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read genesis marker: %w", err)
	}
	return true, nil
}

// Bootstrap writes the genesis state: the local chain record and its fee
// factor, initial governed parameter values, role grants, the validator set
// and the protocol token binding, all in one batch ending in a genesis event.
// Fails on a store that already holds genesis.
func (h *Hub) Bootstrap(genesis Genesis, now chaintime.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	done, err := h.Bootstrapped()
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadyBootstrapped
	}
	if err := genesis.validate(); err != nil {
		return err
	}

	batch := h.db.NewBatch()
	defer batch.Close()

	if err := batch.Put(metaKey("schema"), []byte{schemaVersion}); err != nil {
		return fmt.Errorf("stage schema version: %w", err)
	}
	var chainRaw [8]byte
	binary.BigEndian.PutUint64(chainRaw[:], genesis.ChainID)
	if err := batch.Put(metaKey("chain"), chainRaw[:]); err != nil {
		return fmt.Errorf("stage chain id: %w", err)
	}
	if err := batch.Put(metaKey("paused"), []byte{0}); err != nil {
		return fmt.Errorf("stage pause flag: %w", err)
	}
	if err := batch.Put(metaKey("forwarder"), genesis.Forwarder[:]); err != nil {
		return fmt.Errorf("stage forwarder address: %w", err)
	}
	if err := batch.Put(metaKey("token"), genesis.ProtocolToken[:]); err != nil {
		return fmt.Errorf("stage protocol token: %w", err)
	}

	if err := h.chains.Put(batch, genesis.ChainID, chains.Record{Active: true, Name: genesis.ChainName}); err != nil {
		return err
	}
	if err := h.params.PutChain(batch, genesis.ChainID, params.ValidatorFeeFactor,
		params.NewGovernedValue(genesis.LocalFeeFactor)); err != nil {
		return err
	}

	initial := map[params.Name]uint64{
		params.UpdateDelay:                genesis.UpdateDelay,
		params.MinServiceNodeDeposit:      genesis.MinServiceNodeDeposit,
		params.ServiceNodeUnbondingPeriod: genesis.ServiceNodeUnbondingPeriod,
		params.CommitmentWaitPeriod:       genesis.CommitmentWaitPeriod,
		params.MinValidatorSignatures:     genesis.MinValidatorSignatures,
	}
	for _, name := range params.SingleNames() {
		if err := h.params.Put(batch, name, params.NewGovernedValue(initial[name])); err != nil {
			return err
		}
	}

	for _, addr := range genesis.Pausers {
		if err := h.authority.Grant(batch, addr, auth.CapabilityPauser); err != nil {
			return err
		}
	}
	for _, addr := range genesis.Governors {
		if err := h.authority.Grant(batch, addr, auth.CapabilityGovernance); err != nil {
			return err
		}
	}
	for _, addr := range genesis.CriticalOps {
		if err := h.authority.Grant(batch, addr, auth.CapabilityCriticalOps); err != nil {
			return err
		}
	}
	for _, addr := range genesis.Validators {
		if err := h.validators.Add(batch, addr); err != nil {
			return err
		}
	}

	ap, err := h.outbox.NewAppender(batch)
	if err != nil {
		return err
	}
	if err := ap.Append(now, outbox.KindGenesis, GenesisEvent{
		ChainID:   genesis.ChainID,
		ChainName: genesis.ChainName,
		Forwarder: genesis.Forwarder,
	}); err != nil {
		return err
	}
	if err := batch.Put(metaKey("genesis"), []byte{1}); err != nil {
		return fmt.Errorf("stage genesis marker: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	h.chainID = genesis.ChainID
	h.forwarder = genesis.Forwarder
	h.protocolToken = genesis.ProtocolToken
	h.paused = false
	h.broadcaster.Publish(ap.Events()...)

	log.Hub.Info().Uint64("chain", genesis.ChainID).Str("name", genesis.ChainName).
		Msg("bootstrapped hub store")
	return nil
}

// Load restores the cached meta fields from a bootstrapped store.
func (h *Hub) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	done, err := h.Bootstrapped()
	if err != nil {
		return err
	}
	if !done {
		return ErrNotBootstrapped
	}

	chainRaw, err := h.db.Get(metaKey("chain"))
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	h.chainID = binary.BigEndian.Uint64(chainRaw)

	forwarderRaw, err := h.db.Get(metaKey("forwarder"))
	if err != nil {
		return fmt.Errorf("read forwarder address: %w", err)
	}
	copy(h.forwarder[:], forwarderRaw)

	tokenRaw, err := h.db.Get(metaKey("token"))
	if err != nil {
		return fmt.Errorf("read protocol token: %w", err)
	}
	copy(h.protocolToken[:], tokenRaw)

	pausedRaw, err := h.db.Get(metaKey("paused"))
	if err != nil {
		return fmt.Errorf("read pause flag: %w", err)
	}
	h.paused = len(pausedRaw) == 1 && pausedRaw[0] == 1

	log.Hub.Info().Uint64("chain", h.chainID).Bool("paused", h.paused).
		Msg("loaded hub store")
	return nil
}

// Pause halts all mutating operations outside the emergency allowlist.
func (h *Hub) Pause(caller crypto.Address, now chaintime.Time) error {
	return h.setPaused(caller, now, OpPause, true, outbox.KindPaused)
}

// Unpause resumes normal operation.
func (h *Hub) Unpause(caller crypto.Address, now chaintime.Time) error {
	return h.setPaused(caller, now, OpUnpause, false, outbox.KindUnpaused)
}

func (h *Hub) setPaused(caller crypto.Address, now chaintime.Time, op string, paused bool, kind outbox.Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.table.Check(h.authority, op, caller, h.paused); err != nil {
		return err
	}

	batch := h.db.NewBatch()
	defer batch.Close()

	flag := byte(0)
	if paused {
		flag = 1
	}
	if err := batch.Put(metaKey("paused"), []byte{flag}); err != nil {
		return fmt.Errorf("stage pause flag: %w", err)
	}
	ap, err := h.outbox.NewAppender(batch)
	if err != nil {
		return err
	}
	if err := ap.Append(now, kind, PauseEvent{Caller: caller}); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit pause change: %w", err)
	}

	h.paused = paused
	h.broadcaster.Publish(ap.Events()...)
	log.Hub.Warn().Bool("paused", paused).Stringer("caller", caller).Msg("pause state changed")
	return nil
}

// Paused reports the cached pause state.
func (h *Hub) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Broadcaster exposes the live event fan-out for subscribers.
func (h *Hub) Broadcaster() *outbox.Broadcaster {
	return h.broadcaster
}

// forwarder.State implementation. Verification reads state through these so
// the same code backs standalone views and the forwarding paths.

func (h *Hub) LocalChainID() uint64 {
	return h.chainID
}

func (h *Hub) ForwarderAddress() crypto.Address {
	return h.forwarder
}

// ProtocolToken returns the deposit token bound at genesis.
func (h *Hub) ProtocolToken() crypto.Address {
	return h.protocolToken
}

func (h *Hub) IsChainActive(chainID uint64) (bool, error) {
	return h.chains.IsActive(chainID)
}

func (h *Hub) IsTokenActive(tok crypto.Address) (bool, error) {
	return h.tokens.IsActive(tok)
}

func (h *Hub) IsExternalTokenActive(tok crypto.Address, chainID uint64) (bool, error) {
	return h.tokens.IsExternalActive(tok, chainID)
}

func (h *Hub) IsValidSenderNonce(sender crypto.Address, n uint64) (bool, error) {
	return h.nonces.IsValidSenderNonce(sender, n)
}

func (h *Hub) IsValidValidatorNonce(n uint64) (bool, error) {
	return h.nonces.IsValidValidatorNonce(n)
}

func (h *Hub) IsValidatorNode(addr crypto.Address) (bool, error) {
	return h.validators.IsRegistered(addr)
}

func (h *Hub) ValidatorFeeFactor(chainID uint64) (uint64, error) {
	v, err := h.params.GetChain(chainID, params.ValidatorFeeFactor)
	if err != nil {
		return 0, err
	}
	return v.Current, nil
}

func (h *Hub) MinValidatorSignatures() (uint64, error) {
	return h.params.Current(params.MinValidatorSignatures)
}

// Read accessors for the state-query and HTTP surfaces.

func (h *Hub) Param(name params.Name) (params.GovernedValue, error) {
	return h.params.Get(name)
}

func (h *Hub) ChainParam(chainID uint64, name params.Name) (params.GovernedValue, error) {
	return h.params.GetChain(chainID, name)
}

func (h *Hub) Chain(chainID uint64) (chains.Record, error) {
	return h.chains.Get(chainID)
}

func (h *Hub) Chains() ([]chains.ListEntry, error) {
	return h.chains.List()
}

func (h *Hub) Token(tok crypto.Address) (tokens.Record, error) {
	return h.tokens.Get(tok)
}

func (h *Hub) Tokens() ([]tokens.ListEntry, error) {
	return h.tokens.List()
}

func (h *Hub) ExternalToken(tok crypto.Address, chainID uint64) (tokens.ExternalRecord, error) {
	return h.tokens.GetExternal(tok, chainID)
}

func (h *Hub) Validators() ([]crypto.Address, error) {
	return h.validators.List()
}

func (h *Hub) ServiceNode(node crypto.Address) (servicenode.Record, error) {
	return h.nodes.Get(node)
}

func (h *Hub) ServiceNodes() ([]servicenode.ListEntry, error) {
	return h.nodes.List()
}

// CustodyBalance returns the forwarder's balance on a token's ledger.
func (h *Hub) CustodyBalance(ctx context.Context, tok crypto.Address) (*big.Int, error) {
	ledger, err := h.ledgers.Resolve(tok)
	if err != nil {
		return nil, err
	}
	return ledger.BalanceOf(ctx, h.forwarder)
}

func (h *Hub) Events(fromSeq uint64, limit int) ([]outbox.Event, error) {
	return h.outbox.Read(fromSeq, limit)
}

func (h *Hub) EventHead() (uint64, error) {
	return h.outbox.Head()
}

// Status is the operational summary served by the HTTP API.
type Status struct {
	ChainID      uint64 `json:"chainId"`
	Paused       bool   `json:"paused"`
	EventHead    uint64 `json:"eventHead"`
	Chains       int    `json:"chains"`
	Tokens       int    `json:"tokens"`
	Validators   int    `json:"validators"`
	ServiceNodes int    `json:"serviceNodes"`
}

// Status summarizes the hub for the HTTP status endpoint.
func (h *Hub) Status() (Status, error) {
	head, err := h.outbox.Head()
	if err != nil {
		return Status{}, err
	}
	chainList, err := h.chains.List()
	if err != nil {
		return Status{}, err
	}
	tokenList, err := h.tokens.List()
	if err != nil {
		return Status{}, err
	}
	validatorCount, err := h.validators.Count()
	if err != nil {
		return Status{}, err
	}
	nodeList, err := h.nodes.List()
	if err != nil {
		return Status{}, err
	}
	return Status{
		ChainID:      h.chainID,
		Paused:       h.Paused(),
		EventHead:    head,
		Chains:       len(chainList),
		Tokens:       len(tokenList),
		Validators:   validatorCount,
		ServiceNodes: len(nodeList),
	}, nil
}

// begin opens a batch with an event appender positioned at the outbox head.
// Callers hold h.mu.
func (h *Hub) begin() (db.Batch, *outbox.Appender, error) {
	batch := h.db.NewBatch()
	ap, err := h.outbox.NewAppender(batch)
	if err != nil {
		batch.Close()
		return nil, nil, err
	}
	return batch, ap, nil
}

// commit commits the batch and publishes its events to live subscribers.
func (h *Hub) commit(batch db.Batch, ap *outbox.Appender) error {
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit operation batch: %w", err)
	}
	h.broadcaster.Publish(ap.Events()...)
	return nil
}
