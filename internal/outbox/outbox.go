package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/pkg/db"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/serialization"
	"github.com/eigerco/cloudberry/pkg/serialization/codec"
)

const prefixOutbox byte = 0x0e

var ser = serialization.NewSerializer(&codec.CBORCodec{})

// Event is one entry of the hub's append-only audit log. Every state
// transition appends exactly one event in the same batch as the mutation it
// describes, so the log order is the mutation order and external indexers
// (validator nodes, explorers) can rely on it as the sole source of truth.
type Event struct {
	Seq  uint64         `cbor:"1,keyasint" json:"seq"`
	Time chaintime.Time `cbor:"2,keyasint" json:"time"`
	Kind Kind           `cbor:"3,keyasint" json:"kind"`
	Data []byte         `cbor:"4,keyasint" json:"data"`
}

// Kind names the state transition an event describes.
type Kind string

const (
	KindGenesis  Kind = "genesis"
	KindPaused   Kind = "paused"
	KindUnpaused Kind = "unpaused"

	KindParamUpdateInitiated      Kind = "param_update_initiated"
	KindParamUpdateExecuted       Kind = "param_update_executed"
	KindChainParamUpdateInitiated Kind = "chain_param_update_initiated"
	KindChainParamUpdateExecuted  Kind = "chain_param_update_executed"

	KindBlockchainRegistered   Kind = "blockchain_registered"
	KindBlockchainUnregistered Kind = "blockchain_unregistered"

	KindTokenRegistered    Kind = "token_registered"
	KindTokenUnregistered  Kind = "token_unregistered"
	KindExternalTokenSet   Kind = "external_token_set"
	KindExternalTokenUnset Kind = "external_token_unset"

	KindValidatorAdded   Kind = "validator_added"
	KindValidatorRemoved Kind = "validator_removed"

	KindRoleGranted Kind = "role_granted"
	KindRoleRevoked Kind = "role_revoked"

	KindHashCommitted                      Kind = "hash_committed"
	KindServiceNodeRegistered              Kind = "service_node_registered"
	KindServiceNodeUnregistered            Kind = "service_node_unregistered"
	KindServiceNodeDepositWithdrawn        Kind = "service_node_deposit_withdrawn"
	KindServiceNodeUnregistrationCancelled Kind = "service_node_unregistration_cancelled"
	KindServiceNodeDepositIncreased        Kind = "service_node_deposit_increased"
	KindServiceNodeDepositDecreased        Kind = "service_node_deposit_decreased"
	KindServiceNodeURLUpdated              Kind = "service_node_url_updated"

	KindTransferAccepted     Kind = "transfer_accepted"
	KindTransferExecuted     Kind = "transfer_executed"
	KindTransferFailed       Kind = "transfer_failed"
	KindTransferFromAccepted Kind = "transfer_from_accepted"
	KindTransferFromExecuted Kind = "transfer_from_executed"
	KindTransferFromFailed   Kind = "transfer_from_failed"
	KindSettlementExecuted   Kind = "settlement_executed"
)

// Outbox persists the event log in the shared hub store under ordinal keys.
type Outbox struct {
	db db.KVStore
}

func NewOutbox(kv db.KVStore) *Outbox {
	return &Outbox{db: kv}
}

func headKey() []byte {
	return []byte{prefixOutbox}
}

func eventKey(seq uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = prefixOutbox
	binary.BigEndian.PutUint64(k[1:], seq)
	return k
}

// Head returns the sequence number the next event will be assigned, which is
// also the count of events appended so far.
func (o *Outbox) Head() (uint64, error) {
	raw, err := o.db.Get(headKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read outbox head: %w", err)
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Read returns up to limit events starting at fromSeq.
func (o *Outbox) Read(fromSeq uint64, limit int) ([]Event, error) {
	iter, err := o.db.NewIterator(eventKey(fromSeq), []byte{prefixOutbox + 1})
	if err != nil {
		return nil, fmt.Errorf("create outbox iterator: %w", err)
	}
	defer iter.Close()

	var events []Event
	for iter.Next() {
		if limit > 0 && len(events) >= limit {
			break
		}
		if len(iter.Key()) != 1+8 {
			continue
		}
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read outbox event: %w", err)
		}
		var e Event
		if err := ser.Decode(raw, &e); err != nil {
			return nil, fmt.Errorf("decode outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Appender stages events on one operation's batch. Sequence numbers are
// assigned from the head read at creation, so all events of an operation
// land contiguously and the head advances atomically with the mutation.
type Appender struct {
	batch  db.Batch
	next   uint64
	events []Event
}

// NewAppender creates an appender positioned at the current head.
func (o *Outbox) NewAppender(batch db.Batch) (*Appender, error) {
	head, err := o.Head()
	if err != nil {
		return nil, err
	}
	return &Appender{batch: batch, next: head}, nil
}

// Append stages one event. The payload is CBOR-encoded into Event.Data.
func (a *Appender) Append(now chaintime.Time, kind Kind, payload interface{}) error {
	data, err := ser.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	e := Event{Seq: a.next, Time: now, Kind: kind, Data: data}
	raw, err := ser.Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := a.batch.Put(eventKey(e.Seq), raw); err != nil {
		return fmt.Errorf("stage event: %w", err)
	}

	a.next++
	var head [8]byte
	binary.BigEndian.PutUint64(head[:], a.next)
	if err := a.batch.Put(headKey(), head[:]); err != nil {
		return fmt.Errorf("stage outbox head: %w", err)
	}

	a.events = append(a.events, e)
	return nil
}

// Events returns the staged events, for publishing after the batch commits.
func (a *Appender) Events() []Event {
	return a.events
}
