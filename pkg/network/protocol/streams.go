package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
)

// StreamKind is the first byte of every stream and selects its handler.
type StreamKind byte

const (
	// StreamKindSubmitTransfer carries signed transfer and outbound transfer
	// requests from service nodes.
	StreamKindSubmitTransfer StreamKind = 0x01

	// StreamKindSubmitSettlement carries validator-attested inbound
	// settlements.
	StreamKindSubmitSettlement StreamKind = 0x02

	// StreamKindGovernanceCall carries signed governance and service-node
	// lifecycle calls.
	StreamKindGovernanceCall StreamKind = 0x03

	// StreamKindStateRequest serves read-only state queries.
	StreamKindStateRequest StreamKind = 0x04

	// StreamKindEventStream streams the outbox, catch-up then live.
	StreamKindEventStream StreamKind = 0x05
)

// writableKinds are the stream kinds refused on observer connections.
var writableKinds = map[StreamKind]bool{
	StreamKindSubmitTransfer:   true,
	StreamKindSubmitSettlement: true,
	StreamKindGovernanceCall:   true,
}

// IsWritable reports whether streams of this kind mutate hub state.
func (k StreamKind) IsWritable() bool {
	return writableKinds[k]
}

// StreamHandler processes individual QUIC streams within a connection.
type StreamHandler interface {
	HandleStream(ctx context.Context, stream quic.Stream) error
}

// Registry maps stream kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[StreamKind]StreamHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[StreamKind]StreamHandler),
	}
}

// RegisterHandler associates a stream handler with a stream kind. Called
// during node startup to declare which kinds this node serves.
func (r *Registry) RegisterHandler(kind StreamKind, handler StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// GetHandler retrieves the handler for a stream kind.
func (r *Registry) GetHandler(kind StreamKind) (StreamHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler for stream kind %d", kind)
	}
	return handler, nil
}
