// Package protocol implements the node wire protocol on top of the QUIC
// transport: ALPN negotiation bound to the chain ID, a stream-kind registry
// and per-connection stream dispatch.
package protocol

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/eigerco/cloudberry/pkg/log"
	"github.com/eigerco/cloudberry/pkg/network/transport"
)

// Config configures a protocol Manager.
type Config struct {
	// ChainID identifies the local chain; negotiated via ALPN.
	ChainID uint64
	// AcceptObservers allows read-only observer connections.
	AcceptObservers bool
}

// Manager implements transport.ConnectionHandler. It validates negotiated
// protocols, wraps accepted connections and runs their stream loops.
type Manager struct {
	Registry *Registry
	config   Config

	mu    sync.Mutex
	conns map[*transport.Conn]*ProtocolConn
}

// NewManager creates a protocol Manager with an empty handler registry.
func NewManager(config Config) *Manager {
	return &Manager{
		Registry: NewRegistry(),
		config:   config,
		conns:    make(map[*transport.Conn]*ProtocolConn),
	}
}

// OnConnection wraps a new transport connection and starts its stream loop.
// Implements the transport.ConnectionHandler interface.
func (m *Manager) OnConnection(conn *transport.Conn) error {
	observer := false
	if state := conn.QConn.ConnectionState(); state.TLS.NegotiatedProtocol != "" {
		id, err := ParseProtocolID(state.TLS.NegotiatedProtocol)
		if err != nil {
			return err
		}
		observer = id.Observer
	}

	protoConn := NewProtocolConn(conn, m.Registry, observer)

	m.mu.Lock()
	m.conns[conn] = protoConn
	m.mu.Unlock()

	go m.handleStreams(conn, protoConn)
	return nil
}

// Conn returns the protocol connection wrapping a transport connection, as
// created by OnConnection. Used by the dialing side to open streams.
func (m *Manager) Conn(conn *transport.Conn) *ProtocolConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[conn]
}

// handleStreams accepts streams until the connection dies.
func (m *Manager) handleStreams(tConn *transport.Conn, protoConn *ProtocolConn) {
	defer func() {
		m.mu.Lock()
		delete(m.conns, tConn)
		m.mu.Unlock()
		protoConn.Close()
	}()

	for {
		if err := protoConn.AcceptStream(); err != nil {
			if protoConn.Context().Err() != nil {
				return
			}
			if isTimeoutError(err) {
				log.Network.Debug().Msg("connection timed out")
				return
			}
			log.Network.Debug().Err(err).Msg("accept stream")
			continue
		}
	}
}

func isTimeoutError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "timeout: no recent network activity")
}

// GetProtocols returns the supported ALPN strings.
// Implements the transport.ConnectionHandler interface.
func (m *Manager) GetProtocols() []string {
	if m.config.AcceptObservers {
		return AcceptableProtocols(m.config.ChainID)
	}
	return []string{NewProtocolID(m.config.ChainID, false).String()}
}

// ValidateConnection checks the negotiated ALPN protocol against the local
// chain and observer policy.
// Implements the transport.ConnectionHandler interface.
func (m *Manager) ValidateConnection(tlsState tls.ConnectionState) error {
	if tlsState.NegotiatedProtocol == "" {
		return fmt.Errorf("no protocol negotiated")
	}

	protocolID, err := ParseProtocolID(tlsState.NegotiatedProtocol)
	if err != nil {
		return fmt.Errorf("invalid protocol: %w", err)
	}

	if protocolID.ChainID != m.config.ChainID {
		return fmt.Errorf("chain id mismatch: got %d, want %d", protocolID.ChainID, m.config.ChainID)
	}

	if protocolID.Observer && !m.config.AcceptObservers {
		return fmt.Errorf("observer connections not accepted")
	}

	return nil
}
