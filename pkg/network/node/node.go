// Package node assembles the wire protocol stack: certificate identity, QUIC
// transport, protocol manager and the stream handlers serving the hub.
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/internal/outbox"
	"github.com/eigerco/cloudberry/internal/transfer"
	"github.com/eigerco/cloudberry/pkg/network/cert"
	"github.com/eigerco/cloudberry/pkg/network/handlers"
	"github.com/eigerco/cloudberry/pkg/network/protocol"
	"github.com/eigerco/cloudberry/pkg/network/transport"
)

const (
	// DefaultCertValidity is the lifetime of the node's self-signed
	// certificate. Certificates are regenerated on restart.
	DefaultCertValidity = 24 * time.Hour

	// DefaultDedupSize is how many accepted submission digests the node
	// remembers for early duplicate rejection.
	DefaultDedupSize = 4096
)

// Config holds everything a Node needs besides the hub itself.
type Config struct {
	// ListenAddr is the UDP address the QUIC listener binds to.
	ListenAddr string
	// PublicKey and PrivateKey are the node's ed25519 transport identity.
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	// CertValidity overrides DefaultCertValidity when non-zero.
	CertValidity time.Duration
	// AcceptObservers admits read-only observer connections.
	AcceptObservers bool
	// DedupSize overrides DefaultDedupSize when non-zero.
	DedupSize int
}

// Node is a hub-serving network endpoint. It accepts peer and observer
// connections and answers submission, governance, state and event streams.
type Node struct {
	hub       *hub.Hub
	transport *transport.Transport
	manager   *protocol.Manager
	dedup     *handlers.DedupCache
}

// New wires a node around a loaded hub. The node is not listening until
// Start is called.
func New(cfg Config, h *hub.Hub, m *metrics.Metrics) (*Node, error) {
	if cfg.CertValidity == 0 {
		cfg.CertValidity = DefaultCertValidity
	}
	if cfg.DedupSize == 0 {
		cfg.DedupSize = DefaultDedupSize
	}

	certGen := cert.NewGenerator(cert.Config{
		PublicKey:          cfg.PublicKey,
		PrivateKey:         cfg.PrivateKey,
		CertValidityPeriod: cfg.CertValidity,
	})
	tlsCert, err := certGen.GenerateCertificate()
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	manager := protocol.NewManager(protocol.Config{
		ChainID:         h.LocalChainID(),
		AcceptObservers: cfg.AcceptObservers,
	})

	dedup, err := handlers.NewDedupCache(cfg.DedupSize, m.DedupHits.Inc)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	manager.Registry.RegisterHandler(protocol.StreamKindSubmitTransfer, handlers.NewTransferSubmissionHandler(h, dedup, m))
	manager.Registry.RegisterHandler(protocol.StreamKindSubmitSettlement, handlers.NewSettlementSubmissionHandler(h, dedup, m))
	manager.Registry.RegisterHandler(protocol.StreamKindGovernanceCall, handlers.NewGovernanceCallHandler(h))
	manager.Registry.RegisterHandler(protocol.StreamKindStateRequest, handlers.NewStateRequestHandler(h))
	manager.Registry.RegisterHandler(protocol.StreamKindEventStream, handlers.NewEventStreamHandler(h))

	tr, err := transport.NewTransport(transport.Config{
		TLSCert:       tlsCert,
		ListenAddr:    cfg.ListenAddr,
		CertValidator: cert.NewValidator(),
		Handler:       manager,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	return &Node{
		hub:       h,
		transport: tr,
		manager:   manager,
		dedup:     dedup,
	}, nil
}

// Start opens the QUIC listener.
func (n *Node) Start() error {
	return n.transport.Start()
}

// Stop closes every connection and the listener.
func (n *Node) Stop() error {
	return n.transport.Stop()
}

// Addr returns the bound listener address.
func (n *Node) Addr() string {
	return n.transport.Addr()
}

// Connect dials a peer node and returns a client over the connection.
func (n *Node) Connect(addr string) (*Client, error) {
	tConn, err := n.transport.Connect(addr)
	if err != nil {
		return nil, err
	}
	pConn := n.manager.Conn(tConn)
	if pConn == nil {
		tConn.Close()
		return nil, fmt.Errorf("no protocol connection for %s", addr)
	}
	return &Client{
		conn:      pConn,
		chainID:   n.hub.LocalChainID(),
		forwarder: n.hub.ForwarderAddress(),
	}, nil
}

// Peer returns an open client for the given peer key, if connected.
func (n *Node) Peer(key ed25519.PublicKey) (*Client, bool) {
	tConn, ok := n.transport.GetConnection(key)
	if !ok {
		return nil, false
	}
	pConn := n.manager.Conn(tConn)
	if pConn == nil {
		return nil, false
	}
	return &Client{
		conn:      pConn,
		chainID:   n.hub.LocalChainID(),
		forwarder: n.hub.ForwarderAddress(),
	}, true
}

// Client is the dialing side of the wire protocol: one method per stream
// kind, one stream per call.
type Client struct {
	conn      *protocol.ProtocolConn
	chainID   uint64
	forwarder crypto.Address

	transfers   handlers.TransferSubmitter
	settlements handlers.SettlementSubmitter
	calls       handlers.CallSubmitter
	states      handlers.StateRequester
	events      handlers.EventStreamer
}

// SubmitTransfer sends a signed local transfer request.
func (c *Client) SubmitTransfer(ctx context.Context, req *transfer.Request) (handlers.SubmissionResult, error) {
	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindSubmitTransfer)
	if err != nil {
		return handlers.SubmissionResult{}, fmt.Errorf("open stream: %w", err)
	}
	return c.transfers.Submit(ctx, stream, req)
}

// SubmitOutbound sends a signed cross-chain outbound request.
func (c *Client) SubmitOutbound(ctx context.Context, req *transfer.FromRequest) (handlers.SubmissionResult, error) {
	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindSubmitTransfer)
	if err != nil {
		return handlers.SubmissionResult{}, fmt.Errorf("open stream: %w", err)
	}
	return c.transfers.SubmitOutbound(ctx, stream, req)
}

// SubmitSettlement sends an inbound settlement with its validator quorum.
func (c *Client) SubmitSettlement(ctx context.Context, req *transfer.ToRequest) (handlers.SubmissionResult, error) {
	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindSubmitSettlement)
	if err != nil {
		return handlers.SubmissionResult{}, fmt.Errorf("open stream: %w", err)
	}
	return c.settlements.Submit(ctx, stream, req)
}

// Call signs and sends a governance call envelope.
func (c *Client) Call(ctx context.Context, key *crypto.PrivateKey, method string,
	methodParams interface{}, nonce uint64, validUntil chaintime.Time) (handlers.SubmissionResult, error) {

	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindGovernanceCall)
	if err != nil {
		return handlers.SubmissionResult{}, fmt.Errorf("open stream: %w", err)
	}
	return c.calls.Call(ctx, stream, key, c.chainID, c.forwarder, method, methodParams, nonce, validUntil)
}

// QueryState runs one read-only state query.
func (c *Client) QueryState(ctx context.Context, req *handlers.StateRequest) (*handlers.StateResponse, error) {
	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindStateRequest)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return c.states.Request(ctx, stream, req)
}

// StreamEvents replays the peer's event log from the given sequence and, when
// following, keeps delivering live events until fn errors or ctx ends.
func (c *Client) StreamEvents(ctx context.Context, req *handlers.EventStreamRequest, fn func(outbox.Event) error) error {
	stream, err := c.conn.OpenStream(ctx, protocol.StreamKindEventStream)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()
	return c.events.Stream(ctx, stream, req, fn)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
