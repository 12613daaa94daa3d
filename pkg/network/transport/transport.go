// Package transport runs the QUIC layer under the node wire protocol. Every
// connection is mutually authenticated by self-signed ed25519 certificates;
// the peer's public key, extracted from its certificate, is the connection
// key. One live connection per peer: a newer handshake replaces the old one.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/pkg/log"
)

// MaxIdleTimeout is how long a connection may stay idle before QUIC drops it.
const MaxIdleTimeout = 30 * time.Minute

// CertValidator performs TLS certificate validation and identity extraction.
type CertValidator interface {
	ValidateCertificate(cert *x509.Certificate) error
	ExtractPublicKey(cert *x509.Certificate) (ed25519.PublicKey, error)
}

// ConnectionHandler is the protocol layer's view of the transport: it names
// the ALPN identifiers to negotiate, vets the handshake, and takes over each
// established connection.
type ConnectionHandler interface {
	OnConnection(conn *Conn) error
	GetProtocols() []string
	ValidateConnection(tlsState tls.ConnectionState) error
}

// Config contains all parameters for a Transport.
type Config struct {
	TLSCert       *tls.Certificate
	ListenAddr    string
	CertValidator CertValidator
	Handler       ConnectionHandler
}

// Transport manages QUIC connections and their lifecycles.
type Transport struct {
	config   Config
	listener *quic.Listener
	mu       sync.RWMutex
	conns    map[string]*Conn
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTransport validates the configuration, including the node's own
// certificate, and returns an unstarted transport.
func NewTransport(config Config) (*Transport, error) {
	if config.TLSCert == nil {
		return nil, fmt.Errorf("TLS certificate required")
	}
	if config.CertValidator == nil {
		return nil, fmt.Errorf("certificate validator required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("connection handler required")
	}
	if err := config.CertValidator.ValidateCertificate(config.TLSCert.Leaf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	return &Transport{
		config: config,
		conns:  make(map[string]*Conn),
	}, nil
}

// Start opens the listener and begins accepting connections.
func (t *Transport) Start() error {
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*t.config.TLSCert},
		NextProtos:   t.config.Handler.GetProtocols(),
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS13,
		// Peer identity is the self-signed certificate itself; there is no CA
		// chain to verify, so verification happens in VerifyConnection.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return fmt.Errorf("%w: no peer certificate provided", ErrInvalidCertificate)
			}
			if err := t.config.CertValidator.ValidateCertificate(cs.PeerCertificates[0]); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			if err := t.config.Handler.ValidateConnection(cs); err != nil {
				return fmt.Errorf("connection validation failed: %v", err)
			}
			return nil
		},
	}

	listener, err := quic.ListenAddr(t.config.ListenAddr, tlsConfig, &quic.Config{
		MaxIdleTimeout: MaxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.listener = listener
	t.done = make(chan struct{})
	go func() {
		t.acceptLoop()
		close(t.done)
	}()

	log.Network.Info().Str("addr", listener.Addr().String()).Msg("transport listening")
	return nil
}

// Stop closes every connection and the listener, then waits for the accept
// loop to drain.
func (t *Transport) Stop() error {
	if t.cancel == nil {
		return ErrNotStarted
	}
	t.cancel()

	t.mu.Lock()
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("close connection")
		}
	}
	t.conns = make(map[string]*Conn)
	t.mu.Unlock()

	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			return fmt.Errorf("close listener: %w", err)
		}
	}

	<-t.done
	return nil
}

// Addr returns the listener address, useful when listening on port 0.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Connect dials a remote peer and hands the connection to the handler.
func (t *Transport) Connect(addr string) (*Conn, error) {
	if t.ctx == nil {
		return nil, ErrNotStarted
	}

	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{*t.config.TLSCert},
		NextProtos:         t.config.Handler.GetProtocols(),
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			c, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			if err := t.config.CertValidator.ValidateCertificate(c); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			return nil
		},
	}

	quicConn, err := quic.DialAddr(t.ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout: MaxIdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	conn := t.handleConnection(quicConn)
	if conn == nil {
		return nil, ErrConnFailed
	}
	return conn, nil
}

// GetConnection retrieves an active connection by peer key.
func (t *Transport) GetConnection(peerKey ed25519.PublicKey) (*Conn, bool) {
	t.mu.RLock()
	conn, ok := t.conns[string(peerKey)]
	t.mu.RUnlock()
	return conn, ok
}

// ListConnections returns all active connections.
func (t *Transport) ListConnections() []*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]*Conn, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (t *Transport) acceptLoop() {
	defer t.cancel()
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			log.Network.Warn().Err(err).Msg("accept connection")
			continue
		}
		go t.handleConnection(conn)
	}
}

func (t *Transport) handleConnection(qConn quic.Connection) *Conn {
	peerKey, err := t.config.CertValidator.ExtractPublicKey(qConn.ConnectionState().TLS.PeerCertificates[0])
	if err != nil {
		log.Network.Warn().Err(err).Msg("extract peer key")
		_ = qConn.CloseWithError(0, ErrInvalidCertificate.Error())
		return nil
	}

	conn := t.manageConnection(peerKey, qConn)

	if err := t.config.Handler.OnConnection(conn); err != nil {
		log.Network.Warn().Err(err).Msg("connection rejected by handler")
		t.cleanup(peerKey)
		_ = qConn.CloseWithError(0, err.Error())
		return nil
	}

	return conn
}

// manageConnection stores the connection, replacing any existing one for the
// same peer.
func (t *Transport) manageConnection(peerKey ed25519.PublicKey, qConn quic.Connection) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.conns[string(peerKey)]; ok {
		log.Network.Debug().Msg("replacing existing peer connection")
		if err := existing.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("close replaced connection")
		}
		delete(t.conns, string(peerKey))
	}

	conn := newConn(qConn, t)
	conn.peerKey = peerKey
	t.conns[string(peerKey)] = conn
	return conn
}

func (t *Transport) cleanup(peerKey ed25519.PublicKey) {
	t.mu.Lock()
	delete(t.conns, string(peerKey))
	t.mu.Unlock()
}
