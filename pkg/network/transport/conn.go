package transport

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/quic-go/quic-go"
)

// Conn is a QUIC connection with an authenticated remote peer. Its context is
// cancelled when the connection or the whole transport closes.
type Conn struct {
	QConn     quic.Connection
	transport *Transport
	peerKey   ed25519.PublicKey
	ctx       context.Context
	cancel    context.CancelFunc
}

func newConn(qConn quic.Connection, transport *Transport) *Conn {
	ctx, cancel := context.WithCancel(transport.ctx)
	return &Conn{
		QConn:     qConn,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OpenStream opens a new bidirectional QUIC stream.
func (c *Conn) OpenStream(ctx context.Context) (quic.Stream, error) {
	stream, err := c.QConn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open QUIC stream: %w", err)
	}
	return stream, nil
}

// AcceptStream accepts an incoming QUIC stream from the peer.
func (c *Conn) AcceptStream() (quic.Stream, error) {
	stream, err := c.QConn.AcceptStream(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC stream: %w", err)
	}
	return stream, nil
}

// PeerKey returns the authenticated identity of the remote peer.
func (c *Conn) PeerKey() ed25519.PublicKey {
	return c.peerKey
}

// Close closes the connection and cancels all associated streams.
func (c *Conn) Close() error {
	c.cancel()
	return c.QConn.CloseWithError(0, "")
}

// Context returns the connection's context.
func (c *Conn) Context() context.Context {
	return c.ctx
}
