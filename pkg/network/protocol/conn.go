package protocol

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/pkg/log"
	"github.com/eigerco/cloudberry/pkg/network/transport"
)

// ProtocolConn wraps a transport connection with stream dispatch. Each stream
// starts with one kind byte; the registry routes the rest of the stream to
// the matching handler. Observer connections only get read-only kinds.
type ProtocolConn struct {
	tConn    *transport.Conn
	registry *Registry
	observer bool
}

// NewProtocolConn creates a protocol-level connection over a transport one.
func NewProtocolConn(tConn *transport.Conn, registry *Registry, observer bool) *ProtocolConn {
	return &ProtocolConn{
		tConn:    tConn,
		registry: registry,
		observer: observer,
	}
}

// OpenStream opens a stream of the given kind, writing the kind byte first.
func (pc *ProtocolConn) OpenStream(ctx context.Context, kind StreamKind) (quic.Stream, error) {
	stream, err := pc.tConn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeWithContext(ctx, stream, []byte{byte(kind)}); err != nil {
		stream.Close()
		return nil, fmt.Errorf("write stream kind: %w", err)
	}

	return stream, nil
}

// AcceptStream accepts one incoming stream, reads its kind byte and hands it
// to the registered handler in its own goroutine.
func (pc *ProtocolConn) AcceptStream() error {
	stream, err := pc.tConn.AcceptStream()
	if err != nil {
		return err
	}

	kind := make([]byte, 1)
	if _, err := stream.Read(kind); err != nil {
		stream.Close()
		return fmt.Errorf("read stream kind: %w", err)
	}

	if pc.observer && StreamKind(kind[0]).IsWritable() {
		stream.Close()
		return fmt.Errorf("stream kind %d not allowed on observer connection", kind[0])
	}

	handler, err := pc.registry.GetHandler(StreamKind(kind[0]))
	if err != nil {
		stream.Close()
		return err
	}

	go func() {
		defer stream.Close()
		if err := handler.HandleStream(pc.tConn.Context(), stream); err != nil {
			log.Network.Debug().Err(err).Uint8("kind", kind[0]).Msg("stream handler")
		}
	}()

	return nil
}

// Context returns the underlying connection context.
func (pc *ProtocolConn) Context() context.Context {
	return pc.tConn.Context()
}

// Close closes the underlying transport connection.
func (pc *ProtocolConn) Close() error {
	return pc.tConn.Close()
}

// writeWithContext writes to a stream and honors context cancellation.
func writeWithContext(ctx context.Context, stream quic.Stream, p []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := stream.Write(p)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
