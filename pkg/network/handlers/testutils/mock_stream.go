// Package testutils provides an in-memory quic.Stream for handler tests.
package testutils

import (
	"bytes"
	"context"
	"time"

	"github.com/quic-go/quic-go"
)

// MockStream is a quic.Stream over two buffers: the handler reads the
// request from In and writes its response to Out.
type MockStream struct {
	In          *bytes.Buffer
	Out         *bytes.Buffer
	CloseCalled bool
}

func NewMockStream() *MockStream {
	return &MockStream{
		In:  new(bytes.Buffer),
		Out: new(bytes.Buffer),
	}
}

func (s *MockStream) StreamID() quic.StreamID { return 1 }

func (s *MockStream) Read(p []byte) (int, error) {
	return s.In.Read(p)
}

func (s *MockStream) Write(p []byte) (int, error) {
	return s.Out.Write(p)
}

func (s *MockStream) Close() error {
	s.CloseCalled = true
	return nil
}

func (s *MockStream) CancelRead(quic.StreamErrorCode)  {}
func (s *MockStream) CancelWrite(quic.StreamErrorCode) {}

func (s *MockStream) Context() context.Context { return context.Background() }

func (s *MockStream) SetDeadline(time.Time) error      { return nil }
func (s *MockStream) SetReadDeadline(time.Time) error  { return nil }
func (s *MockStream) SetWriteDeadline(time.Time) error { return nil }
