package handlers

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize caps a single wire message. Submissions and state responses
// are all far smaller; anything above this is a malformed or hostile frame.
const MaxMessageSize = 1 << 20

// Message is one length-prefixed protocol frame: a little-endian uint32 size
// followed by that many content bytes.
type Message struct {
	Size    uint32
	Content []byte
}

// WriteMessageWithContext writes one frame, honoring context cancellation.
func WriteMessageWithContext(ctx context.Context, w io.Writer, content []byte) error {
	if len(content) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(content))
	}

	done := make(chan error, 1)
	go func() {
		size := uint32(len(content))
		if err := binary.Write(w, binary.LittleEndian, size); err != nil {
			done <- fmt.Errorf("write message size: %w", err)
			return
		}
		if _, err := w.Write(content); err != nil {
			done <- fmt.Errorf("write message content: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadMessageWithContext reads one frame, honoring context cancellation.
// Frames over MaxMessageSize are rejected before the content is read.
func ReadMessageWithContext(ctx context.Context, r io.Reader) (*Message, error) {
	type result struct {
		msg *Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			done <- result{nil, fmt.Errorf("read message size: %w", err)}
			return
		}
		if size > MaxMessageSize {
			done <- result{nil, fmt.Errorf("message too large: %d bytes", size)}
			return
		}
		content := make([]byte, size)
		if _, err := io.ReadFull(r, content); err != nil {
			done <- result{nil, fmt.Errorf("read message content: %w", err)}
			return
		}
		done <- result{&Message{Size: size, Content: content}, nil}
	}()

	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
