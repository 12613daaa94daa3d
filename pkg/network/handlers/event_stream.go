package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/outbox"
)

const (
	eventStreamBuffer = 256
	eventCatchupPage  = 512
)

// EventStreamRequest starts an event feed at From. With Follow the stream
// stays open and delivers live events after catch-up; without it the stream
// ends at the current head.
type EventStreamRequest struct {
	From   uint64 `cbor:"1,keyasint" json:"from"`
	Follow bool   `cbor:"2,keyasint" json:"follow"`
}

// EventStreamHandler serves the outbox over event_stream streams, one CBOR
// event per frame. Available on observer connections.
type EventStreamHandler struct {
	hub *hub.Hub
}

func NewEventStreamHandler(h *hub.Hub) *EventStreamHandler {
	return &EventStreamHandler{hub: h}
}

// HandleStream reads the request, replays the persisted log from the
// requested sequence and, when following, switches to the live feed. The
// live subscription is taken before catch-up so no event falls into the gap;
// duplicates across the seam are dropped by sequence number.
func (h *EventStreamHandler) HandleStream(ctx context.Context, stream quic.Stream) error {
	msg, err := ReadMessageWithContext(ctx, stream)
	if err != nil {
		return fmt.Errorf("read event stream request: %w", err)
	}
	var req EventStreamRequest
	if err := ser.Decode(msg.Content, &req); err != nil {
		return fmt.Errorf("decode event stream request: %w", err)
	}

	var live <-chan outbox.Event
	if req.Follow {
		ch, cancel := h.hub.Broadcaster().Subscribe(eventStreamBuffer)
		defer cancel()
		live = ch
	}

	next := req.From
	for {
		page, err := h.hub.Events(next, eventCatchupPage)
		if err != nil {
			return fmt.Errorf("event catch-up read: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if err := h.writeEvent(ctx, stream, e); err != nil {
				return err
			}
			next = e.Seq + 1
		}
	}

	if !req.Follow {
		return stream.Close()
	}

	for {
		select {
		case e, ok := <-live:
			if !ok {
				return stream.Close()
			}
			if e.Seq < next {
				continue
			}
			if err := h.writeEvent(ctx, stream, e); err != nil {
				return err
			}
			next = e.Seq + 1
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *EventStreamHandler) writeEvent(ctx context.Context, stream quic.Stream, e outbox.Event) error {
	data, err := ser.Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return WriteMessageWithContext(ctx, stream, data)
}

// EventStreamer is the client side of event_stream streams.
type EventStreamer struct{}

// Stream requests events from the given sequence and invokes fn for each
// received event until the stream ends, fn returns an error, or the context
// is cancelled. A clean end of a non-follow stream returns nil.
func (s *EventStreamer) Stream(ctx context.Context, stream quic.Stream, req *EventStreamRequest, fn func(outbox.Event) error) error {
	content, err := ser.Encode(req)
	if err != nil {
		return fmt.Errorf("encode event stream request: %w", err)
	}
	if err := WriteMessageWithContext(ctx, stream, content); err != nil {
		return fmt.Errorf("write event stream request: %w", err)
	}

	for {
		msg, err := ReadMessageWithContext(ctx, stream)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		var e outbox.Event
		if err := ser.Decode(msg.Content, &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
