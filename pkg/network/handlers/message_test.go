package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWriter fails on the size or content write on demand.
type mockWriter struct {
	buffer      *bytes.Buffer
	failSize    bool
	failWrite   bool
	writeDelay  time.Duration
	sizeWritten bool
}

func (m *mockWriter) Write(p []byte) (n int, err error) {
	if !m.sizeWritten && m.failSize {
		m.sizeWritten = true
		return 0, errors.New("mock size write error")
	}
	if m.sizeWritten && m.failWrite {
		return 0, errors.New("mock content write error")
	}
	if m.writeDelay > 0 {
		time.Sleep(m.writeDelay)
	}
	m.sizeWritten = true
	return m.buffer.Write(p)
}

// mockReader fails on the size or content read on demand.
type mockReader struct {
	buffer      *bytes.Buffer
	failSize    bool
	failRead    bool
	readDelay   time.Duration
	sizeRead    bool
	contentRead bool
}

func (m *mockReader) Read(p []byte) (n int, err error) {
	if !m.sizeRead && len(p) == 4 {
		m.sizeRead = true
		if m.failSize {
			return 0, errors.New("mock size read error")
		}
	} else if m.sizeRead && !m.contentRead {
		m.contentRead = true
		if m.failRead {
			return 0, errors.New("mock content read error")
		}
	}
	if m.readDelay > 0 {
		time.Sleep(m.readDelay)
	}
	return m.buffer.Read(p)
}

func TestWriteMessageWithContext(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		content := []byte("test message")
		buffer := &bytes.Buffer{}

		err := WriteMessageWithContext(context.Background(), buffer, content)

		require.NoError(t, err)
		assert.Equal(t, uint32(len(content)), binary.LittleEndian.Uint32(buffer.Bytes()[:4]))
		assert.Equal(t, content, buffer.Bytes()[4:])
	})

	t.Run("oversized message", func(t *testing.T) {
		err := WriteMessageWithContext(context.Background(), &bytes.Buffer{}, make([]byte, MaxMessageSize+1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "message too large")
	})

	t.Run("write size error", func(t *testing.T) {
		writer := &mockWriter{buffer: &bytes.Buffer{}, failSize: true}

		err := WriteMessageWithContext(context.Background(), writer, []byte("test message"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "write message size")
	})

	t.Run("write content error", func(t *testing.T) {
		writer := &mockWriter{buffer: &bytes.Buffer{}, failWrite: true}

		err := WriteMessageWithContext(context.Background(), writer, []byte("test message"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "write message content")
	})

	t.Run("context cancellation", func(t *testing.T) {
		writer := &mockWriter{buffer: &bytes.Buffer{}, writeDelay: 100 * time.Millisecond}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := WriteMessageWithContext(ctx, writer, []byte("test message"))

		assert.Equal(t, context.Canceled, err)
	})
}

func TestReadMessageWithContext(t *testing.T) {
	t.Run("successful read", func(t *testing.T) {
		content := []byte("test message")
		buffer := &bytes.Buffer{}
		require.NoError(t, binary.Write(buffer, binary.LittleEndian, uint32(len(content))))
		buffer.Write(content)

		msg, err := ReadMessageWithContext(context.Background(), buffer)

		require.NoError(t, err)
		assert.Equal(t, uint32(len(content)), msg.Size)
		assert.Equal(t, content, msg.Content)
	})

	t.Run("read size error", func(t *testing.T) {
		reader := &mockReader{buffer: &bytes.Buffer{}, failSize: true}

		msg, err := ReadMessageWithContext(context.Background(), reader)

		require.Error(t, err)
		assert.Nil(t, msg)
		assert.Contains(t, err.Error(), "read message size")
	})

	t.Run("oversized frame rejected before content", func(t *testing.T) {
		buffer := &bytes.Buffer{}
		require.NoError(t, binary.Write(buffer, binary.LittleEndian, uint32(MaxMessageSize+1)))

		msg, err := ReadMessageWithContext(context.Background(), buffer)

		require.Error(t, err)
		assert.Nil(t, msg)
		assert.Contains(t, err.Error(), "message too large")
	})

	t.Run("truncated content", func(t *testing.T) {
		buffer := &bytes.Buffer{}
		require.NoError(t, binary.Write(buffer, binary.LittleEndian, uint32(10)))
		buffer.Write([]byte("hello"))

		msg, err := ReadMessageWithContext(context.Background(), buffer)

		require.Error(t, err)
		assert.Nil(t, msg)
		assert.Contains(t, err.Error(), "read message content")
	})

	t.Run("zero size message", func(t *testing.T) {
		buffer := &bytes.Buffer{}
		require.NoError(t, binary.Write(buffer, binary.LittleEndian, uint32(0)))

		msg, err := ReadMessageWithContext(context.Background(), buffer)

		require.NoError(t, err)
		assert.Equal(t, uint32(0), msg.Size)
		assert.Empty(t, msg.Content)
	})

	t.Run("context cancellation", func(t *testing.T) {
		content := []byte("test message")
		buffer := &bytes.Buffer{}
		require.NoError(t, binary.Write(buffer, binary.LittleEndian, uint32(len(content))))
		buffer.Write(content)
		reader := &mockReader{buffer: buffer, readDelay: 100 * time.Millisecond}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		msg, err := ReadMessageWithContext(ctx, reader)

		assert.Nil(t, msg)
		assert.Equal(t, context.DeadlineExceeded, err)
	})
}

func TestMessageRoundTrip(t *testing.T) {
	messages := [][]byte{
		[]byte("first message"),
		[]byte("second message"),
		[]byte("third message with longer content"),
	}
	buffer := &bytes.Buffer{}
	ctx := context.Background()

	for _, content := range messages {
		require.NoError(t, WriteMessageWithContext(ctx, buffer, content))
	}
	for _, expected := range messages {
		msg, err := ReadMessageWithContext(ctx, buffer)
		require.NoError(t, err)
		assert.Equal(t, expected, msg.Content)
	}
	assert.Equal(t, 0, buffer.Len())
}
