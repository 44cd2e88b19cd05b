package source

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chunkedReader yields its payload in fixed-size reads with an optional
// terminal error instead of io.EOF.
type chunkedReader struct {
	mu        sync.Mutex
	data      []byte
	chunkSize int
	finalErr  error
	closed    bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.data) == 0 {
		if r.finalErr != nil {
			return 0, r.finalErr
		}
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func drain(t *testing.T, b *Buffer) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 512)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if b.BytesAvailable() == 0 {
			if !b.IsConnected() {
				return out.Bytes()
			}
			if time.Now().After(deadline) {
				t.Fatal("drain timed out")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		n, err := b.ReadUpTo(buf)
		out.Write(buf[:n])
		if err != nil {
			return out.Bytes()
		}
	}
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 255)
	}
	return data
}

func TestBuffer_DeliversAllBytesInOrder(t *testing.T) {
	data := payload(10_000)
	src := &chunkedReader{data: append([]byte(nil), data...), chunkSize: 700}
	b := NewBuffer(src, 2048, discardLogger())
	defer b.Close()

	got := drain(t, b)
	if !bytes.Equal(got, data) {
		t.Fatalf("drained %d bytes, want %d, content mismatch=%v", len(got), len(data), !bytes.Equal(got, data))
	}
}

func TestBuffer_BackpressureNeverDropsBytes(t *testing.T) {
	// Ring much smaller than the payload: the fill loop must wait for the
	// reader rather than discard.
	data := payload(50_000)
	src := &chunkedReader{data: append([]byte(nil), data...), chunkSize: 900}
	b := NewBuffer(src, 1024, discardLogger())
	defer b.Close()

	got := drain(t, b)
	if !bytes.Equal(got, data) {
		t.Fatalf("drained %d bytes, want %d", len(got), len(data))
	}
}

func TestBuffer_ReadUpToNeverBlocks(t *testing.T) {
	src := &chunkedReader{}
	b := NewBuffer(src, 128, discardLogger())
	defer b.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		_, _ = b.ReadUpTo(buf)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadUpTo blocked on an empty buffer")
	}
}

func TestBuffer_DisconnectsOnSourceEnd(t *testing.T) {
	src := &chunkedReader{data: []byte("tail"), chunkSize: 4}
	b := NewBuffer(src, 128, discardLogger())
	defer b.Close()

	got := drain(t, b)
	if string(got) != "tail" {
		t.Fatalf("drained %q", got)
	}
	if b.IsConnected() {
		t.Fatal("expected disconnected after the source ended")
	}
	buf := make([]byte, 8)
	if n, err := b.ReadUpTo(buf); n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected (0, EOF) after drain, got (%d, %v)", n, err)
	}
}

func TestBuffer_SurfacesSourceError(t *testing.T) {
	cut := errors.New("connection reset")
	src := &chunkedReader{data: []byte("partial"), chunkSize: 7, finalErr: cut}
	b := NewBuffer(src, 128, discardLogger())
	defer b.Close()

	got := drain(t, b)
	if string(got) != "partial" {
		t.Fatalf("drained %q", got)
	}
	if b.IsConnected() {
		t.Fatal("expected disconnected after the source errored")
	}
	buf := make([]byte, 8)
	if _, err := b.ReadUpTo(buf); !errors.Is(err, cut) {
		t.Fatalf("expected the source error, got %v", err)
	}
}

func TestBuffer_CloseClosesSource(t *testing.T) {
	src := &chunkedReader{data: payload(100_000), chunkSize: 512}
	b := NewBuffer(src, 256, discardLogger())

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Fatal("underlying source not closed")
	}
	if b.IsConnected() {
		t.Fatal("closed buffer must not report connected")
	}
}
