// Package source adapts a blocking HTTP response body to the polling
// UpdateStream shape the transfer controller consumes.
package source

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"otagent/internal/domain/ports"
)

const (
	defaultBufferSize = 256 * 1024
	fillReadChunk     = 16 * 1024
)

// Buffer wraps an io.ReadCloser with a fixed-size ring buffer. A background
// goroutine fills the ring from the source, giving the consumer real
// "bytes currently available" and "still connected" semantics over a reader
// that would otherwise block. Unlike the consumer side, the fill side applies
// backpressure: when the ring is full it waits for the reader to drain,
// firmware bytes are never dropped.
type Buffer struct {
	src  io.ReadCloser
	buf  []byte
	size int
	rPos int
	wPos int

	mu      sync.Mutex
	count   int
	srcErr  error
	closed  bool
	spaceCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

var _ ports.UpdateStream = (*Buffer)(nil)

// NewBuffer creates a ring buffer of the given size (defaulted when <= 0)
// and starts filling it from src.
func NewBuffer(src io.ReadCloser, size int, logger *slog.Logger) *Buffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		src:     src,
		buf:     make([]byte, size),
		size:    size,
		spaceCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	go b.fillLoop()
	return b
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *Buffer) fillLoop() {
	tmp := make([]byte, fillReadChunk)
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		n, err := b.src.Read(tmp)
		if n > 0 {
			data := tmp[:n]
			for len(data) > 0 {
				b.mu.Lock()
				wrote := b.writeToRing(data)
				full := b.count == b.size
				closed := b.closed
				b.mu.Unlock()
				data = data[wrote:]
				if closed {
					return
				}
				if len(data) > 0 && full {
					select {
					case <-b.spaceCh:
					case <-b.ctx.Done():
						return
					}
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				b.logger.Warn("update source read failed", slog.String("error", err.Error()))
			}
			b.mu.Lock()
			b.srcErr = err
			b.mu.Unlock()
			return
		}
	}
}

// writeToRing copies data into the ring buffer and returns the bytes written.
// Caller must hold b.mu.
func (b *Buffer) writeToRing(data []byte) int {
	written := 0
	for len(data) > 0 && b.count < b.size {
		space := b.size - b.wPos
		if space > b.size-b.count {
			space = b.size - b.count
		}
		if space > len(data) {
			space = len(data)
		}
		copy(b.buf[b.wPos:b.wPos+space], data[:space])
		b.wPos = (b.wPos + space) % b.size
		b.count += space
		written += space
		data = data[space:]
	}
	return written
}

// BytesAvailable returns the number of bytes readable without blocking.
func (b *Buffer) BytesAvailable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsConnected reports whether more bytes may still arrive from the source.
func (b *Buffer) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.srcErr == nil && !b.closed
}

// ReadUpTo drains at most len(p) buffered bytes. It never blocks: with
// nothing buffered it returns 0 and, once the source has ended, its terminal
// error (io.EOF for a clean close).
func (b *Buffer) ReadUpTo(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		if b.closed {
			return 0, io.ErrClosedPipe
		}
		return 0, b.srcErr
	}
	n := b.readFromRing(p)
	signal(b.spaceCh)
	return n, nil
}

// readFromRing copies data from the ring buffer into p. Caller must hold b.mu.
func (b *Buffer) readFromRing(p []byte) int {
	n := 0
	for len(p) > 0 && b.count > 0 {
		avail := b.size - b.rPos
		if avail > b.count {
			avail = b.count
		}
		if avail > len(p) {
			avail = len(p)
		}
		copy(p[:avail], b.buf[b.rPos:b.rPos+avail])
		b.rPos = (b.rPos + avail) % b.size
		b.count -= avail
		n += avail
		p = p[avail:]
	}
	return n
}

// Close stops the fill loop and closes the underlying source.
func (b *Buffer) Close() error {
	b.mu.Lock()
	b.closed = true
	signal(b.spaceCh)
	b.mu.Unlock()
	b.cancel()
	return b.src.Close()
}
