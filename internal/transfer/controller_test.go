package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"otagent/internal/domain"
	"otagent/internal/domain/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream serves a fixed payload and then reports disconnected.
type fakeStream struct {
	data []byte
	pos  int
	err  error
}

func (s *fakeStream) BytesAvailable() int { return len(s.data) - s.pos }

func (s *fakeStream) IsConnected() bool { return s.pos < len(s.data) }

func (s *fakeStream) ReadUpTo(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, s.err
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// idleStream has no bytes and stays connected for a fixed number of
// IsConnected probes before dropping.
type idleStream struct {
	probesLeft int
}

func (s *idleStream) BytesAvailable() int { return 0 }

func (s *idleStream) IsConnected() bool {
	if s.probesLeft > 0 {
		s.probesLeft--
		return true
	}
	return false
}

func (s *idleStream) ReadUpTo(p []byte) (int, error) { return 0, nil }

type fakePartition struct {
	mu sync.Mutex

	beginErr    error
	writeErr    error
	shortAfter  int64 // acknowledge writes short once this many bytes accepted; 0 disables
	finalizeErr error
	incomplete  bool // force IsComplete to report false after a clean Finalize

	begun     int
	finalized bool
	aborts    int
	maxWrite  int
	buf       bytes.Buffer
}

func (p *fakePartition) Begin(sizeHint int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beginErr != nil {
		return p.beginErr
	}
	p.begun++
	p.finalized = false
	p.buf.Reset()
	return nil
}

func (p *fakePartition) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if len(data) > p.maxWrite {
		p.maxWrite = len(data)
	}
	if p.shortAfter > 0 && int64(p.buf.Len()+len(data)) > p.shortAfter {
		allowed := p.shortAfter - int64(p.buf.Len())
		if allowed < 0 {
			allowed = 0
		}
		p.buf.Write(data[:allowed])
		return int(allowed), nil
	}
	return p.buf.Write(data)
}

func (p *fakePartition) Finalize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalizeErr != nil {
		return p.finalizeErr
	}
	p.finalized = true
	return nil
}

func (p *fakePartition) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized && !p.incomplete && p.buf.Len() > 0
}

func (p *fakePartition) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborts++
	p.finalized = false
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestRun_SucceedsWithDeclaredLength(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})
	data := payload(4096)

	out := c.Run(context.Background(), &fakeStream{data: data, err: io.EOF}, 4096)

	if !out.OK() {
		t.Fatalf("expected success, got reason %q", out.Reason)
	}
	if out.BytesWritten != 4096 {
		t.Fatalf("expected 4096 bytes written, got %d", out.BytesWritten)
	}
	if part.aborts != 0 {
		t.Fatalf("expected no abort on success, got %d", part.aborts)
	}
	if !bytes.Equal(part.buf.Bytes(), data) {
		t.Fatal("staged bytes do not match the source payload")
	}
	if _, state := c.Progress(); state != domain.TransferSucceeded {
		t.Fatalf("expected terminal state Succeeded, got %s", state)
	}
}

func TestRun_SucceedsWithUnknownLength(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(3000), err: io.EOF}, -1)

	if !out.OK() {
		t.Fatalf("expected success, got reason %q", out.Reason)
	}
	if out.BytesWritten != 3000 {
		t.Fatalf("expected 3000 bytes written, got %d", out.BytesWritten)
	}
}

func TestRun_ZeroDeclaredLengthMeansUnknown(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(100), err: io.EOF}, 0)

	if !out.OK() {
		t.Fatalf("zero declared length must not be treated as an empty image: got %q", out.Reason)
	}
}

func TestRun_EmptyImageFails(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{err: io.EOF}, -1)

	if out.OK() {
		t.Fatal("expected failure for empty image")
	}
	if out.Reason != domain.ReasonIncomplete {
		t.Fatalf("expected %q, got %q", domain.ReasonIncomplete, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_DeclaredLengthMismatchFails(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(4000), err: io.EOF}, 5000)

	if out.Reason != domain.ReasonIncomplete {
		t.Fatalf("expected %q, got %q", domain.ReasonIncomplete, out.Reason)
	}
	if out.BytesWritten != 4000 {
		t.Fatalf("expected 4000 bytes counted, got %d", out.BytesWritten)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
	if part.finalized {
		t.Fatal("partition must not be finalized after a length mismatch")
	}
}

func TestRun_ShortWriteIsFatal(t *testing.T) {
	part := &fakePartition{shortAfter: 1000}
	c := New(part, discardLogger(), Config{ChunkSize: 512})

	out := c.Run(context.Background(), &fakeStream{data: payload(4096), err: io.EOF}, 4096)

	if out.Reason != domain.ReasonWrite {
		t.Fatalf("expected %q, got %q", domain.ReasonWrite, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_WriteErrorIsFatal(t *testing.T) {
	part := &fakePartition{writeErr: errors.New("flash write failed")}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(100), err: io.EOF}, 100)

	if out.Reason != domain.ReasonWrite {
		t.Fatalf("expected %q, got %q", domain.ReasonWrite, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_BeginFailureLeavesPartitionUntouched(t *testing.T) {
	part := &fakePartition{beginErr: errors.New("slot busy")}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(100), err: io.EOF}, 100)

	if out.Reason != domain.ReasonStagingBegin {
		t.Fatalf("expected %q, got %q", domain.ReasonStagingBegin, out.Reason)
	}
	if out.BytesWritten != 0 {
		t.Fatalf("expected zero bytes written, got %d", out.BytesWritten)
	}
	if part.aborts != 0 {
		t.Fatalf("nothing was opened, abort must not run: got %d", part.aborts)
	}
}

func TestRun_FinalizeFailure(t *testing.T) {
	part := &fakePartition{finalizeErr: errors.New("rename failed")}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(200), err: io.EOF}, 200)

	if out.Reason != domain.ReasonFinalize {
		t.Fatalf("expected %q, got %q", domain.ReasonFinalize, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_IncompleteAfterFinalize(t *testing.T) {
	part := &fakePartition{incomplete: true}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(200), err: io.EOF}, 200)

	if out.Reason != domain.ReasonIncomplete {
		t.Fatalf("expected %q, got %q", domain.ReasonIncomplete, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := c.Run(ctx, &fakeStream{data: payload(100), err: io.EOF}, 100)

	if out.Reason != domain.ReasonCancelled {
		t.Fatalf("expected %q, got %q", domain.ReasonCancelled, out.Reason)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

func TestRun_TerminatesWhenIdleStreamDisconnects(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{PollInterval: time.Millisecond})

	done := make(chan domain.Outcome, 1)
	go func() {
		done <- c.Run(context.Background(), &idleStream{probesLeft: 3}, -1)
	}()

	select {
	case out := <-done:
		if out.Reason != domain.ReasonIncomplete {
			t.Fatalf("expected %q, got %q", domain.ReasonIncomplete, out.Reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not terminate after the stream disconnected")
	}
}

func TestRun_ChunkSizeBoundsWrites(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{ChunkSize: 512})

	out := c.Run(context.Background(), &fakeStream{data: payload(10_000), err: io.EOF}, 10_000)

	if !out.OK() {
		t.Fatalf("expected success, got %q", out.Reason)
	}
	if part.maxWrite > 512 {
		t.Fatalf("write exceeded the chunk bound: %d bytes", part.maxWrite)
	}
}

func TestRun_SequentialSessionsReuseController(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	first := c.Run(context.Background(), &fakeStream{err: io.EOF}, -1)
	if first.OK() {
		t.Fatal("expected the empty first session to fail")
	}

	second := c.Run(context.Background(), &fakeStream{data: payload(1024), err: io.EOF}, 1024)
	if !second.OK() {
		t.Fatalf("expected the second session to succeed, got %q", second.Reason)
	}
	if second.BytesWritten != 1024 {
		t.Fatalf("stale byte count leaked between sessions: %d", second.BytesWritten)
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{ChunkSize: 256})

	var mu sync.Mutex
	var seen []int64
	c.OnProgress(func(written, declared int64) {
		mu.Lock()
		seen = append(seen, written)
		mu.Unlock()
		if declared != 1024 {
			t.Errorf("expected declared length 1024 in callback, got %d", declared)
		}
	})

	out := c.Run(context.Background(), &fakeStream{data: payload(1024), err: io.EOF}, 1024)
	if !out.OK() {
		t.Fatalf("expected success, got %q", out.Reason)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("progress callback never fired")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("progress not monotonic: %v", seen)
		}
	}
	if seen[len(seen)-1] != 1024 {
		t.Fatalf("final progress %d, want 1024", seen[len(seen)-1])
	}
}

func TestRun_StreamReadErrorEndsSession(t *testing.T) {
	part := &fakePartition{}
	c := New(part, discardLogger(), Config{})

	out := c.Run(context.Background(), &fakeStream{data: payload(500), err: errors.New("connection reset")}, 1000)

	if out.Reason != domain.ReasonIncomplete {
		t.Fatalf("expected %q, got %q", domain.ReasonIncomplete, out.Reason)
	}
	if out.BytesWritten != 500 {
		t.Fatalf("expected 500 bytes counted before the cut, got %d", out.BytesWritten)
	}
	if part.aborts != 1 {
		t.Fatalf("expected exactly one abort, got %d", part.aborts)
	}
}

var _ ports.StagingPartition = (*fakePartition)(nil)
var _ ports.UpdateStream = (*fakeStream)(nil)
var _ ports.UpdateStream = (*idleStream)(nil)
