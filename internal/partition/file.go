// Package partition implements the staging slot a firmware image is written
// into before the device reboots onto it.
package partition

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"otagent/internal/domain/ports"
)

const partSuffix = ".part"

var (
	ErrNotStaging      = errors.New("staging not begun")
	ErrAlreadyStaging  = errors.New("staging already begun")
	ErrSessionSettled  = errors.New("staging session already settled")
	ErrCapacityReached = errors.New("staging capacity reached")
)

// File stages a firmware image as a file in a directory. Begin opens
// <dir>/<name>.part, Finalize fsyncs and renames it to <dir>/<name>, Abort
// removes whatever this session produced so the slot is never left looking
// bootable. When the declared size is known it acts as a hard capacity bound.
type File struct {
	dir    string
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	f         *os.File
	declared  int64
	written   int64
	finalized bool
	aborted   bool
}

var _ ports.StagingPartition = (*File)(nil)

func NewFile(dir, name string, logger *slog.Logger) *File {
	return &File{dir: dir, name: name, logger: logger, declared: ports.SizeUnknown}
}

func (p *File) partPath() string  { return filepath.Join(p.dir, p.name+partSuffix) }
func (p *File) finalPath() string { return filepath.Join(p.dir, p.name) }

// Begin opens the staging slot for a new session. sizeHint is the declared
// image length or ports.SizeUnknown; when known it is checked against the
// free space on the staging filesystem before anything is opened.
func (p *File) Begin(sizeHint int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f != nil && !p.finalized && !p.aborted {
		return ErrAlreadyStaging
	}
	if sizeHint <= 0 {
		sizeHint = ports.SizeUnknown
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}
	if sizeHint != ports.SizeUnknown {
		if free, err := diskFreeBytes(p.dir); err == nil && free < sizeHint {
			return fmt.Errorf("%w: need %d bytes, %d free", ErrCapacityReached, sizeHint, free)
		}
	}

	// A stale partial from an interrupted session is never resumable.
	_ = os.Remove(p.partPath())

	f, err := os.OpenFile(p.partPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("staging open: %w", err)
	}

	p.f = f
	p.declared = sizeHint
	p.written = 0
	p.finalized = false
	p.aborted = false
	return nil
}

// Write appends p to the staged image. With a known declared size, writes
// past the capacity bound are acknowledged short, which the transfer
// controller treats as fatal.
func (p *File) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return 0, ErrNotStaging
	}
	if p.finalized || p.aborted {
		return 0, ErrSessionSettled
	}

	allowed := data
	var capErr error
	if p.declared != ports.SizeUnknown && p.written+int64(len(data)) > p.declared {
		allowed = data[:p.declared-p.written]
		capErr = ErrCapacityReached
	}

	n, err := p.f.Write(allowed)
	p.written += int64(n)
	if err != nil {
		return n, err
	}
	return n, capErr
}

// Finalize commits the staged image: fsync, close, rename into place.
func (p *File) Finalize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return ErrNotStaging
	}
	if p.finalized || p.aborted {
		return ErrSessionSettled
	}

	if err := p.f.Sync(); err != nil {
		_ = p.f.Close()
		return fmt.Errorf("staging sync: %w", err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("staging close: %w", err)
	}
	if err := os.Rename(p.partPath(), p.finalPath()); err != nil {
		return fmt.Errorf("staging commit: %w", err)
	}
	p.finalized = true
	return nil
}

// IsComplete reports whether the committed image is whole: finalized,
// non-empty, and matching the declared size when one was given.
func (p *File) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finalized || p.aborted || p.written == 0 {
		return false
	}
	if p.declared != ports.SizeUnknown && p.written != p.declared {
		return false
	}
	return true
}

// Abort discards everything this session produced. If the session already
// renamed a (truncated) image into place, that image is removed too — after
// Abort the slot must never be treated as bootable.
func (p *File) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aborted {
		return
	}
	p.aborted = true

	if p.f != nil && !p.finalized {
		_ = p.f.Close()
	}
	if err := os.Remove(p.partPath()); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("staging abort: remove partial failed", slog.String("error", err.Error()))
	}
	if p.finalized {
		if err := os.Remove(p.finalPath()); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("staging abort: remove committed image failed", slog.String("error", err.Error()))
		}
		p.finalized = false
	}
	p.f = nil
}

// BytesWritten returns the bytes accepted by this session so far.
func (p *File) BytesWritten() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}
