// Package memory keeps update history in process memory, bounded to the most
// recent attempts. The default for standalone devices with no history store
// configured.
package memory

import (
	"context"
	"sync"

	"otagent/internal/domain"
)

const defaultCapacity = 100

type Repository struct {
	mu       sync.Mutex
	records  []domain.UpdateRecord
	capacity int
}

func NewRepository(capacity int) *Repository {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Repository{capacity: capacity}
}

func (r *Repository) Insert(ctx context.Context, rec domain.UpdateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.ID == rec.ID {
			return domain.ErrAlreadyExists
		}
	}
	// Newest first.
	r.records = append([]domain.UpdateRecord{rec}, r.records...)
	if len(r.records) > r.capacity {
		r.records = r.records[:r.capacity]
	}
	return nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.UpdateRecord, n)
	copy(out, r.records[:n])
	return out, nil
}

func (r *Repository) Latest(ctx context.Context) (domain.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return domain.UpdateRecord{}, domain.ErrNotFound
	}
	return r.records[0], nil
}
