package ports

import (
	"context"

	"otagent/internal/domain"
)

type UpdateRepository interface {
	Insert(ctx context.Context, rec domain.UpdateRecord) error
	List(ctx context.Context, limit int) ([]domain.UpdateRecord, error)
	Latest(ctx context.Context) (domain.UpdateRecord, error)
}
