package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"otagent/internal/domain"
	"otagent/internal/domain/ports"
	"otagent/internal/metrics"
)

type CheckUpdateUseCase interface {
	Execute(ctx context.Context) (*UpdateJob, error)
}

type TransferRunner interface {
	Run(ctx context.Context, stream ports.UpdateStream, declaredLength int64) domain.Outcome
}

// ApplyUpdate orchestrates one update attempt end to end: check, transfer,
// record, and — only on success — reboot. The transfer controller computes
// the outcome; acting on it happens here, which keeps the transfer logic
// testable without a real reboot.
type ApplyUpdate struct {
	Check          CheckUpdateUseCase
	Transfer       TransferRunner
	Repo           ports.UpdateRepository
	Rebooter       ports.Rebooter
	DeviceID       string
	CurrentVersion string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Execute runs one attempt. It returns nil, nil when no update is available.
// A failed transfer is recorded and returned as a record, not an error: the
// next scheduled check is the retry.
func (a ApplyUpdate) Execute(ctx context.Context) (*domain.UpdateRecord, error) {
	now := a.Now
	if now == nil {
		now = time.Now
	}

	job, err := a.Check.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	defer func() {
		_ = job.Close()
	}()

	started := now().UTC()
	outcome := a.Transfer.Run(ctx, job.Stream, job.DeclaredLength)
	finished := now().UTC()
	metrics.TransferDuration.Observe(finished.Sub(started).Seconds())

	rec := domain.UpdateRecord{
		ID:             uuid.NewString(),
		DeviceID:       a.DeviceID,
		FromVersion:    a.CurrentVersion,
		ToVersion:      job.Manifest.Version,
		Status:         domain.UpdateSucceeded,
		Reason:         outcome.Reason,
		BytesWritten:   outcome.BytesWritten,
		DeclaredLength: job.DeclaredLength,
		StartedAt:      started,
		FinishedAt:     finished,
	}
	if !outcome.OK() {
		rec.Status = domain.UpdateFailed
	}

	if a.Repo != nil {
		if err := a.Repo.Insert(ctx, rec); err != nil {
			// History is advisory; the outcome stands either way.
			a.Logger.Warn("update history insert failed", slog.String("error", err.Error()))
		}
	}

	if !outcome.OK() {
		a.Logger.Warn("update attempt failed",
			slog.String("reason", string(outcome.Reason)),
			slog.Int64("bytesWritten", outcome.BytesWritten),
			slog.String("toVersion", rec.ToVersion),
		)
		return &rec, nil
	}

	a.Logger.Info("firmware staged",
		slog.String("fromVersion", rec.FromVersion),
		slog.String("toVersion", rec.ToVersion),
		slog.Int64("bytesWritten", outcome.BytesWritten),
	)
	if a.Rebooter != nil {
		if err := a.Rebooter.Reboot(ctx); err != nil {
			a.Logger.Error("reboot failed", slog.String("error", err.Error()))
		}
	}
	return &rec, nil
}
