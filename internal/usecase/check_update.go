package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"otagent/internal/domain"
	"otagent/internal/domain/ports"
	"otagent/internal/source"
)

// HTTPDoer is satisfied by any *http.Client, but also easy to implement when
// extra middleware is desired.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// UpdateJob is an offered firmware image ready to be transferred. Close must
// be called once the transfer settles.
type UpdateJob struct {
	Manifest       domain.UpdateManifest
	Stream         ports.UpdateStream
	DeclaredLength int64
	Close          func() error
}

// CheckUpdate asks the update server whether newer firmware exists for this
// device. A non-200 response means "no update available", never an error, and
// never reaches the transfer controller.
type CheckUpdate struct {
	Client         HTTPDoer
	Endpoint       string
	DeviceID       string
	CurrentVersion string
	BufferSize     int
	Logger         *slog.Logger
}

// Execute returns the offered job, or nil when the device is up to date.
func (c CheckUpdate) Execute(ctx context.Context) (*UpdateJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("update check request: %w", err)
	}
	req.Header.Set("X-Device-ID", c.DeviceID)
	req.Header.Set("X-Firmware-Version", c.CurrentVersion)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update check: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		c.Logger.Debug("no update available",
			slog.Int("status", resp.StatusCode),
			slog.String("currentVersion", c.CurrentVersion),
		)
		return nil, nil
	}

	declared := resp.ContentLength
	if declared <= 0 {
		declared = ports.SizeUnknown
	}

	buf := source.NewBuffer(resp.Body, c.BufferSize, c.Logger)
	job := &UpdateJob{
		Manifest: domain.UpdateManifest{
			Version: resp.Header.Get("X-Firmware-Version"),
			Size:    declared,
		},
		Stream:         buf,
		DeclaredLength: declared,
		Close:          buf.Close,
	}
	c.Logger.Info("update offered",
		slog.String("version", job.Manifest.Version),
		slog.Int64("declaredLength", declared),
	)
	return job, nil
}
