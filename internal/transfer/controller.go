package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"otagent/internal/domain"
	"otagent/internal/domain/ports"
	"otagent/internal/metrics"
)

const (
	defaultChunkSize    = 2048
	defaultPollInterval = 50 * time.Millisecond
)

// Config holds the tunable parameters of a transfer session.
type Config struct {
	// ChunkSize caps each read/write chunk, bounding peak memory use
	// independent of the firmware image size. Default 2048.
	ChunkSize int

	// PollInterval is how long the controller yields when the stream has no
	// bytes available but remains connected. The loop must never busy-spin:
	// other device responsibilities (watchdog feeding among them) share the
	// CPU. Default 50ms.
	PollInterval time.Duration

	// BandwidthLimit caps the download rate in bytes per second.
	// 0 means unlimited.
	BandwidthLimit int64
}

// Controller drives one firmware image from an UpdateStream into the staging
// partition and settles on a terminal Outcome. It owns the session state for
// the duration of Run; calls must be serialized — the staging partition has
// exactly one writer between Begin and Finalize/Abort.
type Controller struct {
	partition ports.StagingPartition
	logger    *slog.Logger
	cfg       Config
	limiter   *rate.Limiter

	mu           sync.Mutex
	state        domain.TransferState
	bytesWritten int64
	declared     int64
	aborted      bool
	onProgress   func(written, declared int64)
}

func New(partition ports.StagingPartition, logger *slog.Logger, cfg Config) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	c := &Controller{
		partition: partition,
		logger:    logger,
		cfg:       cfg,
		state:     domain.TransferIdle,
		declared:  ports.SizeUnknown,
	}
	if cfg.BandwidthLimit > 0 {
		// Burst of one chunk keeps WaitN satisfiable for every write.
		burst := cfg.ChunkSize
		if int64(burst) < cfg.BandwidthLimit {
			burst = int(cfg.BandwidthLimit)
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthLimit), burst)
	}
	return c
}

// OnProgress registers a callback invoked at chunk granularity with the
// running byte count and the declared length (SizeUnknown when unreported).
// Must be set before Run.
func (c *Controller) OnProgress(fn func(written, declared int64)) {
	c.mu.Lock()
	c.onProgress = fn
	c.mu.Unlock()
}

// Progress returns the bytes written so far and the current session state.
func (c *Controller) Progress() (int64, domain.TransferState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesWritten, c.state
}

// Run streams the firmware image from stream into the staging partition.
// declaredLength is the server-reported payload size; zero or negative values
// are treated as unknown, never as an empty-image success shortcut. Run always
// returns a terminal Outcome; on any failure after Begin the partition has
// been told to Abort so a half-written image can never be selected at next
// boot. Retry belongs to the caller's next scheduled attempt, never to Run.
func (c *Controller) Run(ctx context.Context, stream ports.UpdateStream, declaredLength int64) domain.Outcome {
	if declaredLength <= 0 {
		declaredLength = ports.SizeUnknown
	}
	c.reset(declaredLength)

	if err := c.partition.Begin(declaredLength); err != nil {
		// Nothing was opened; no cleanup needed.
		c.logger.Error("transfer staging begin failed", slog.String("error", err.Error()))
		c.transitionTo(domain.TransferFailed)
		return c.settle(domain.ReasonStagingBegin)
	}
	c.transitionTo(domain.TransferWriting)

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		if ctx.Err() != nil {
			return c.fail(domain.ReasonCancelled)
		}

		if stream.BytesAvailable() == 0 {
			if !stream.IsConnected() {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}

		n, err := stream.ReadUpTo(buf)
		if n > 0 {
			if c.limiter != nil {
				if werr := c.limiter.WaitN(ctx, n); werr != nil {
					return c.fail(domain.ReasonCancelled)
				}
			}
			wn, werr := c.partition.Write(buf[:n])
			if werr != nil || wn != n {
				if werr != nil {
					c.logger.Error("transfer write failed",
						slog.Int("requested", n),
						slog.Int("acknowledged", wn),
						slog.String("error", werr.Error()),
					)
				} else {
					c.logger.Error("transfer short write",
						slog.Int("requested", n),
						slog.Int("acknowledged", wn),
					)
				}
				return c.fail(domain.ReasonWrite)
			}
			c.advance(wn)
		}
		if err != nil {
			// A read error ends the stream; the completion checks below
			// decide the outcome, same as a network cut mid-transfer.
			c.logger.Warn("transfer stream read error", slog.String("error", err.Error()))
			break
		}
	}

	c.transitionTo(domain.TransferFinalizing)
	written, _ := c.Progress()

	// An empty image is never valid, and when the server declared a length the
	// byte count must match it exactly before the partition is even consulted.
	if written == 0 || (declaredLength != ports.SizeUnknown && written != declaredLength) {
		c.logger.Error("transfer incomplete",
			slog.Int64("bytesWritten", written),
			slog.Int64("declaredLength", declaredLength),
		)
		return c.fail(domain.ReasonIncomplete)
	}
	if err := c.partition.Finalize(); err != nil {
		c.logger.Error("transfer finalize failed", slog.String("error", err.Error()))
		return c.fail(domain.ReasonFinalize)
	}
	if !c.partition.IsComplete() {
		c.logger.Error("transfer finalized but image not complete",
			slog.Int64("bytesWritten", written),
		)
		return c.fail(domain.ReasonIncomplete)
	}

	c.transitionTo(domain.TransferSucceeded)
	c.logger.Info("transfer succeeded", slog.Int64("bytesWritten", written))
	return c.settleSucceeded(written)
}

func (c *Controller) reset(declared int64) {
	c.mu.Lock()
	c.state = domain.TransferIdle
	c.bytesWritten = 0
	c.declared = declared
	c.aborted = false
	c.mu.Unlock()
	metrics.TransferProgressBytes.Set(0)
}

func (c *Controller) advance(n int) {
	c.mu.Lock()
	c.bytesWritten += int64(n)
	written := c.bytesWritten
	declared := c.declared
	fn := c.onProgress
	c.mu.Unlock()

	metrics.TransferBytesTotal.Add(float64(n))
	metrics.TransferProgressBytes.Set(float64(written))
	if fn != nil {
		fn(written, declared)
	}
}

func (c *Controller) transitionTo(s domain.TransferState) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	metrics.TransferStateTransitionsTotal.WithLabelValues(from.String(), s.String()).Inc()
	c.logger.Debug("transfer state transition",
		slog.String("from", from.String()),
		slog.String("to", s.String()),
	)
}

// fail discards the staged image and settles the session on Failed. Abort is
// invoked at most once per session.
func (c *Controller) fail(reason domain.FailureReason) domain.Outcome {
	c.mu.Lock()
	alreadyAborted := c.aborted
	c.aborted = true
	c.mu.Unlock()

	if !alreadyAborted {
		c.transitionTo(domain.TransferAborted)
		c.partition.Abort()
	}
	c.transitionTo(domain.TransferFailed)
	return c.settle(reason)
}

func (c *Controller) settle(reason domain.FailureReason) domain.Outcome {
	written, _ := c.Progress()
	metrics.TransfersTotal.WithLabelValues(string(reason)).Inc()
	return domain.Failed(reason, written)
}

func (c *Controller) settleSucceeded(written int64) domain.Outcome {
	metrics.TransfersTotal.WithLabelValues("succeeded").Inc()
	return domain.Succeeded(written)
}
