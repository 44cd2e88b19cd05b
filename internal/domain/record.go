package domain

import (
	"errors"
	"time"
)

type UpdateStatus string

const (
	UpdateSucceeded UpdateStatus = "succeeded"
	UpdateFailed    UpdateStatus = "failed"
)

// UpdateRecord is the persisted trace of one end-to-end update attempt.
type UpdateRecord struct {
	ID             string        `json:"id"`
	DeviceID       string        `json:"deviceId"`
	FromVersion    string        `json:"fromVersion"`
	ToVersion      string        `json:"toVersion"`
	Status         UpdateStatus  `json:"status"`
	Reason         FailureReason `json:"reason,omitempty"`
	BytesWritten   int64         `json:"bytesWritten"`
	DeclaredLength int64         `json:"declaredLength"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
}

// Validate checks domain invariants for UpdateRecord.
func (r UpdateRecord) Validate() error {
	if r.ID == "" {
		return errors.New("update id is required")
	}
	if r.BytesWritten < 0 {
		return errors.New("bytesWritten must not be negative")
	}
	switch r.Status {
	case UpdateSucceeded:
		if r.Reason != ReasonNone {
			return errors.New("succeeded record must not carry a failure reason")
		}
	case UpdateFailed:
		if r.Reason == ReasonNone {
			return errors.New("failed record requires a failure reason")
		}
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finishedAt must not precede startedAt")
	}
	return nil
}
