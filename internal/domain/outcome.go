package domain

// FailureReason classifies why a transfer attempt failed. All reasons are
// local to one attempt and non-fatal to the process; retry is exclusively the
// scheduler's responsibility on its next tick.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonStagingBegin FailureReason = "staging-begin-failed"
	ReasonWrite        FailureReason = "write-error"
	ReasonFinalize     FailureReason = "finalize-failed"
	ReasonIncomplete   FailureReason = "incomplete-transfer"
	ReasonCancelled    FailureReason = "cancelled"
)

// Outcome is the terminal result of one transfer session.
type Outcome struct {
	BytesWritten int64         `json:"bytesWritten"`
	Reason       FailureReason `json:"reason,omitempty"`
}

func Succeeded(bytesWritten int64) Outcome {
	return Outcome{BytesWritten: bytesWritten}
}

func Failed(reason FailureReason, bytesWritten int64) Outcome {
	return Outcome{BytesWritten: bytesWritten, Reason: reason}
}

// OK reports whether the transfer reached Succeeded.
func (o Outcome) OK() bool {
	return o.Reason == ReasonNone
}
