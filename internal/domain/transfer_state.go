package domain

import "fmt"

// TransferState represents the FSM state of one firmware transfer session.
type TransferState int

const (
	TransferIdle       TransferState = iota
	TransferWriting                  // Streaming chunks into the staging partition
	TransferFinalizing               // Stream closed, running completion checks
	TransferSucceeded                // Terminal: image staged and complete
	TransferFailed                   // Terminal: attempt failed, partition discarded
	TransferAborted                  // Sub-state: staging partition told to discard
)

var transferStateNames = [...]string{
	"idle", "writing", "finalizing",
	"succeeded", "failed", "aborted",
}

func (s TransferState) String() string {
	if int(s) < len(transferStateNames) {
		return transferStateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether the session can make no further progress.
// Aborted is terminal-equivalent to Failed: it exists to signal the staging
// partition to discard uncommitted data before the session settles on Failed.
func (s TransferState) Terminal() bool {
	return s == TransferSucceeded || s == TransferFailed
}
