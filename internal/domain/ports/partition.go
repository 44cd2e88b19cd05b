package ports

// StagingPartition is the write target for one firmware image. The transfer
// controller is its sole writer between Begin and Finalize/Abort; at most one
// session may hold it at a time.
type StagingPartition interface {
	// Begin opens the staging slot. sizeHint is the declared image length, or
	// SizeUnknown when the server did not report one.
	Begin(sizeHint int64) error

	// Write appends p to the staged image. Acknowledging fewer than len(p)
	// bytes is fatal for the session; the controller never retries a chunk.
	Write(p []byte) (int, error)

	// Finalize commits the staged image.
	Finalize() error

	// IsComplete reports whether the staged image is whole. It is checked
	// independently of Finalize: a stream cut mid-transfer can make Finalize
	// nominally succeed while the image is truncated.
	IsComplete() bool

	// Abort discards uncommitted data. After Abort the slot must never be
	// treated as bootable.
	Abort()
}
