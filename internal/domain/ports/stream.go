package ports

// SizeUnknown is the declared length passed when the update server did not
// report a payload size (missing, zero or malformed Content-Length).
const SizeUnknown int64 = -1

// UpdateStream is the readable side of one firmware download. It exposes the
// polling shape the transfer controller needs: how many bytes can be read
// right now without blocking, and whether more may still arrive.
type UpdateStream interface {
	// BytesAvailable returns the number of bytes that can currently be read
	// without blocking.
	BytesAvailable() int

	// IsConnected reports whether the source may still produce bytes. Once it
	// returns false with no bytes available, the stream has ended.
	IsConnected() bool

	// ReadUpTo reads at most len(p) bytes. It does not block waiting for the
	// source: with nothing buffered it returns 0 and, after the source has
	// ended, the terminal error.
	ReadUpTo(p []byte) (int, error)
}
