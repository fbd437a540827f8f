package transport

import "errors"

var (
	// ErrConnect means the socket path is missing or the daemon refused the
	// connection. It is never retried.
	ErrConnect = errors.New("transport: could not connect to daemon")

	// ErrStream is a write or decode failure on an established connection.
	// After a decode failure the read position is lost and the transport is closed.
	ErrStream = errors.New("transport: stream error")

	// ErrNoListener means a response arrived for an id with no pending request:
	// never sent, answered twice, or already resolved. The stream is still in sync.
	ErrNoListener = errors.New("transport: no listener registered")

	ErrClosed        = errors.New("transport: closed")
	ErrDuplicateID   = errors.New("transport: request id already pending")
	ErrReaderRunning = errors.New("transport: background reader owns the stream")
)
