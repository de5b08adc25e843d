package transport

import "errors"

var (
	// ErrConnectionTimeout is returned when the TCP connect does not
	// complete within the configured connection timeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrCommandTimeout is returned when no reply arrives for a single
	// command within the configured command timeout.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrPipelineCommandTimeout is the pipelined variant of
	// ErrCommandTimeout.
	ErrPipelineCommandTimeout = errors.New("pipeline command timeout")

	// ErrPoolAcquireTimeout is returned when a saturated pool does not
	// free a connection in time.
	ErrPoolAcquireTimeout = errors.New("pool acquisition timeout")

	// ErrConnectionClosed is returned for requests outstanding when the
	// peer closes the connection or a socket error occurs.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionDestroyed is returned for requests outstanding when
	// the connection is forcibly torn down, e.g. by pool eviction.
	ErrConnectionDestroyed = errors.New("connection destroyed")

	// ErrPoolClosed is returned by acquire after the pool shut down.
	ErrPoolClosed = errors.New("pool closed")
)
