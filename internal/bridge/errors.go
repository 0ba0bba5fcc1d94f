package bridge

import "errors"

// Standard errors returned by the engine session.
var (
	// ErrNotStarted indicates no engine process is running.
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted indicates the engine is already running.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNoResponse indicates the engine closed its output before replying.
	ErrNoResponse = errors.New("no response from engine")

	// ErrUnresponsive indicates the engine did not reply within the invoke
	// timeout.
	ErrUnresponsive = errors.New("engine unresponsive")

	// ErrOutOfSync indicates a previous call abandoned its reply, so replies
	// can no longer be correlated; the session must be restarted.
	ErrOutOfSync = errors.New("session out of sync with engine")

	// ErrMalformedResponse indicates a reply line that is not valid JSON.
	ErrMalformedResponse = errors.New("malformed engine response")

	// ErrInvalidEnvelope indicates a request that cannot be framed as a
	// single JSON line.
	ErrInvalidEnvelope = errors.New("invalid request envelope")
)
