// ABOUTME: Error taxonomy shared by buffer, worker, and session manager
// ABOUTME: Callers classify failures with errors.Is against these sentinels
package domain

import "errors"

var (
	// ErrConfiguration covers invalid sampling rates and channel arity
	// mismatches. Fatal to the session.
	ErrConfiguration = errors.New("configuration error")

	// ErrDriver covers connection and sensor enumeration failures.
	ErrDriver = errors.New("driver error")

	// ErrPersistence covers flush I/O failures. Recovered locally.
	ErrPersistence = errors.New("persistence error")

	// ErrBufferClosed is returned by appends after the buffer was closed.
	ErrBufferClosed = errors.New("buffer closed")

	// ErrOutOfOrder is returned when a frame does not advance the sequence.
	ErrOutOfOrder = errors.New("sequence out of order")
)
