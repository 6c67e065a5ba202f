package client

import "errors"

var (
	ErrNotConnected  = errors.New("client is not connected")
	ErrClientClosed  = errors.New("client is closed")
	ErrMissingConfig = errors.New("server URL, session ID, user ID and role are required")

	// ErrChainStateLost means the chain position could not be recovered from
	// the local store and no fallback descriptor was provided.
	ErrChainStateLost = errors.New("sequential chain state lost")
	// ErrChainExhausted means an advance was requested past the last station.
	ErrChainExhausted = errors.New("sequential chain has no further stations")
)
