package hard

import "errors"

var (
	// ErrProtocolViolation is fatal: a peer broke the mutex protocol.
	ErrProtocolViolation = errors.New("hard: protocol violation")
	// ErrNodeGone reports a request for a node that no longer exists.
	ErrNodeGone = errors.New("hard: node gone")
)
