package domain

import "errors"

var (
	// ErrBusy rejects a send for a session that already has an in-flight
	// response stream.
	ErrBusy = errors.New("session has a response in flight")

	// ErrSessionNotFound reports an operation against an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound reports an edit of a message id that is not in the
	// active session.
	ErrMessageNotFound = errors.New("message not found")
)
