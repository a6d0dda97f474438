package remote

import (
	"errors"
	"fmt"
)

// Error categories surfaced by Client.
var (
	// ErrTransport covers connection failures and timeouts.
	ErrTransport = errors.New("remote: transport error")
	// ErrAuth means the replica refused the token.
	ErrAuth = errors.New("remote: unauthorized")
	// ErrProtocol means the response is not a snapshot envelope.
	ErrProtocol = errors.New("remote: protocol error")
	// ErrNotFound means the replica has no snapshot for the token. Only a
	// fetch reports it.
	ErrNotFound = errors.New("remote: snapshot not found")
	// ErrRemoteRejected means any other non-success status, or a push reply
	// that explicitly says "ok": false.
	ErrRemoteRejected = errors.New("remote: request rejected")
)

// RejectedError carries the status and body of a refused request.
type RejectedError struct {
	Status int
	// Code is the machine-readable "error" (or "message") field of the body.
	Code string
	Body string
}

func (e *RejectedError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("remote: rejected with status %d: %s", e.Status, e.Code)
	case e.Body != "":
		return fmt.Sprintf("remote: rejected with status %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("remote: rejected with status %d", e.Status)
	}
}

// Unwrap lets errors.Is match ErrRemoteRejected.
func (e *RejectedError) Unwrap() error { return ErrRemoteRejected }
