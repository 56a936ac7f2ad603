// Package auth validates publish attempts against one of two mutually
// exclusive back-ends: a signed-token HTTP callback, or a persistent
// control-channel connection to an external coordinator. Sessions depend on
// the Authorizer interface only; they never know which back-end is active.
package auth

import "github.com/pkg/errors"

// Event names the lifecycle event an Authorization is reporting.
type Event string

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
)

// Record describes one publish attempt (or its end) to an Authorizer.
type Record struct {
	Channel  string
	Key      string
	ClientIP string
	RTMPHost string
	RTMPPort int
	Event    Event
	// StreamID carries the id assigned at Start, so a later Stop call for
	// the same publish attempt can be correlated by the back-end.
	StreamID string
}

// Result is the outcome of an authorization Start request.
type Result struct {
	Accepted bool
	StreamID string
}

// Authorizer decides whether a publish attempt may proceed. Implementations
// must treat a transport failure on a Start event as a Reject (fail-closed);
// Stop events are best-effort and their error, if any, is only logged.
type Authorizer interface {
	Authorize(rec Record) (Result, error)
}

// ErrRejected is returned by an Authorizer when its back-end explicitly
// declined the request, as opposed to a transport-level failure.
var ErrRejected = errors.New("auth: publish attempt rejected")

// Reject is the zero-value Result for a declined or failed request.
var Reject = Result{Accepted: false}
