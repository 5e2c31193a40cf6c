package core

import (
	"github.com/google/uuid"
)

// NewSessionID returns a unique id for an RPC session.
func NewSessionID() string {
	return uuid.New().String()
}

// NewCorrelationID returns a unique id attached to a single tool call and
// propagated through logs, traces, and upstream requests.
func NewCorrelationID() string {
	return uuid.New().String()
}
