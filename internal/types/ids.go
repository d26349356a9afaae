// internal/types/ids.go
package types

import "github.com/google/uuid"

// SessionID is an opaque, globally unique identifier stable for the life of
// a session.
type SessionID string

// NewSessionID generates a fresh SessionID.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// CorrelationID tags an Internal error for operator cross-reference in logs.
type CorrelationID string

// NewCorrelationID generates a fresh CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}
