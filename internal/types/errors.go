package types

import (
	"errors"
	"fmt"
)

// Kind classifies a core-level failure into the taxonomy the HTTP and stdio
// adapters map onto status codes. Kinds, not distinct error types, per the
// core's error handling design.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindOverloaded  Kind = "overloaded"
	KindInUse       Kind = "in_use"
	KindTimeout     Kind = "timeout"
	KindCancelled   Kind = "cancelled"
	KindEngineFault Kind = "engine_fault"
	KindEngineGone  Kind = "engine_gone"
	KindToolError   Kind = "tool_error"
	KindInternal    Kind = "internal"
)

// Fault is the error value carried across scheduler/session/httpapi
// boundaries. Callers that need the Kind to pick a status code or a
// recovery path extract it with errors.As (see KindOf); everywhere else it
// is used as a plain error.
type Fault struct {
	Kind          Kind
	Op            string
	SessionID     SessionID
	Err           error
	CorrelationID CorrelationID
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a Fault, stamping a fresh CorrelationID when Kind is
// Internal so operators can cross-reference the log line.
func NewFault(kind Kind, op string, sessionID SessionID, err error) *Fault {
	f := &Fault{Kind: kind, Op: op, SessionID: sessionID, Err: err}
	if kind == KindInternal {
		f.CorrelationID = NewCorrelationID()
	}
	return f
}

// KindOf extracts the Kind from err if it is (or wraps) a *Fault, defaulting
// to KindInternal for anything else.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}
