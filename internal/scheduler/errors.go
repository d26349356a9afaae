package scheduler

import (
	"errors"

	"github.com/rulehost/rulehost/internal/types"
)

// Kind and Fault are the scheduler's error vocabulary. They are the same
// taxonomy internal/session and internal/httpapi use; scheduler callers
// that only ever import this package get the names without an extra
// import of internal/types.
type Kind = types.Kind

type Fault = types.Fault

const (
	KindNotFound    = types.KindNotFound
	KindValidation  = types.KindValidation
	KindOverloaded  = types.KindOverloaded
	KindInUse       = types.KindInUse
	KindTimeout     = types.KindTimeout
	KindCancelled   = types.KindCancelled
	KindEngineFault = types.KindEngineFault
	KindEngineGone  = types.KindEngineGone
	KindToolError   = types.KindToolError
	KindInternal    = types.KindInternal
)

// NewFault constructs a scheduler-classified error.
func NewFault(kind Kind, op string, sessionID types.SessionID, err error) *Fault {
	return types.NewFault(kind, op, sessionID, err)
}

// KindOf reports the classification of err, or KindInternal if err carries
// none.
func KindOf(err error) Kind {
	return types.KindOf(err)
}

func wrapEngineErr(err error, op string, sessionID types.SessionID) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return NewFault(KindEngineFault, op, sessionID, err)
}
