package coordinator

import (
	"errors"
	"fmt"
)

// Terminal failure reasons of a run.
var (
	ErrAccessDenied        = errors.New("access denied")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrConnection          = errors.New("connection error")
	ErrProtocolUnsupported = errors.New("protocol unsupported")
	ErrPasswordUnavailable = errors.New("password unavailable")
	ErrReadError           = errors.New("read error")
	ErrNotAnArchive        = errors.New("not an archive")
)

// StageError reports the stage a run failed in and why. It unwraps to both
// the reason sentinel and the underlying cause.
type StageError struct {
	Stage  Stage
	Reason error
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}
