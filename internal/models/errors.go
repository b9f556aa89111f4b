package models

import "fmt"

// DuplicateSessionError is returned when a session id is already registered.
type DuplicateSessionError struct {
	ID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already exists: %s", e.ID)
}

// UnknownSessionError is returned for operations on a missing or inactive
// session. Target resolution logs and drops these rather than failing the
// whole call.
type UnknownSessionError struct {
	ID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown or inactive session: %s", e.ID)
}

// HandlerError wraps a failure from one registered type handler. It is
// collected per handler and never aborts delivery to other targets.
type HandlerError struct {
	Type MessageType
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s failed: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
