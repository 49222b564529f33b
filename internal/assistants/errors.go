package assistants

import "fmt"

// NotAllowedError reports a permission denial. Denials happen before any
// mutation, so a caller seeing this error can assume no side effects.
type NotAllowedError struct {
	msg string
}

func (e *NotAllowedError) Error() string { return e.msg }

func notAllowed(msg string) error { return &NotAllowedError{msg: msg} }

// NotDefinedError reports a lookup for an assistant id that was never
// registered.
type NotDefinedError struct {
	ID string
}

func (e *NotDefinedError) Error() string {
	return fmt.Sprintf("Assistant with id=%s not found", e.ID)
}
