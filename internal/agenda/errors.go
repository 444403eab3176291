package agenda

import (
	"fmt"

	"github.com/hackgods/clinic-agenda/internal/conflict"
)

// RetryableError is a primary load or submit failure the user should see
// and may retry.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// UserMessage is the text shown next to the retry action.
func (e *RetryableError) UserMessage() string {
	return fmt.Sprintf("Não foi possível concluir (%s). Tente novamente.", e.Op)
}

// ConflictError rejects a save whose interval overlaps existing appointments
// without the fit-in flag.
type ConflictError struct {
	Result conflict.Result
}

func (e *ConflictError) Error() string {
	if e.Result.Message != "" {
		return "appointment conflict: " + e.Result.Message
	}
	return fmt.Sprintf("appointment conflicts with %d existing appointment(s)", len(e.Result.Conflicts))
}
