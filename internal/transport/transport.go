// Package transport is the boundary between the agenda core and whatever
// executes named actions remotely.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Action names understood by the agenda server.
const (
	ActionListDay          = "agenda.listDay"
	ActionListWeek         = "agenda.listWeek"
	ActionValidateConflict = "agenda.validateConflict"
	ActionCreate           = "agenda.create"
	ActionUpdate           = "agenda.update"
	ActionChangeStatus     = "agenda.changeStatus"
	ActionCancel           = "agenda.cancel"
	ActionUnblock          = "agenda.unblock"
	ActionGetPatient       = "patients.get"
	ActionSearchPatients   = "patients.search"
)

// CodeCancelled marks a call aborted by its caller.
const CodeCancelled = "cancelled"

// Transport executes a named action with a JSON-encodable payload.
// Implementations must return promptly with a cancelled error once ctx is done.
type Transport interface {
	Call(ctx context.Context, action string, payload any) (json.RawMessage, error)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, action string, payload any) (json.RawMessage, error)

func (f Func) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	return f(ctx, action, payload)
}

// Error is a failed call. Code is machine readable and may be empty.
type Error struct {
	Action  string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Action, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Cancelled builds the error a transport returns when ctx ended first.
func Cancelled(action string, cause error) *Error {
	return &Error{Action: action, Code: CodeCancelled, Message: "request cancelled", Err: cause}
}

// IsCancelled separates caller aborts from genuine transport failures.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var te *Error
	return errors.As(err, &te) && te.Code == CodeCancelled
}

// CodeOf returns the machine readable code of err, or "".
func CodeOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Do calls action and decodes the result into out when out is non-nil.
func Do(ctx context.Context, t Transport, action string, payload, out any) error {
	raw, err := t.Call(ctx, action, payload)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Action: action, Code: "bad_response", Message: "could not decode response", Err: err}
	}
	return nil
}
