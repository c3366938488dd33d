// Package provision provides the core types and the orchestrator for the
// rigup provisioning engine. It defines the run workflow: Profile -> Facts ->
// Stages -> Steps -> RunReport.
package provision

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a step failure for reporting and retry decisions.
type ErrorClass string

const (
	// ErrorClassExecution indicates a process could not be spawned at all.
	// Examples: executable not found, fork failure.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassIO indicates a file read/write failure.
	// Examples: permission denied, path is a directory, disk full.
	ErrorClassIO ErrorClass = "io"

	// ErrorClassInstall indicates the package manager reported a failure
	// for one or more packages.
	ErrorClassInstall ErrorClass = "install"

	// ErrorClassSupervisor indicates the service supervisor rejected a
	// unit definition or a control command.
	ErrorClassSupervisor ErrorClass = "supervisor"

	// ErrorClassTimeout indicates an external command exceeded its bound.
	ErrorClassTimeout ErrorClass = "timeout"
)

// Error is a classified provisioning error with step context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the step id that produced the error, if known.
	Step string `json:"step,omitempty"`

	// Stage is the stage name the step belongs to, if known.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error. Its text is never rewritten, only
	// annotated with the context above.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Stage != "" && e.Step != "":
		return fmt.Sprintf("[%s] %s (stage=%s, step=%s): %s",
			e.Class, e.Message, e.Stage, e.Step, e.unwrapMessage())
	case e.Step != "":
		return fmt.Sprintf("[%s] %s (step=%s): %s",
			e.Class, e.Message, e.Step, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewIOError creates a new file I/O error.
func NewIOError(message string, err error) *Error {
	return &Error{Class: ErrorClassIO, Message: message, Err: err}
}

// NewInstallError creates a new package install error.
func NewInstallError(message string, err error) *Error {
	return &Error{Class: ErrorClassInstall, Message: message, Err: err}
}

// NewSupervisorError creates a new service supervisor error.
func NewSupervisorError(message string, err error) *Error {
	return &Error{Class: ErrorClassSupervisor, Message: message, Err: err}
}

// NewTimeoutError creates a new command timeout error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Class: ErrorClassTimeout, Message: message, Err: err, Code: ErrCodeTimeout}
}

// WithStep adds step context to an error.
func (e *Error) WithStep(stepID string) *Error {
	e.Step = stepID
	return e
}

// WithStage adds stage context to an error.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// ClassOf returns the error class of err, or the empty string when err is
// not a classified provisioning error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	return ClassOf(err) == ErrorClassTimeout
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return ClassOf(err) == ErrorClassExecution
}

// IsSupervisor returns true if the error is classified as a supervisor error.
func IsSupervisor(err error) bool {
	return ClassOf(err) == ErrorClassSupervisor
}

// Common error codes.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeSpawnFailed   = "SPAWN_FAILED"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodePermission    = "PERMISSION_DENIED"
	ErrCodeUnitRejected  = "UNIT_REJECTED"
	ErrCodePackageFailed = "PACKAGE_FAILED"
	ErrCodeGuardFailed   = "GUARD_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)
