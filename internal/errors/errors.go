// Package errors defines the error taxonomy used across ralph.
//
// Every failure the research pipeline can surface maps onto one of a small
// set of sentinels:
//   - ErrNotFound: a referenced session or task does not exist
//   - ErrConflict: a compare-and-swap save observed a newer document
//   - ErrHandlerFailure: a task handler raised or returned a failed result
//   - ErrHandlerTimeout: a handler exceeded its deadline (also matches ErrHandlerFailure)
//   - ErrInvalidTransition: the phase controller rejected the requested move
//   - ErrPlanningFailure: planning produced no work for a non-empty brief
//
// Typed errors (SessionError, HandlerError, TransitionError, ...) carry
// structured context and match their sentinel through errors.Is:
//
//	err := errors.NewConflictError("20240101_120000_btc", loadedAt, currentAt)
//	if errors.Is(err, errors.ErrConflict) { ... }
//
//	var herr *errors.HandlerError
//	if errors.As(err, &herr) && herr.Timeout { ... }
//
// # Classification
//
// Errors also carry a Severity and two flags used by the CLI:
//   - Retryable: the caller may reload and retry (conflicts, timeouts)
//   - UserFacing: the message is safe to print without a stack of context
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers need a single import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for contract violations that abort a run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates that a session, task or artifact does not exist.
	ErrNotFound = New("not found")
	// ErrConflict indicates a stale write detected by compare-and-swap.
	ErrConflict = New("conflict: session was modified since it was loaded")
	// ErrHandlerFailure indicates a task handler raised or reported failure.
	ErrHandlerFailure = New("handler failure")
	// ErrHandlerTimeout indicates a task handler exceeded its deadline.
	ErrHandlerTimeout = New("handler timeout")
	// ErrInvalidTransition indicates the phase controller rejected a move.
	ErrInvalidTransition = New("invalid phase transition")
	// ErrPlanningFailure indicates planning produced no tasks.
	ErrPlanningFailure = New("planning failure")
	// ErrStageFailure indicates a non-loop phase collaborator failed.
	ErrStageFailure = New("stage failure")
)

var (
	// ErrSessionLocked indicates that another live process holds the session.
	ErrSessionLocked = New("session is locked")
	// ErrSessionCorrupted indicates the session document could not be decoded.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrBudgetExhausted indicates the controller loop ran out of phase steps.
	ErrBudgetExhausted = New("phase step budget exhausted")
	// ErrCancelled indicates the run was interrupted at a phase boundary.
	ErrCancelled = New("run cancelled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// RalphError is implemented by every typed error in this package.
type RalphError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// withContext renders "kind [k=v, ...]: message: cause".
func (e *baseError) withContext(kind string, pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			parts = append(parts, pairs[i]+"="+pairs[i+1])
		}
	}
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// SessionError
// -----------------------------------------------------------------------------

// SessionError represents failures in session storage and lifecycle.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionCorrupted).
//		WithSessionID("20240101_120000_btc")
//	// "session error [session=20240101_120000_btc]: failed to load session: session data corrupted"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{baseError: baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

func (e *SessionError) Error() string {
	return e.withContext("session error", "session", e.SessionID)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// NotFoundError
// -----------------------------------------------------------------------------

// NotFoundError reports a missing session, task or artifact.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a NotFoundError for the given resource.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause attaches an underlying error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return e.message
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// ConflictError
// -----------------------------------------------------------------------------

// ConflictError reports a compare-and-swap failure: the document on disk
// has an updated_at newer than the one the writer loaded.
type ConflictError struct {
	baseError
	SessionID string
	Expected  time.Time
	Actual    time.Time
}

// NewConflictError creates a ConflictError.
func NewConflictError(sessionID string, expected, actual time.Time) *ConflictError {
	return &ConflictError{
		baseError: baseError{
			message:    "session was modified since it was loaded",
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		SessionID: sessionID,
		Expected:  expected,
		Actual:    actual,
	}
}

func (e *ConflictError) Error() string {
	return e.withContext("conflict",
		"session", e.SessionID,
		"loaded", e.Expected.Format(time.RFC3339Nano),
		"current", e.Actual.Format(time.RFC3339Nano))
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	_, ok := target.(*ConflictError)
	return ok
}

// -----------------------------------------------------------------------------
// HandlerError
// -----------------------------------------------------------------------------

// HandlerError reports a task handler fault. Timeouts are a specialization
// and match both ErrHandlerTimeout and ErrHandlerFailure.
type HandlerError struct {
	baseError
	TaskID  string
	Kind    string
	Timeout bool
}

// NewHandlerError creates a HandlerError.
func NewHandlerError(message string, cause error) *HandlerError {
	return &HandlerError{baseError: baseError{
		message:  message,
		cause:    cause,
		severity: SeverityWarning,
	}}
}

// NewHandlerTimeout creates a HandlerError flagged as a timeout.
func NewHandlerTimeout(taskID string, after time.Duration) *HandlerError {
	e := NewHandlerError(fmt.Sprintf("handler did not finish within %s", after), nil)
	e.TaskID = taskID
	e.Timeout = true
	e.retryable = true
	return e
}

// WithTask adds the task id and kind to the error context.
func (e *HandlerError) WithTask(id, kind string) *HandlerError {
	e.TaskID = id
	e.Kind = kind
	return e
}

func (e *HandlerError) Error() string {
	kind := "handler failure"
	if e.Timeout {
		kind = "handler timeout"
	}
	return e.withContext(kind, "task", e.TaskID, "kind", e.Kind)
}

// Is matches ErrHandlerFailure, and ErrHandlerTimeout when Timeout is set.
func (e *HandlerError) Is(target error) bool {
	switch target {
	case ErrHandlerFailure:
		return true
	case ErrHandlerTimeout:
		return e.Timeout
	}
	if _, ok := target.(*HandlerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// TransitionError
// -----------------------------------------------------------------------------

// TransitionError reports a phase move the controller refused.
type TransitionError struct {
	baseError
	From string
	To   string
}

// NewTransitionError creates a TransitionError. To may be empty when the
// controller could not select any edge.
func NewTransitionError(from, to, reason string) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:  reason,
			severity: SeverityCritical,
		},
		From: from,
		To:   to,
	}
}

func (e *TransitionError) Error() string {
	return e.withContext("invalid transition", "from", e.From, "to", e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	_, ok := target.(*TransitionError)
	return ok
}

// -----------------------------------------------------------------------------
// PlanningError
// -----------------------------------------------------------------------------

// PlanningError reports that the planner or coverage evaluator could not
// produce the work needed to move forward.
type PlanningError struct {
	baseError
	SessionID string
}

// NewPlanningError creates a PlanningError.
func NewPlanningError(sessionID, message string) *PlanningError {
	return &PlanningError{
		baseError: baseError{
			message:  message,
			severity: SeverityCritical,
		},
		SessionID: sessionID,
	}
}

func (e *PlanningError) Error() string {
	return e.withContext("planning failure", "session", e.SessionID)
}

// Is matches ErrPlanningFailure.
func (e *PlanningError) Is(target error) bool {
	if target == ErrPlanningFailure {
		return true
	}
	_, ok := target.(*PlanningError)
	return ok
}

// -----------------------------------------------------------------------------
// StageError
// -----------------------------------------------------------------------------

// StageError reports that the collaborator of a non-loop phase failed.
type StageError struct {
	baseError
	Phase string
}

// NewStageError creates a StageError for phase.
func NewStageError(phase, message string, cause error) *StageError {
	return &StageError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Phase: phase,
	}
}

func (e *StageError) Error() string {
	return e.withContext("stage failure", "phase", e.Phase)
}

// Is matches ErrStageFailure.
func (e *StageError) Is(target error) bool {
	if target == ErrStageFailure {
		return true
	}
	if _, ok := target.(*StageError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError reports invalid user input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{
		message:    message,
		severity:   SeverityWarning,
		userFacing: true,
	}}
}

// WithField sets the offending field name.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg = fmt.Sprintf("validation error [field=%s]", e.Field)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.message)
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	return msg
}

// Is matches ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether the operation may succeed if repeated after a
// reload.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RalphError
	if As(err, &re) {
		return re.IsRetryable()
	}
	return Is(err, ErrConflict) || Is(err, ErrHandlerTimeout)
}

// IsUserFacing reports whether the error message is safe to print as-is.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var re RalphError
	if As(err, &re) {
		return re.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var re RalphError
	if As(err, &re) {
		return re.Severity()
	}
	return SeverityError
}

// Kind names the taxonomy bucket of err. It is persisted in a failed
// session's error record.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrConflict):
		return "conflict"
	case Is(err, ErrHandlerTimeout):
		return "handler_timeout"
	case Is(err, ErrHandlerFailure):
		return "handler_failure"
	case Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case Is(err, ErrPlanningFailure):
		return "planning_failure"
	case Is(err, ErrStageFailure):
		return "stage_failure"
	case Is(err, ErrBudgetExhausted):
		return "budget_exhausted"
	case Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}
