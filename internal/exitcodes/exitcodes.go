// Package exitcodes defines standard exit codes for CLI operations so that
// wrappers (cron, Airflow, Kubernetes jobs) can decide whether to retry.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
)

const (
	// Success - command completed without errors
	Success = 0

	// ConfigError - configuration/YAML/JSON parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - store connectivity or exhausted store reads (recoverable)
	ConnectionError = 2

	// ExecutionError - a transfer strategy failed (non-recoverable without intervention)
	ExecutionError = 3

	// ValidationError - rejected task/connection definition or unsupported operation
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM or task cancel (recoverable)
	Cancelled = 5

	// ConflictError - invalid status transition or operation on a running task
	ConflictError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7

	// NotFound - referenced connection or task does not exist
	NotFound = 8

	// Busy - executor queue full (recoverable)
	Busy = 9
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed errors win; message matching is the fallback for driver errors.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}

	switch etlerr.KindOf(err) {
	case etlerr.ErrValidation, etlerr.ErrUnsupported:
		return ValidationError
	case etlerr.ErrNotFound:
		return NotFound
	case etlerr.ErrConnectivity, etlerr.ErrTransient:
		return ConnectionError
	case etlerr.ErrConflict:
		return ConflictError
	case etlerr.ErrBusy:
		return Busy
	case etlerr.ErrExecution:
		return ExecutionError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"authentication",
		"access denied",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
	}) {
		return Cancelled
	}

	return ExecutionError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError, Busy:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case ExecutionError:
		return "execution error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case ConflictError:
		return "conflict"
	case IOError:
		return "I/O error (recoverable)"
	case NotFound:
		return "not found"
	case Busy:
		return "busy (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
