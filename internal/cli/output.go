package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/patronupdate/internal/pipeline"
)

// Exit codes for the command.
const (
	ExitSuccess      = 0 // Run finished or was cancelled
	ExitFailure      = 1 // Run stopped early (unreadable input mid-run, report not written)
	ExitCommandError = 2 // Configuration or usage error, nothing processed
)

// ExitError carries the process exit code alongside the error.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError, and ExitSuccess
// for nil.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printSummary writes the one-line human summary of a run.
func printSummary(w io.Writer, s pipeline.Summary, commit bool) {
	mode := "dry run"
	if commit {
		mode = "committed"
	}
	fmt.Fprintf(w, "Run complete (%s): %d records, %d missing barcode, %d unchanged, %d updates attempted (%d succeeded, %d failed) in %d ms\n",
		mode, s.RecordsSeen, s.RecordsMissingKey, s.SkippedNoChange,
		s.UpdatesAttempted, s.UpdatesSucceeded, s.UpdatesFailed, s.Elapsed.Milliseconds())
	if s.Cancelled {
		fmt.Fprintln(w, "Run was cancelled before the file was exhausted; counts are partial.")
	}
}
