package speedtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome labels used by logs and metrics to classify a cycle.
const (
	OutcomeSuccess   = "success"
	OutcomeExecution = "execution"
	OutcomeParse     = "parse"
	OutcomeTimeout   = "timeout"
	OutcomeCanceled  = "canceled"
	OutcomeUnknown   = "unknown"
)

// ExecutionError reports that the speedtest tool could not be started or
// exited with a failure status. Stderr holds the tool's standard error
// verbatim.
type ExecutionError struct {
	ExitCode int // -1 if the process never started
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	switch {
	case msg != "":
		return fmt.Sprintf("speedtest: execution failed (exit %d): %s", e.ExitCode, msg)
	case e.Err != nil:
		return fmt.Sprintf("speedtest: execution failed (exit %d): %v", e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("speedtest: execution failed (exit %d)", e.ExitCode)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ParseError reports that the tool succeeded but its output did not match
// the expected result schema.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speedtest: parse output: %s: %v", e.Msg, e.Err)
	}
	return "speedtest: parse output: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeoutError reports that the tool did not exit within the configured
// bound and was killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("speedtest: no result within %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Classify maps an error returned by Collect to an outcome label.
func Classify(err error) string {
	if err == nil {
		return OutcomeSuccess
	}

	var (
		ee *ExecutionError
		pe *ParseError
		te *TimeoutError
	)
	switch {
	case errors.As(err, &te):
		return OutcomeTimeout
	case errors.As(err, &ee):
		return OutcomeExecution
	case errors.As(err, &pe):
		return OutcomeParse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up: its context was cancelled or hit its own deadline.
		return OutcomeCanceled
	default:
		return OutcomeUnknown
	}
}
