// Package report delivers successful measurement records to their sinks.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/speedwatch/pkg/models"
)

// Reporter receives each successfully collected record.
type Reporter interface {
	Report(ctx context.Context, rec models.MetricsRecord) error
}

// Func adapts a function to the Reporter interface.
type Func func(ctx context.Context, rec models.MetricsRecord) error

// Report calls f.
func (f Func) Report(ctx context.Context, rec models.MetricsRecord) error {
	return f(ctx, rec)
}

// Multi fans a record out to every reporter, continuing past failures.
type Multi []Reporter

// Report delivers rec to each reporter in order and joins their errors.
func (m Multi) Report(ctx context.Context, rec models.MetricsRecord) error {
	var errs []error
	for i, r := range m {
		if err := r.Report(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("reporter %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Format names a human-facing output mode.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
	FormatLog     Format = "log"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatConsole, FormatJSON, FormatLog:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want console, json or log)", s)
	}
}
