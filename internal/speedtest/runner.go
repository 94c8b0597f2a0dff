package speedtest

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const waitDelay = 5 * time.Second

// Output is the fully captured result of one subprocess run.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner abstracts subprocess execution so the collector can be tested
// without the real speedtest binary.
//
// Run returns a non-nil error only when the process could not be started or
// waited on. A process that ran and exited non-zero is reported through
// Output.ExitCode with a nil error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// ExecRunner runs commands on the host via os/exec.
type ExecRunner struct{}

// Compile-time interface guard.
var _ Runner = ExecRunner{}

// Run executes name with args, buffering stdout and stderr. Stdin is left
// unattached so the tool can never wait on interactive input.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed tool can hold the pipes open; stop waiting on them.
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	out := &Output{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (*Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	return f(ctx, name, args...)
}
