// Package speedtest runs the Ookla speedtest CLI and turns its JSON output
// into a models.MetricsRecord.
package speedtest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/HerbHall/speedwatch/pkg/models"
	"go.uber.org/zap"
)

// DefaultCommand is the speedtest executable, resolved through PATH.
const DefaultCommand = "speedtest"

// Config holds the collector settings.
type Config struct {
	Command  string        `mapstructure:"command"`
	Timeout  time.Duration `mapstructure:"timeout"`   // 0 waits indefinitely
	ServerID int           `mapstructure:"server_id"` // 0 lets the tool pick
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		Command: DefaultCommand,
		Timeout: 3 * time.Minute,
	}
}

// Collector invokes the speedtest tool once per Collect call.
type Collector struct {
	config Config
	runner Runner
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Collector.
type Option func(*Collector)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(c *Collector) { c.runner = r }
}

// WithClock replaces the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a Collector. An empty command falls back to
// DefaultCommand.
func NewCollector(config Config, logger *zap.Logger, opts ...Option) *Collector {
	if config.Command == "" {
		config.Command = DefaultCommand
	}
	c := &Collector{
		config: config,
		runner: ExecRunner{},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Args returns the arguments passed to the tool: JSON output, no progress
// output, and pre-accepted license prompts.
func (c *Collector) Args() []string {
	args := []string{"--format=json", "--progress=no", "--accept-license", "--accept-gdpr"}
	if c.config.ServerID > 0 {
		args = append(args, "--server-id="+strconv.Itoa(c.config.ServerID))
	}
	return args
}

// Collect runs the tool and returns the normalized record. Failures are
// returned as *ExecutionError, *ParseError or *TimeoutError. Collect never
// retries.
func (c *Collector) Collect(ctx context.Context) (*models.MetricsRecord, error) {
	runCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	args := c.Args()
	c.logger.Debug("running speedtest",
		zap.String("command", c.config.Command),
		zap.Strings("args", args),
	)

	out, err := c.runner.Run(runCtx, c.config.Command, args...)
	if err != nil || out == nil || out.ExitCode != 0 {
		return nil, c.runFailure(ctx, runCtx, out, err)
	}

	res, err := parseResult(out.Stdout)
	if err != nil {
		return nil, err
	}

	return &models.MetricsRecord{
		Timestamp:    c.now().Unix(),
		DownloadMbps: models.BytesPerSecondToMbps(res.DownloadBps),
		UploadMbps:   models.BytesPerSecondToMbps(res.UploadBps),
		PingMs:       res.LatencyMs,
		ISP:          res.ISP,
		ServerName:   res.ServerName,
	}, nil
}

// runFailure classifies a run that did not exit cleanly. A clean exit is
// never turned into a failure, even if a deadline passed meanwhile.
func (c *Collector) runFailure(ctx, runCtx context.Context, out *Output, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.config.Timeout}
	}

	execErr := &ExecutionError{ExitCode: -1, Err: err}
	if out != nil {
		execErr.ExitCode = out.ExitCode
		execErr.Stderr = string(out.Stderr)
	}
	return execErr
}
