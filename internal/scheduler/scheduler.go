// Package scheduler drives measurement cycles on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/speedwatch/internal/report"
	"github.com/HerbHall/speedwatch/internal/speedtest"
	"github.com/HerbHall/speedwatch/pkg/models"
)

// DefaultCadence is the interval between cycles when none is configured.
const DefaultCadence = 60 * time.Second

// ErrInvalidCadence is returned for a zero or negative cadence.
var ErrInvalidCadence = errors.New("cadence must be a positive duration")

// Collector produces one record per call.
type Collector interface {
	Collect(ctx context.Context) (*models.MetricsRecord, error)
}

// Observer is notified when each cycle finishes.
type Observer interface {
	ObserveCycle(outcome string, elapsed time.Duration)
}

// TickerFunc starts a ticker firing every d. It returns the tick channel and
// a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func newTimeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Config holds the scheduler settings.
type Config struct {
	Cadence time.Duration `mapstructure:"cadence"`
}

// Validate checks that the cadence is positive.
func (c Config) Validate() error {
	if c.Cadence <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidCadence, c.Cadence)
	}
	return nil
}

// Scheduler runs one collect-then-report cycle per tick. Cycles run on the
// caller's goroutine, so a slow cycle delays the next one instead of
// overlapping it.
type Scheduler struct {
	cadence   time.Duration
	collector Collector
	reporter  report.Reporter
	observer  Observer
	newTicker TickerFunc
	now       func() time.Time
	logger    *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithObserver registers an observer for cycle outcomes.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithTicker replaces the ticker factory.
func WithTicker(f TickerFunc) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// WithClock replaces the time source used to measure cycle duration.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. It fails if the cadence is not positive.
func New(config Config, collector Collector, reporter report.Reporter, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cadence:   config.Cadence,
		collector: collector,
		reporter:  reporter,
		newTicker: newTimeTicker,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run waits one full cadence, then runs a cycle on every tick until ctx is
// cancelled. Failed cycles are logged and never end the loop. Run returns
// ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	ticks, stop := s.newTicker(s.cadence)
	defer stop()

	s.logger.Info("scheduler started", zap.Duration("cadence", s.cadence))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticks:
			_ = s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single cycle and returns its collection error, if any.
// Reporter errors are logged but not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	log := s.logger.With(zap.String("cycle_id", uuid.NewString()))
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("cycle panicked", zap.Any("panic", r))
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		if s.observer != nil {
			s.observer.ObserveCycle(speedtest.Classify(err), s.now().Sub(start))
		}
	}()

	log.Info("starting speed test")

	rec, err := s.collector.Collect(ctx)
	if err != nil {
		s.logFailure(log, err)
		return err
	}
	if rec == nil {
		err = errors.New("collector returned no record")
		log.Error("failed to collect metrics", zap.Error(err))
		return err
	}

	log.Info("network metrics collected", zap.Stringer("record", rec))
	if rerr := s.reporter.Report(ctx, *rec); rerr != nil {
		log.Warn("failed to report metrics", zap.Error(rerr))
	}
	return nil
}

func (s *Scheduler) logFailure(log *zap.Logger, err error) {
	fields := []zap.Field{
		zap.String("kind", speedtest.Classify(err)),
		zap.Error(err),
	}

	var ee *speedtest.ExecutionError
	if errors.As(err, &ee) {
		fields = append(fields,
			zap.Int("exit_code", ee.ExitCode),
			zap.String("stderr", ee.Stderr),
		)
	}

	if speedtest.Classify(err) == speedtest.OutcomeCanceled {
		log.Info("speed test cancelled", fields...)
		return
	}
	log.Error("failed to collect metrics", fields...)
}
