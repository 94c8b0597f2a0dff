// Package config loads SpeedWatch settings from defaults, an optional config
// file, SPEEDWATCH_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/speedwatch/internal/report"
	"github.com/HerbHall/speedwatch/internal/scheduler"
	"github.com/HerbHall/speedwatch/internal/speedtest"
)

// EnvPrefix prefixes every environment override, e.g. SPEEDWATCH_CADENCE.
const EnvPrefix = "SPEEDWATCH"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete SpeedWatch configuration.
type Config struct {
	Cadence   time.Duration    `mapstructure:"cadence"`
	Speedtest speedtest.Config `mapstructure:"speedtest"`
	Report    ReportConfig     `mapstructure:"report"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Log       LogConfig        `mapstructure:"log"`
}

// ReportConfig selects the console output mode.
type ReportConfig struct {
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional HTTP listener. An empty Addr disables
// it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"cadence":           "cadence",
	"speedtest-command": "speedtest.command",
	"speedtest-timeout": "speedtest.timeout",
	"server-id":         "speedtest.server_id",
	"report-format":     "report.format",
	"metrics-addr":      "metrics.addr",
	"log-level":         "log.level",
}

func setDefaults(v *viper.Viper) {
	st := speedtest.DefaultConfig()
	v.SetDefault("cadence", scheduler.DefaultCadence)
	v.SetDefault("speedtest.command", st.Command)
	v.SetDefault("speedtest.timeout", st.Timeout)
	v.SetDefault("speedtest.server_id", st.ServerID)
	v.SetDefault("report.format", string(report.FormatConsole))
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	st := speedtest.DefaultConfig()
	fs.Duration("cadence", scheduler.DefaultCadence, "interval between speed tests")
	fs.String("speedtest-command", st.Command, "speedtest executable, resolved through PATH")
	fs.Duration("speedtest-timeout", st.Timeout, "kill the speedtest tool after this long (0 waits forever)")
	fs.Int("server-id", st.ServerID, "speedtest server ID to pin (0 picks automatically)")
	fs.String("report-format", string(report.FormatConsole), "output format: console, json or log")
	fs.String("metrics-addr", "", "listen address for /metrics and /api/v1/health (empty disables)")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
}

// Load builds the configuration. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Speedtest.Timeout < 0 {
		errs = append(errs, fmt.Errorf("speedtest.timeout must not be negative, got %s", c.Speedtest.Timeout))
	}
	if c.Speedtest.ServerID < 0 {
		errs = append(errs, fmt.Errorf("speedtest.server_id must not be negative, got %d", c.Speedtest.ServerID))
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SchedulerConfig returns the scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{Cadence: c.Cadence}
}

// ReportFormat returns the validated report format.
func (c *Config) ReportFormat() report.Format {
	return report.Format(c.Report.Format)
}

// NewLogger builds a zap logger: JSON production output by default,
// colored console output in development mode.
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
