package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/HerbHall/speedwatch/pkg/models"
	"go.uber.org/zap"
)

// Console writes each record as a human-readable block.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console reporter writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report writes rec as a "Network Metrics" block.
func (c *Console) Report(_ context.Context, rec models.MetricsRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.w,
		"\n=== Network Metrics ===\n"+
			"Timestamp: %d\n"+
			"Download Speed: %.2f Mbps\n"+
			"Upload Speed: %.2f Mbps\n"+
			"Ping: %.2f ms\n"+
			"ISP: %s\n"+
			"Server: %s\n"+
			"=====================\n\n",
		rec.Timestamp, rec.DownloadMbps, rec.UploadMbps, rec.PingMs, rec.ISP, rec.ServerName)
	return err
}

// JSONLines writes each record as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines reporter writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Report writes rec as a single JSON line.
func (j *JSONLines) Report(_ context.Context, rec models.MetricsRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}

// Log emits each record as a structured log entry.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log reporter.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Report logs rec at info level.
func (l *Log) Report(_ context.Context, rec models.MetricsRecord) error {
	l.logger.Info("network metrics",
		zap.Int64("timestamp", rec.Timestamp),
		zap.Float64("download_mbps", rec.DownloadMbps),
		zap.Float64("upload_mbps", rec.UploadMbps),
		zap.Float64("ping_ms", rec.PingMs),
		zap.String("isp", rec.ISP),
		zap.String("server_name", rec.ServerName),
	)
	return nil
}

// New returns the reporter for the given output format.
func New(format Format, w io.Writer, logger *zap.Logger) (Reporter, error) {
	switch format {
	case FormatConsole:
		return NewConsole(w), nil
	case FormatJSON:
		return NewJSONLines(w), nil
	case FormatLog:
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
