package models

import (
	"fmt"
	"time"
)

// bitsPerByte and bitsPerMegabit convert speedtest bandwidth into Mbps.
const (
	bitsPerByte    = 8
	bitsPerMegabit = 1_000_000
)

// MetricsRecord is the normalized result of one successful measurement cycle.
type MetricsRecord struct {
	Timestamp    int64   `json:"timestamp"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMs       float64 `json:"ping_ms"`
	ISP          string  `json:"isp"`
	ServerName   string  `json:"server_name"`
}

// Time returns the record timestamp as a UTC time.
func (r MetricsRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// String renders the record on a single line for logs and debugging.
func (r MetricsRecord) String() string {
	return fmt.Sprintf("down=%.2fMbps up=%.2fMbps ping=%.2fms isp=%q server=%q",
		r.DownloadMbps, r.UploadMbps, r.PingMs, r.ISP, r.ServerName)
}

// BytesPerSecondToMbps converts a bandwidth in bytes per second into
// megabits per second. The result is not rounded.
func BytesPerSecondToMbps(bps uint64) float64 {
	return float64(bps) * bitsPerByte / bitsPerMegabit
}
