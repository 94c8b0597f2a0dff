package speedtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// rawResult mirrors the subset of `speedtest --format=json` output that is
// needed. Pointer fields distinguish a missing object from a zero value.
// Unknown fields are ignored.
type rawResult struct {
	Download *rawBandwidth `json:"download"`
	Upload   *rawBandwidth `json:"upload"`
	Ping     *rawPing      `json:"ping"`
	ISP      *string       `json:"isp"`
	Server   *rawServer    `json:"server"`
}

type rawBandwidth struct {
	Bandwidth *uint64 `json:"bandwidth"`
}

type rawPing struct {
	Latency *float64 `json:"latency"`
}

type rawServer struct {
	Name *string `json:"name"`
}

// toolResult is the validated tool output with units still as reported.
type toolResult struct {
	DownloadBps uint64
	UploadBps   uint64
	LatencyMs   float64
	ISP         string
	ServerName  string
}

// parseResult decodes and validates speedtest JSON output. Every failure is
// returned as a *ParseError; a partially valid document never yields a
// result.
func parseResult(stdout []byte) (*toolResult, error) {
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, &ParseError{Msg: "empty output"}
	}

	dec := json.NewDecoder(bytes.NewReader(stdout))
	var raw rawResult
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Msg: "decode JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Msg: "unexpected data after result object"}
	}

	var missing []string
	if raw.Download == nil || raw.Download.Bandwidth == nil {
		missing = append(missing, "download.bandwidth")
	}
	if raw.Upload == nil || raw.Upload.Bandwidth == nil {
		missing = append(missing, "upload.bandwidth")
	}
	if raw.Ping == nil || raw.Ping.Latency == nil {
		missing = append(missing, "ping.latency")
	}
	if raw.ISP == nil {
		missing = append(missing, "isp")
	}
	if raw.Server == nil || raw.Server.Name == nil {
		missing = append(missing, "server.name")
	}
	if len(missing) > 0 {
		return nil, &ParseError{Msg: "missing required field(s): " + strings.Join(missing, ", ")}
	}

	if *raw.Ping.Latency < 0 {
		return nil, &ParseError{Msg: fmt.Sprintf("negative ping.latency %v", *raw.Ping.Latency)}
	}
	if strings.TrimSpace(*raw.ISP) == "" {
		return nil, &ParseError{Msg: "isp is empty"}
	}

	return &toolResult{
		DownloadBps: *raw.Download.Bandwidth,
		UploadBps:   *raw.Upload.Bandwidth,
		LatencyMs:   *raw.Ping.Latency,
		ISP:         *raw.ISP,
		ServerName:  *raw.Server.Name,
	}, nil
}
