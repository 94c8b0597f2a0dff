package speedtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/speedwatch/internal/testutil"
)

const validOutput = `{
  "type": "result",
  "timestamp": "2025-01-01T00:00:00Z",
  "ping": {"jitter": 0.4, "latency": 15.5, "low": 14.9, "high": 16.2},
  "download": {"bandwidth": 12500000, "bytes": 150000000, "elapsed": 12000},
  "upload": {"bandwidth": 1250000, "bytes": 15000000, "elapsed": 12000},
  "packetLoss": 0,
  "isp": "Acme Net",
  "interface": {"internalIp": "192.168.1.10", "isVpn": false},
  "server": {"id": 1234, "host": "nyc.example.net", "name": "NYC-1", "location": "New York", "country": "United States"},
  "result": {"id": "abc", "url": "https://www.speedtest.net/result/c/abc"}
}`

// fakeRunner is a Runner test double that returns a canned Output.
type fakeRunner struct {
	mu    sync.Mutex
	out   *Output
	err   error
	block bool // wait for ctx to end before returning
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return &Output{ExitCode: -1}, ctx.Err()
	}
	return f.out, f.err
}

func (f *fakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Runner = (*fakeRunner)(nil)

func newTestCollector(r Runner, clock *testutil.Clock) *Collector {
	cfg := DefaultConfig()
	return NewCollector(cfg, zap.NewNop(), WithRunner(r), WithClock(clock.Now))
}

func TestCollect_Success(t *testing.T) {
	clock := testutil.NewClock()
	runner := &fakeRunner{out: &Output{Stdout: []byte(validOutput)}}
	c := newTestCollector(runner, clock)

	rec, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 100.0, rec.DownloadMbps)
	assert.Equal(t, 10.0, rec.UploadMbps)
	assert.Equal(t, 15.5, rec.PingMs)
	assert.Equal(t, "Acme Net", rec.ISP)
	assert.Equal(t, "NYC-1", rec.ServerName)
	assert.Equal(t, clock.Now().Unix(), rec.Timestamp)
}

func TestCollect_TimestampNearWallClock(t *testing.T) {
	runner := &fakeRunner{out: &Output{Stdout: []byte(validOutput)}}
	c := NewCollector(DefaultConfig(), zap.NewNop(), WithRunner(runner))

	before := time.Now().Unix()
	rec, err := c.Collect(context.Background())
	after := time.Now().Unix()

	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.Timestamp, before)
	assert.LessOrEqual(t, rec.Timestamp, after)
}

func TestCollect_TimestampTakenAfterRun(t *testing.T) {
	clock := testutil.NewClock()
	start := clock.Now()
	runner := RunnerFunc(func(ctx context.Context, name string, args ...string) (*Output, error) {
		clock.Advance(40 * time.Second)
		return &Output{Stdout: []byte(validOutput)}, nil
	})
	c := newTestCollector(runner, clock)

	rec, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(40*time.Second).Unix(), rec.Timestamp)
}

func TestCollect_InvokesToolNonInteractively(t *testing.T) {
	runner := &fakeRunner{out: &Output{Stdout: []byte(validOutput)}}
	c := newTestCollector(runner, testutil.NewClock())

	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 1, "exactly one subprocess per Collect")
	assert.Equal(t, "speedtest", calls[0][0])
	assert.Contains(t, calls[0], "--format=json")
	assert.Contains(t, calls[0], "--progress=no")
	assert.Contains(t, calls[0], "--accept-license")
}

func TestCollector_Args(t *testing.T) {
	tests := []struct {
		name     string
		serverID int
		want     string
		wantArg  bool
	}{
		{name: "auto server", serverID: 0, want: "--server-id", wantArg: false},
		{name: "pinned server", serverID: 4242, want: "--server-id=4242", wantArg: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ServerID = tt.serverID
			c := NewCollector(cfg, zap.NewNop())

			joined := strings.Join(c.Args(), " ")
			assert.Equal(t, tt.wantArg, strings.Contains(joined, tt.want))
		})
	}
}

func TestNewCollector_EmptyCommandDefaults(t *testing.T) {
	runner := &fakeRunner{out: &Output{Stdout: []byte(validOutput)}}
	c := NewCollector(Config{}, zap.NewNop(), WithRunner(runner))

	_, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCommand, runner.Calls()[0][0])
}

func TestCollect_MissingRequiredField(t *testing.T) {
	fields := map[string]string{
		"download": `{"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}}`,
		"upload":   `{"download":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}}`,
		"ping":     `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"isp":"x","server":{"name":"s"}}`,
		"isp":      `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"server":{"name":"s"}}`,
		"server":   `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x"}`,
	}

	for field, body := range fields {
		t.Run(field, func(t *testing.T) {
			runner := &fakeRunner{out: &Output{Stdout: []byte(body)}}
			c := newTestCollector(runner, testutil.NewClock())

			rec, err := c.Collect(context.Background())
			assert.Nil(t, rec, "no partial record")

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Error(), field)
		})
	}
}

func TestCollect_MalformedOutput(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not json", "Speedtest by Ookla"},
		{"truncated", `{"download":{"bandwidth":125`},
		{"array", `[1,2,3]`},
		{"null", `null`},
		{"string bandwidth", `{"download":{"bandwidth":"fast"},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}}`},
		{"negative bandwidth", `{"download":{"bandwidth":-5},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}}`},
		{"fractional bandwidth", `{"download":{"bandwidth":1.5},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}}`},
		{"numeric isp", `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":7,"server":{"name":"s"}}`},
		{"negative latency", `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":-1},"isp":"x","server":{"name":"s"}}`},
		{"empty isp", `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"","server":{"name":"s"}}`},
		{"null server name", `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":null}}`},
		{"trailing data", `{"download":{"bandwidth":1},"upload":{"bandwidth":1},"ping":{"latency":1},"isp":"x","server":{"name":"s"}} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: &Output{Stdout: []byte(tt.stdout)}}
			c := newTestCollector(runner, testutil.NewClock())

			rec, err := c.Collect(context.Background())
			assert.Nil(t, rec)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
			assert.Equal(t, OutcomeParse, Classify(err))
		})
	}
}

func TestCollect_EmptyServerNameAllowed(t *testing.T) {
	body := `{"download":{"bandwidth":0},"upload":{"bandwidth":0},"ping":{"latency":0},"isp":"Acme Net","server":{"name":""}}`
	runner := &fakeRunner{out: &Output{Stdout: []byte(body)}}
	c := newTestCollector(runner, testutil.NewClock())

	rec, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.ServerName)
	assert.Zero(t, rec.DownloadMbps)
}

func TestCollect_NonZeroExit(t *testing.T) {
	stderr := "[error] Configuration - Could not retrieve or read configuration (ConfigurationError)\n"
	runner := &fakeRunner{out: &Output{
		ExitCode: 2,
		Stdout:   []byte(validOutput),
		Stderr:   []byte(stderr),
	}}
	c := newTestCollector(runner, testutil.NewClock())

	rec, err := c.Collect(context.Background())
	assert.Nil(t, rec, "stdout must not be parsed on failure")

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, stderr, ee.Stderr, "stderr kept verbatim")
	assert.Equal(t, 2, ee.ExitCode)
	assert.Equal(t, OutcomeExecution, Classify(err))
}

func TestCollect_StartFailure(t *testing.T) {
	startErr := errors.New(`exec: "speedtest": executable file not found in $PATH`)
	runner := &fakeRunner{out: &Output{ExitCode: -1}, err: startErr}
	c := newTestCollector(runner, testutil.NewClock())

	_, err := c.Collect(context.Background())

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, -1, ee.ExitCode)
	assert.ErrorIs(t, err, startErr)
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestCollect_Timeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	c := NewCollector(cfg, zap.NewNop(), WithRunner(runner))

	_, err := c.Collect(context.Background())

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, cfg.Timeout, te.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeTimeout, Classify(err))
}

func TestCollect_CleanExitAfterTimeoutKeepsResult(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, name string, args ...string) (*Output, error) {
		<-ctx.Done()
		return &Output{Stdout: []byte(validOutput)}, nil
	})
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	c := NewCollector(cfg, zap.NewNop(), WithRunner(runner))

	rec, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 100.0, rec.DownloadMbps)
	assert.Equal(t, "NYC-1", rec.ServerName)
}

func TestCollect_ParentDeadline(t *testing.T) {
	runner := &fakeRunner{block: true}
	cfg := DefaultConfig()
	cfg.Timeout = time.Minute
	c := NewCollector(cfg, zap.NewNop(), WithRunner(runner))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te), "caller deadline is not a tool timeout")
	assert.Equal(t, OutcomeCanceled, Classify(err))
}

func TestCollect_ParentCancelled(t *testing.T) {
	runner := &fakeRunner{block: true}
	c := newTestCollector(runner, testutil.NewClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCanceled, Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeSuccess},
		{"execution", &ExecutionError{ExitCode: 1}, OutcomeExecution},
		{"parse", &ParseError{Msg: "bad"}, OutcomeParse},
		{"timeout", &TimeoutError{Timeout: time.Second}, OutcomeTimeout},
		{"wrapped parse", errors.Join(errors.New("cycle"), &ParseError{Msg: "bad"}), OutcomeParse},
		{"canceled", context.Canceled, OutcomeCanceled},
		{"caller deadline", context.DeadlineExceeded, OutcomeCanceled},
		{"other", errors.New("boom"), OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestExecutionError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *ExecutionError
		want string
	}{
		{"stderr", &ExecutionError{ExitCode: 1, Stderr: "no servers\n"}, "speedtest: execution failed (exit 1): no servers"},
		{"cause", &ExecutionError{ExitCode: -1, Err: errors.New("not found")}, "speedtest: execution failed (exit -1): not found"},
		{"bare", &ExecutionError{ExitCode: 3}, "speedtest: execution failed (exit 3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
