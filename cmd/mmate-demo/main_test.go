package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, cfg *Config, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"MMATE_LOG_LEVEL", "MMATE_LOG_FORMAT", "MMATE_RPC_TIMEOUT", "MMATE_TOPOLOGY_FILE", "MMATE_METRICS"} {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, &Config{LogLevel: "info", LogFormat: "text", RPCTimeout: 5 * time.Second}, cfg)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MMATE_LOG_LEVEL", "debug")
		t.Setenv("MMATE_LOG_FORMAT", "json")
		t.Setenv("MMATE_RPC_TIMEOUT", "2s")
		t.Setenv("MMATE_TOPOLOGY_FILE", "topology.yaml")
		t.Setenv("MMATE_METRICS", "true")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
		assert.Equal(t, "topology.yaml", cfg.TopologyFile)
		assert.True(t, cfg.Metrics)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("MMATE_RPC_TIMEOUT", "soon")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := &Config{LogLevel: "loud", LogFormat: "xml", RPCTimeout: 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown log level "loud"`)
	assert.Contains(t, err.Error(), `unknown log format "xml"`)
	assert.Contains(t, err.Error(), "rpc timeout must be positive")

	ok := &Config{LogLevel: "WARN", LogFormat: "JSON", RPCTimeout: time.Second}
	assert.NoError(t, ok.Validate())

	logger, err := ok.Logger(io.Discard)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), -4))
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MMATE_LOG_FORMAT", "json")
	t.Setenv("MMATE_RPC_TIMEOUT", "9s")

	cfg := defaultConfig(t)
	_, err := execute(t, cfg, "--log-format", "text", "simple")
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 9*time.Second, cfg.RPCTimeout)
}

func TestInvalidFlagsFail(t *testing.T) {
	_, err := execute(t, defaultConfig(t), "--log-format", "xml", "simple")
	assert.Error(t, err)
}

func TestDemos(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "simple",
			args: []string{"simple", "--message", "hi there"},
			want: []string{`[x] Sent "hi there"`, `[x] Received "hi there"`},
		},
		{
			name: "work",
			args: []string{"work", "--tasks", "6", "--unit", "0s"},
			want: []string{`[x] Sent "Task 1.."`, "All 6 tasks complete"},
		},
		{
			name: "fanout",
			args: []string{"fanout", "--subscribers", "2", "one", "two"},
			want: []string{"subscriber-1 received 2 messages", "subscriber-2 received 2 messages"},
		},
		{
			name: "direct",
			args: []string{"direct"},
			want: []string{"error-log received 1 messages", "console received 3 messages", `[error-log] error:"payment gateway unreachable"`},
		},
		{
			name: "topic",
			args: []string{"topic"},
			want: []string{"kernel received 2 messages", "critical received 2 messages", "everything received 5 messages"},
		},
		{
			name: "rpc",
			args: []string{"rpc", "10", "30", "-1", "x"},
			want: []string{"fib(10) = 55", "fib(30) = 832040", "[!] fib(-1) failed", "[!] fib(x) failed"},
		},
		{
			name: "json",
			args: []string{"json", "--orders", "3"},
			want: []string{"Order 1001: Alice bought [Laptop Mouse] for 49.95", "Processed 3 orders, rejected 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer leaktest.Check(t)()

			out, err := execute(t, defaultConfig(t), tt.args...)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestMetricsReport(t *testing.T) {
	out, err := execute(t, defaultConfig(t), "--metrics", "json", "--orders", "2")
	require.NoError(t, err)

	assert.Regexp(t, `orders\s+0\s+0\s+0\s+healthy`, out)
	assert.Regexp(t, `\(default\)\s+3\s+3\s+0`, out)
	assert.Contains(t, out, "Queue orders: 3 handled")
	assert.Contains(t, out, "decode_error: 1")
	assert.Contains(t, out, "Health: healthy")
	assert.Regexp(t, `queue_orders\s+healthy`, out)
}

func TestTopologyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Exchanges:
  - Name: audit_events
    Type: fanout
Queues:
  - Name: audit
    Durable: true
QueueBindings:
  - QueueName: audit
    ExchangeName: audit_events
`), 0o600))

	out, err := execute(t, defaultConfig(t), "--topology", path, "--metrics", "simple")
	require.NoError(t, err)
	assert.Regexp(t, `audit\s+0\s+0\s+0\s+healthy`, out)

	_, err = execute(t, defaultConfig(t), "--topology", filepath.Join(t.TempDir(), "missing.toml"), "simple")
	assert.Error(t, err)
}
