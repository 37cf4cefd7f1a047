// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/toolport/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Runtime.ConnectTimeout)
	assert.Equal(t, 4, cfg.Runtime.BatchConcurrency)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "toolport", cfg.Metrics.Namespace)
	assert.Equal(t, "toolport", cfg.Telemetry.ServiceName)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	specs, err := cfg.ServerSpecs()
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, "toolport.yaml", `
servers:
  - name: context7
    command: npx -y @upstash/context7-mcp
    env:
      CONTEXT7_TOKEN: abc
  - name: figma
    url: ws://localhost:3055
    session:
      handshake_tool: join_channel
    rate_limit:
      rps: 5
      burst: 10
    call_timeout: 15s

runtime:
  call_timeout: 45s

log:
  level: debug
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Runtime.CallTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	specs, err := cfg.ServerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	c7 := specs[0]
	assert.Equal(t, "context7", c7.Name)
	assert.Equal(t, KindSubprocess, c7.Kind)
	assert.Equal(t, TransportStdio, c7.Transport)
	assert.Equal(t, "npx", c7.Command)
	assert.Equal(t, []string{"-y", "@upstash/context7-mcp"}, c7.Args)
	assert.Equal(t, FramingNDJSON, c7.Framing)
	assert.Equal(t, "abc", c7.Env["CONTEXT7_TOKEN"])

	figma := specs[1]
	assert.Equal(t, KindPreconnected, figma.Kind)
	assert.Equal(t, TransportWebSocket, figma.Transport)
	require.NotNil(t, figma.Session)
	assert.Equal(t, "join_channel", figma.Session.HandshakeTool)
	assert.Equal(t, "channel", figma.Session.ChannelArg)
	assert.Equal(t, 5.0, figma.RateLimit.RPS)
	assert.Equal(t, 15*time.Second, figma.CallTimeout)
	assert.True(t, figma.SessionScoped())
}

func TestLoader_LoadMCPServersJSON(t *testing.T) {
	path := writeConfig(t, "servers.json", `{
  "mcpServers": {
    "TalkToFigma": {
      "command": {"kind": "stdio", "command": "bunx", "args": ["cursor-talk-to-figma-mcp@latest"], "cwd": "/tmp"}
    },
    "linear": {"baseUrl": "https://mcp.linear.app/sse"}
  }
}`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	specs, err := cfg.ServerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	// mcpServers 按名称排序
	assert.Equal(t, "TalkToFigma", specs[0].Name)
	assert.Equal(t, "bunx", specs[0].Command)
	assert.Equal(t, []string{"cursor-talk-to-figma-mcp@latest"}, specs[0].Args)
	assert.Equal(t, "/tmp", specs[0].Cwd)
	assert.Equal(t, KindSubprocess, specs[0].Kind)

	assert.Equal(t, "linear", specs[1].Name)
	assert.Equal(t, KindPreconnected, specs[1].Kind)
	assert.Equal(t, TransportSSE, specs[1].Transport)
	assert.Equal(t, "https://mcp.linear.app/sse", specs[1].URL)
}

func TestLoader_InlineServersWinCollisions(t *testing.T) {
	path := writeConfig(t, "toolport.yaml", `
servers:
  - name: figma
    command: node old-figma.js
  - name: context7
    command: npx context7
`)

	cfg, err := NewLoader().
		WithConfigPath(path).
		WithServers(
			ServerSpec{Name: "figma", Command: "bunx", Args: []string{"cursor-talk-to-figma-mcp@latest"}},
			ServerSpec{Name: "extra", URL: "ws://127.0.0.1:9000"},
		).
		Load()
	require.NoError(t, err)

	specs, err := cfg.ServerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"figma", "context7", "extra"}, names)
	assert.Equal(t, "bunx", specs[0].Command)
	assert.Equal(t, []string{"cursor-talk-to-figma-mcp@latest"}, specs[0].Args)
}

func TestConfig_WithOverridesCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []ServerSpec{{Name: "a", Command: "a-server"}}

	cp := cfg.WithOverrides(ServerSpec{Name: "a", Command: "replacement"})
	specs, err := cp.ServerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "replacement", specs[0].Command)

	orig, err := cfg.ServerSpecs()
	require.NoError(t, err)
	assert.Equal(t, "a-server", orig[0].Command)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("TOOLPORT_RUNTIME_CALL_TIMEOUT", "12s")
	t.Setenv("TOOLPORT_CACHE_DRIVER", "redis")
	t.Setenv("TOOLPORT_CACHE_ADDR", "cache:6379")
	t.Setenv("TOOLPORT_LOG_OUTPUT_PATHS", "stdout, /tmp/toolport.log")
	t.Setenv("TOOLPORT_TELEMETRY_SAMPLE_RATE", "0.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 12*time.Second, cfg.Runtime.CallTimeout)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Addr)
	assert.Equal(t, []string{"stdout", "/tmp/toolport.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("TOOLPORT_RUNTIME_BATCH_CONCURRENCY", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return errors.New("nope")
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestLoader_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing name",
			content: "servers:\n  - command: npx foo\n",
			wantMsg: "missing a name",
		},
		{
			name:    "missing command for subprocess",
			content: "servers:\n  - name: a\n    kind: stdio\n",
			wantMsg: "requires a command",
		},
		{
			name:    "duplicate names",
			content: "servers:\n  - name: a\n    command: x\n  - name: a\n    command: y\n",
			wantMsg: "duplicate server name",
		},
		{
			name:    "unknown kind",
			content: "servers:\n  - name: a\n    kind: carrier-pigeon\n    command: x\n",
			wantMsg: "unknown kind",
		},
		{
			name:    "session without handshake tool",
			content: "servers:\n  - name: a\n    command: x\n    session: {channel_arg: c}\n",
			wantMsg: "handshake_tool",
		},
		{
			name:    "malformed yaml",
			content: "servers: [\n",
			wantMsg: "failed to parse config file",
		},
		{
			name:    "nothing to launch",
			content: "servers:\n  - name: a\n",
			wantMsg: "missing command or url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "bad.yaml", tt.content)
			_, err := NewLoader().WithConfigPath(path).Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfig), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoader_WithEnvLookup(t *testing.T) {
	env := map[string]string{
		"APP_RUNTIME_EAGER_CONNECT":  "true",
		"APP_JOURNAL_ENABLED":        "true",
		"APP_JOURNAL_DRIVER":         "sqlite",
		"APP_METRICS_TEXTFILE":       "/tmp/toolport.prom",
		"APP_RUNTIME_SHUTDOWN_GRACE": "250ms",
		"APP_RUNTIME_HEARTBEAT":      "0s",
		// Servers 不接受环境变量
		"APP_SERVERS": "ignored",
	}
	cfg, err := NewLoader().
		WithEnvPrefix("APP").
		WithEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }).
		Load()
	require.NoError(t, err)
	assert.True(t, cfg.Runtime.EagerConnect)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/toolport.prom", cfg.Metrics.Textfile)
	assert.Equal(t, 250*time.Millisecond, cfg.Runtime.ShutdownGrace)
	assert.Zero(t, cfg.Runtime.Heartbeat)
	assert.Empty(t, cfg.Servers)
}

func TestLoader_WithEnvNilIgnoresProcessEnv(t *testing.T) {
	t.Setenv("TOOLPORT_CACHE_DRIVER", "carrier-pigeon")

	cfg, err := NewLoader().WithEnv(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cache.Driver, cfg.Cache.Driver)
}

func TestParseEnv(t *testing.T) {
	v, err := parseEnv(reflect.TypeOf(int64(0)), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int())

	v, err = parseEnv(durationType, "1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(v.Int()))

	_, err = parseEnv(reflect.TypeOf(false), "maybe")
	assert.Error(t, err)
	_, err = parseEnv(reflect.TypeOf(map[string]string{}), "a=b")
	assert.ErrorContains(t, err, "unsupported type")
}
