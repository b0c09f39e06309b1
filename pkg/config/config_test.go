package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, actor.PerTarget, cfg.Policy.PartialFailure)
	assert.Equal(t, 30*time.Second, cfg.Policy.CallTimeout)

	e, err := cfg.Extent()
	require.NoError(t, err)
	assert.Equal(t, 4, e.NumRanks())
}

func TestLoadBytes_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
policy:
  call_timeout: 5s
  partial_failure_policy: abort_all
mesh:
  dims: host=2,gpu=4
log:
  level: debug
`), "yaml")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Policy.CallTimeout)
	assert.Equal(t, actor.AbortAll, cfg.Policy.PartialFailure)
	assert.Equal(t, 0, cfg.Policy.MaxQueueDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, TransportLocal, cfg.Mesh.Transport)

	e, err := cfg.Extent()
	require.NoError(t, err)
	assert.Equal(t, []string{"host", "gpu"}, e.Labels())
	assert.Equal(t, 8, e.NumRanks())
}

func TestLoadBytes_JSON(t *testing.T) {
	cfg, err := LoadBytes([]byte(`{"policy":{"max_queue_depth":16},"mesh":{"transport":"quic"}}`), "json")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Policy.MaxQueueDepth)
	assert.Equal(t, TransportQUIC, cfg.Mesh.Transport)
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"policy", "policy:\n  partial_failure_policy: best_effort\n", "partial_failure_policy"},
		{"negative depth", "policy:\n  max_queue_depth: -1\n", "max_queue_depth"},
		{"dims", "mesh:\n  dims: host=0\n", "mesh.dims"},
		{"transport", "mesh:\n  transport: tcp\n", "mesh.transport"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.data), "yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	_, err := LoadBytes([]byte("x"), "toml")
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "mesh.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("mesh:\n  dims: gpu=2\n"), 0o644))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "gpu=2", cfg.Mesh.Dims)

	jsonPath := filepath.Join(dir, "mesh.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"log":{"format":"json"}}`), 0o644))
	cfg, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestTransportFactory(t *testing.T) {
	cfg := Default()
	f, err := cfg.TransportFactory()
	require.NoError(t, err)
	assert.NotNil(t, f())

	cfg.Mesh.Transport = "carrier-pigeon"
	_, err = cfg.TransportFactory()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "rank", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"rank":3`)

	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
	_, err = NewLogger("verbose", "text")
	assert.Error(t, err)
}

func TestWatch_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mesh:\n  dims: gpu=2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config, err error) {
			if err != nil {
				return
			}
			select {
			case changes <- cfg:
			default:
			}
		})
	}()

	// 等待 watcher 就绪后再写入
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("mesh:\n  dims: gpu=8\n"), 0o644); err != nil {
			return false
		}
		select {
		case cfg := <-changes:
			return cfg.Mesh.Dims == "gpu=8"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
