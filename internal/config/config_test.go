package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 15*time.Second, cfg.Store.OpTimeout)
	assert.InDelta(t, 0.9, cfg.OpenSettings.MinCompleteness, 1e-9)
	assert.InDelta(t, 1.0, cfg.FixedSettings.MinCompleteness, 1e-9)
	assert.Equal(t, 3, cfg.OpenSettings.MaxProbes)
	assert.Equal(t, 2, cfg.FixedSettings.MaxProbes)
	assert.Len(t, cfg.Attributes, 6)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Equal(t, 2*time.Minute, cfg.ReplayWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("STORE_OP_TIMEOUT", "2s")
	t.Setenv("OPEN_MIN_COMPLETENESS", "0.75")
	t.Setenv("FIXED_MAX_PROBES", "4")
	t.Setenv("DISCOVERY_ATTRIBUTES", "scale, depth ,,")
	t.Setenv("FRONTEND_URL", "https://interviews.example")
	t.Setenv("AUDIT_LOG_QUEUE_SIZE", "-1")
	t.Setenv("REPLAY_WINDOW", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.OpTimeout)
	assert.InDelta(t, 0.75, cfg.OpenSettings.MinCompleteness, 1e-9)
	assert.Equal(t, 4, cfg.FixedSettings.MaxProbes)
	assert.Equal(t, []string{"scale", "depth"}, cfg.Attributes)
	assert.Equal(t, []string{"https://interviews.example"}, cfg.AllowedOrigins())
	assert.Equal(t, 1000, cfg.AuditLog.QueueSize)
	assert.Zero(t, cfg.ReplayWindow)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("STORE_OP_TIMEOUT", "soon")
	t.Setenv("OPEN_MIN_COMPLETENESS", "most")
	t.Setenv("AUDIT_LOG_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Store.OpTimeout)
	assert.InDelta(t, 0.9, cfg.OpenSettings.MinCompleteness, 1e-9)
	assert.True(t, cfg.AuditLog.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}},
		{"headroom over limit", map[string]string{"STORE_MAX_CONNS": "15", "STORE_HEADROOM": "2", "STORE_BACKEND_LIMIT": "16"}},
		{"empty port", map[string]string{"PORT": ""}},
		{"no attributes", map[string]string{"DISCOVERY_ATTRIBUTES": " , "}},
		{"completeness above one", map[string]string{"FIXED_MIN_COMPLETENESS": "1.5"}},
		{"zero probes", map[string]string{"OPEN_MAX_PROBES": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
