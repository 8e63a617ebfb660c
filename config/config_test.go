package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load(zap.NewNop())

	assert.Equal(t, 8000, cfg.WebPort)
	assert.Equal(t, 0.84, cfg.PassThreshold)
	assert.Equal(t, 0.65, cfg.GrayLowThreshold)
	assert.Equal(t, "memory", cfg.LocalBackend)
	assert.Equal(t, 60*time.Second, cfg.LLMRequestTimeout)
	assert.Equal(t, 20*time.Second, cfg.ArbitratorTimeout)
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-9)
	assert.InDelta(t, 0.5, cfg.Weights.Rerank, 1e-9)
	assert.False(t, cfg.HybridEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PASS_THRESHOLD", "0.9")
	t.Setenv("LOCAL_BACKEND", " Postgres ")
	t.Setenv("OPENSEARCH_ENABLED", "true")
	t.Setenv("OPENSEARCH_ADDRESSES", "https://a:9200, https://b:9200")

	cfg := Load(zap.NewNop())

	assert.Equal(t, 0.9, cfg.PassThreshold)
	assert.Equal(t, "postgres", cfg.LocalBackend)
	assert.Equal(t, []string{"https://a:9200", "https://b:9200"}, cfg.OpenSearchAddresses)
	assert.True(t, cfg.HybridEnabled())
}

func TestCalibrationProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	profile := `{"pass_threshold":0.8,"gray_low_threshold":0.6,"fusion_weights":{"rerank":0,"semantic":1,"keyword":1,"knowledge":0,"popularity":0,"bogus":5}}`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))
	t.Setenv("CALIBRATION_PROFILE", path)

	cfg := Load(zap.NewNop())

	assert.Equal(t, 0.8, cfg.PassThreshold)
	assert.Equal(t, 0.6, cfg.GrayLowThreshold)
	assert.InDelta(t, 0.5, cfg.Weights.Semantic, 1e-9)
	assert.InDelta(t, 0.5, cfg.Weights.Keyword, 1e-9)
	assert.Zero(t, cfg.Weights.Rerank)
}

func TestMissingCalibrationProfileIsIgnored(t *testing.T) {
	t.Setenv("CALIBRATION_PROFILE", filepath.Join(t.TempDir(), "missing.json"))

	cfg := Load(zap.NewNop())
	assert.Equal(t, 0.84, cfg.PassThreshold)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		" WARN ":  zap.WarnLevel,
		"warning": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"bogus":   zap.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
