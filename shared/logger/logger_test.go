package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildConfig_Defaults(t *testing.T) {
	cfg := buildConfig(Config{Level: "nonsense", Encoding: "xml"})

	assert.Equal(t, zap.InfoLevel, cfg.Level.Level())
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.DisableCaller)
	assert.True(t, cfg.DisableStacktrace)
}

func TestBuildConfig_Development(t *testing.T) {
	cfg := buildConfig(Config{Level: " DEBUG ", Encoding: "console", Development: true})

	assert.Equal(t, zap.DebugLevel, cfg.Level.Level())
	assert.Equal(t, "console", cfg.Encoding)
	assert.False(t, cfg.DisableCaller)
}

func TestNew_WritesServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(Config{Service: "story-generator", Level: "info", OutputPath: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("story submitted", zap.String("storyID", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "story-generator", entry["service"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "abc", entry["storyID"])
	assert.Contains(t, entry, "timestamp")
}
