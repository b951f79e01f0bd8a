package logger

import (
	"os"
	"path/filepath"
	"testing"

	"sensor_report_loader/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestInit_WritesToFileAndFiltersLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.log")
	cfg := &config.Config{Logging: config.LoggingConfig{LogFile: path, LogLevel: "WARN"}}

	require.NoError(t, Init(cfg))
	assert.Equal(t, path, GetLogFileName())
	assert.Equal(t, gormlogger.Warn, GormLevel())

	Debugf("hidden debug line")
	Warnf("staging dir %s is empty\n", "reports")
	Named("fetcher").Errorw("attachment failed", "message", "m1")
	require.NoError(t, Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "staging dir reports is empty")
	assert.Contains(t, out, "fetcher")
	assert.Contains(t, out, "m1")
	assert.NotContains(t, out, "hidden debug line")
	assert.Equal(t, "result.log", GetLogFileName())
}

func TestGormLevel(t *testing.T) {
	defer func(prev string) { logLevel = prev }(logLevel)

	for level, want := range map[string]gormlogger.LogLevel{
		DEBUG: gormlogger.Info,
		INFO:  gormlogger.Warn,
		ERROR: gormlogger.Error,
	} {
		logLevel = level
		assert.Equal(t, want, GormLevel(), level)
	}
}
