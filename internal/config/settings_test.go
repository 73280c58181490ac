package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mips-tech/atlasexplorer/internal/gyrfalcon"
)

func TestParseSettingsAppliesDefaults(t *testing.T) {
	settings, err := ParseSettings([]byte("pollBudget: 10m\n"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, settings.PollBudget)
	// Everything else keeps its default.
	assert.Equal(t, gyrfalcon.DefaultGlobalAPI, settings.GlobalAPI)
	assert.Equal(t, 2*time.Second, settings.PollInitialInterval)
	assert.Equal(t, 30*time.Second, settings.PollMaxInterval)
	assert.Equal(t, 4, settings.UploadMaxAttempts)
}

func TestParseSettingsRejectsUnknownFields(t *testing.T) {
	_, err := ParseSettings([]byte("pollBudgets: 10m\n"))
	require.ErrorContains(t, err, "failed to parse settings")
}

func TestParseSettingsValidation(t *testing.T) {
	_, err := ParseSettings([]byte("globalAPI: \"\"\nuploadMaxAttempts: 0\npollBudget: -1s\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "globalAPI cannot be empty")
	assert.ErrorContains(t, err, "uploadMaxAttempts must be at least 1")
	assert.ErrorContains(t, err, "pollBudget must be positive")
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	defaults, err := DefaultSettings()
	require.NoError(t, err)
	assert.Equal(t, defaults, settings)
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpTimeout: 15s\nworkDir: /tmp/atlas\n"), 0o644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, settings.HTTPTimeout)
	assert.Equal(t, "/tmp/atlas", settings.WorkDir)
}
