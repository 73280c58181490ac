package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/mips-tech/atlasexplorer/internal/gyrfalcon"
)

// Settings are the optional client tuning knobs, read from a YAML file.
// Everything has a sensible default, so a settings file is only needed to
// deviate from them.
type Settings struct {
	// GlobalAPI is the base URL of the global API.
	GlobalAPI string `yaml:"globalAPI"`
	// WorkDir is where per-experiment artifacts are kept.
	WorkDir string `yaml:"workDir"`
	// HTTPTimeout bounds individual API calls.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	// UploadMaxAttempts bounds retries of a single transfer.
	UploadMaxAttempts int `yaml:"uploadMaxAttempts"`
	// PollInitialInterval is the first status poll interval.
	PollInitialInterval time.Duration `yaml:"pollInitialInterval"`
	// PollMaxInterval caps the status poll interval.
	PollMaxInterval time.Duration `yaml:"pollMaxInterval"`
	// PollBudget is the total time allowed for an experiment to complete.
	PollBudget time.Duration `yaml:"pollBudget"`
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return Settings{
		GlobalAPI:           gyrfalcon.DefaultGlobalAPI,
		WorkDir:             filepath.Join(home, ".atlasexplorer"),
		HTTPTimeout:         time.Minute,
		UploadMaxAttempts:   4,
		PollInitialInterval: 2 * time.Second,
		PollMaxInterval:     30 * time.Second,
		PollBudget:          5 * time.Minute,
	}, nil
}

// ParseSettings decodes a settings document on top of the defaults. Unknown
// fields are rejected so that typos surface instead of being silently
// ignored.
func ParseSettings(data []byte) (Settings, error) {
	settings, err := DefaultSettings()
	if err != nil {
		return Settings{}, err
	}
	if err := yaml.UnmarshalStrict(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// LoadSettings reads the settings file at path. An empty path or a missing
// file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings()
		}
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	settings, err := ParseSettings(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

func (s Settings) validate() error {
	var result *multierror.Error
	if s.GlobalAPI == "" {
		result = multierror.Append(result, fmt.Errorf("globalAPI cannot be empty"))
	}
	if s.UploadMaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("uploadMaxAttempts must be at least 1"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"httpTimeout", s.HTTPTimeout},
		{"pollInitialInterval", s.PollInitialInterval},
		{"pollMaxInterval", s.PollMaxInterval},
		{"pollBudget", s.PollBudget},
	} {
		if d.value <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive", d.name))
		}
	}
	return result.ErrorOrNil()
}
