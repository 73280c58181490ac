// Package config loads the Atlas Explorer credentials and the optional
// client tuning settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// EnvCredentials is the environment variable holding inline credentials in
// the form "apikey:channel:region". When set it takes precedence over the
// credentials file.
const EnvCredentials = "MIPS_ATLAS_CONFIG"

// Credentials identifies the caller to the Atlas Explorer cloud.
type Credentials struct {
	APIKey  string `json:"apikey"`
	Channel string `json:"channel"`
	Region  string `json:"region"`
}

// Validate returns all the problems with the credentials, not just the
// first.
func (c Credentials) Validate() error {
	var result *multierror.Error
	if c.APIKey == "" {
		result = multierror.Append(result, fmt.Errorf("api key is not set"))
	}
	if c.Channel == "" {
		result = multierror.Append(result, fmt.Errorf("channel is not set"))
	}
	if c.Region == "" {
		result = multierror.Append(result, fmt.Errorf("region is not set"))
	}
	return result.ErrorOrNil()
}

// DefaultCredentialsPath returns the standard location of the credentials
// file.
func DefaultCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mips", "atlaspy", "config.json"), nil
}

// LoadCredentials resolves credentials from the environment first and falls
// back to the credentials file at path. An empty path selects
// DefaultCredentialsPath.
func LoadCredentials(path string) (*Credentials, error) {
	if inline := os.Getenv(EnvCredentials); inline != "" {
		creds, err := parseInlineCredentials(inline)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvCredentials, err)
		}
		return creds, nil
	}

	if path == "" {
		var err error
		path, err = DefaultCredentialsPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no credentials found: %s is unset and %s does not exist; run \"atlasexplorer configure\" first", EnvCredentials, path)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	creds := &Credentials{}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("incomplete credentials in %s: %w", path, err)
	}
	return creds, nil
}

// SaveCredentials writes the credentials file, creating parent directories
// as needed. The file is readable by the owner only since it holds the API
// key.
func SaveCredentials(path string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if path == "" {
		var err error
		path, err = DefaultCredentialsPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func parseInlineCredentials(inline string) (*Credentials, error) {
	parts := strings.Split(inline, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected \"apikey:channel:region\", got %d field(s)", len(parts))
	}
	creds := &Credentials{APIKey: parts[0], Channel: parts[1], Region: parts[2]}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}
