package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv(EnvCredentials, "key-123:release:us-west-2")

	creds, err := LoadCredentials("ignored-when-env-is-set")
	require.NoError(t, err)
	assert.Equal(t, &Credentials{APIKey: "key-123", Channel: "release", Region: "us-west-2"}, creds)
}

func TestLoadCredentialsRejectsMalformedEnv(t *testing.T) {
	for _, inline := range []string{"key-only", "key:channel", "key:channel:region:extra", "::us-west-2"} {
		t.Run(inline, func(t *testing.T) {
			t.Setenv(EnvCredentials, inline)
			_, err := LoadCredentials("")
			require.ErrorContains(t, err, "invalid "+EnvCredentials)
		})
	}
}

func TestLoadCredentialsFromFile(t *testing.T) {
	t.Setenv(EnvCredentials, "")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apikey": "key-123", "channel": "release", "region": "us-west-2"}`), 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "key-123", creds.APIKey)
	assert.Equal(t, "release", creds.Channel)
	assert.Equal(t, "us-west-2", creds.Region)
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	t.Setenv(EnvCredentials, "")

	_, err := LoadCredentials(filepath.Join(t.TempDir(), "config.json"))
	require.ErrorContains(t, err, "no credentials found")
}

func TestLoadCredentialsIncompleteFile(t *testing.T) {
	t.Setenv(EnvCredentials, "")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apikey": "key-123"}`), 0o600))

	_, err := LoadCredentials(path)
	require.ErrorContains(t, err, "incomplete credentials")
	assert.ErrorContains(t, err, "channel is not set")
	assert.ErrorContains(t, err, "region is not set")
}

func TestSaveCredentialsRoundTrip(t *testing.T) {
	t.Setenv(EnvCredentials, "")

	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	creds := Credentials{APIKey: "key-123", Channel: "release", Region: "us-west-2"}
	require.NoError(t, SaveCredentials(path, creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "credentials file must be owner-only")

	loaded, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, &creds, loaded)
}

func TestSaveCredentialsRejectsIncomplete(t *testing.T) {
	err := SaveCredentials(filepath.Join(t.TempDir(), "config.json"), Credentials{APIKey: "key"})
	require.ErrorContains(t, err, "channel is not set")
}
