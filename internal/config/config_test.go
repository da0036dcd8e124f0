package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidateForDeploy checks required fields and defaulting.
func TestValidateForDeploy(t *testing.T) {
	t.Parallel()

	// Missing host.
	cfg := new(Config)

	err := ValidateForDeploy(cfg)
	require.Error(t, err)

	// Missing key file.
	cfg = &Config{Host: "203.0.113.10"}

	err = ValidateForDeploy(cfg)
	require.Error(t, err)

	// Key file path that does not exist.
	cfg = &Config{
		Host:    "203.0.113.10",
		KeyFile: filepath.Join(t.TempDir(), "missing.pem"),
	}

	err = ValidateForDeploy(cfg)
	require.Error(t, err)

	keyFile := filepath.Join(t.TempDir(), "deploy.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte("key material"), 0o600))

	// Host, key and secret are enough: without a domain the proxy and
	// certificate stages simply do not run, so it is not required here.
	cfg = &Config{
		Host:    "203.0.113.10",
		KeyFile: keyFile,
	}

	require.NoError(t, ValidateForDeploy(cfg))
	require.Equal(t, DefaultSSHPort, cfg.Port)
	require.Equal(t, DefaultSSHUser, cfg.User)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.Equal(t, DefaultHealthAttempts, cfg.HealthAttempts)
	require.Equal(t, DefaultHealthInterval, cfg.HealthInterval)
	require.Equal(t, DefaultSSHPort, cfg.Port)
	require.Equal(t, DefaultSSHUser, cfg.User)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.Equal(t, DefaultHealthAttempts, cfg.HealthAttempts)
	require.Equal(t, DefaultHealthInterval, cfg.HealthInterval)

	// And with a domain and certs enabled.
	cfg = &Config{
		Host:    "203.0.113.10",
		KeyFile: keyFile,
		Domain:  "fashionrec.example.com",
	}

	require.NoError(t, ValidateForDeploy(cfg))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly,
// and that the secret never reaches the file.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		Host:           "203.0.113.10",
		User:           "deploy",
		KeyFile:        "/home/deploy/.ssh/fashionrec.pem",
		Domain:         "fashionrec.example.com",
		HealthAttempts: 3,
		HealthInterval: 2 * time.Second,
		Secret:         "GEMINI_API_KEY=super-secret",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Host, loaded.Host)
	require.Equal(t, cfg.User, loaded.User)
	require.Equal(t, cfg.KeyFile, loaded.KeyFile)
	require.Equal(t, cfg.Domain, loaded.Domain)
	require.Equal(t, 3, loaded.HealthAttempts)
	require.Empty(t, loaded.Secret)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(contents), "super-secret")
}
