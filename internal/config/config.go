package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds deployment settings shared by the packager and deployer binaries.
type Config struct {
	// Host is the address of the remote machine the service is deployed to.
	Host string `yaml:"host"`
	// Port is the SSH port on the remote machine.
	Port int `yaml:"port"`
	// User is the SSH login on the remote machine.
	User string `yaml:"user"`
	// KeyFile is the path to the private key used for SSH authentication.
	KeyFile string `yaml:"key_file"`
	// Domain is the public domain served by the reverse proxy.
	// Optional; required only when certificate issuance is enabled.
	Domain string `yaml:"domain,omitempty"`
	// ServiceName is the name of the pipeline service (systemd unit on the
	// remote host, executable name for local deployments).
	ServiceName string `yaml:"service_name"`
	// ServicePort is the TCP port the pipeline service listens on.
	ServicePort int `yaml:"service_port"`
	// RemoteRoot is the directory on the target holding the deployment slots.
	RemoteRoot string `yaml:"remote_root"`
	// ArchivePath is where the packager writes the release archive.
	ArchivePath string `yaml:"archive_path"`
	// ManifestPath is where the packager writes the release manifest.
	ManifestPath string `yaml:"manifest_path"`
	// HealthAttempts is the number of health probe attempts after a restart.
	HealthAttempts int `yaml:"health_attempts"`
	// HealthInterval is the delay between health probe attempts.
	HealthInterval time.Duration `yaml:"health_interval"`
	// Timeout is the duration for individual network operations.
	Timeout time.Duration `yaml:"timeout"`
	// ExtraExclusions extends the built-in exclusion patterns for packaging.
	ExtraExclusions []string `yaml:"extra_exclusions,omitempty"`
	// Secret is the credential the pipeline service needs at runtime.
	// It is provided per deploy and is never persisted or logged.
	Secret string `yaml:"-"`
	// SkipRuntime disables the runtime installation stage.
	SkipRuntime bool `yaml:"-"`
	// SkipProxy disables the reverse proxy configuration stage.
	SkipProxy bool `yaml:"-"`
	// SkipCerts disables the certificate issuance stage.
	SkipCerts bool `yaml:"-"`
}

const (
	// DefaultConfigFilename is the default filename for deployment settings.
	DefaultConfigFilename = "fashionrec-deploy.yaml"

	// DefaultArchiveFilename is the default filename for the release archive.
	DefaultArchiveFilename = "fashionrec-release.tar.gz"

	// DefaultManifestFilename is the default filename for the release manifest.
	DefaultManifestFilename = "fashionrec-release.yaml"

	// DefaultHistoryFilename is the default filename for the last deploy record.
	DefaultHistoryFilename = "fashionrec-deploy-history.json"

	// DefaultServiceName is the default name of the deployed service.
	DefaultServiceName = "fashionrec-pipeline"

	// DefaultRemoteRoot is the default slot directory on the target.
	DefaultRemoteRoot = "/opt/fashionrec"

	// DefaultSSHPort is the default SSH port on the remote machine.
	DefaultSSHPort = 22

	// DefaultSSHUser is the default SSH login on the remote machine.
	DefaultSSHUser = "ubuntu"

	// DefaultServicePort is the port the pipeline service binds by default.
	DefaultServicePort = 5000

	// DefaultHealthAttempts is the default size of the health probe window.
	DefaultHealthAttempts = 12

	// DefaultHealthInterval is the default delay between health probes.
	DefaultHealthInterval = 5 * time.Second

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errHostRequired is returned when the remote host is missing.
	errHostRequired = errors.New("remote host must be provided")
	// errKeyFileRequired is returned when the SSH key file is missing.
	errKeyFileRequired = errors.New("ssh key file must be provided")
)

// Load reads configuration from the provided path and fills in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	ApplyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
// Secrets and per-run flags are not serialized.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultSSHPort
	}

	if cfg.User == "" {
		cfg.User = DefaultSSHUser
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	if cfg.ServicePort <= 0 {
		cfg.ServicePort = DefaultServicePort
	}

	if cfg.RemoteRoot == "" {
		cfg.RemoteRoot = DefaultRemoteRoot
	}

	if cfg.ArchivePath == "" {
		cfg.ArchivePath = DefaultArchiveFilename
	}

	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestFilename
	}

	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = DefaultHealthAttempts
	}

	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
}

// ValidateForDeploy checks fields required before any remote mutation.
// Packaging does not need a reachable host, so the packager skips this check.
func ValidateForDeploy(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	ApplyDefaults(cfg)

	if cfg.Host == "" {
		return errHostRequired
	}

	if cfg.KeyFile == "" {
		return errKeyFileRequired
	}

	if _, err := os.Stat(cfg.KeyFile); err != nil {
		return fmt.Errorf("ssh key file: %w", err)
	}

	// Domain is optional: without it the proxy and certificate stages
	// simply do not run.
	return nil
}
