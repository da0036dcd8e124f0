package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
	"github.com/fashionrec/fashionrec-deploy/internal/repository/history"
	"github.com/fashionrec/fashionrec-deploy/internal/service/common"
	"github.com/fashionrec/fashionrec-deploy/internal/target"
)

// Options are inputs accepted by the deployer entry point.
// Flag values override whatever the settings file carries.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// ArchivePath overrides the configured release archive location.
	ArchivePath string
	// Host, Port, User and KeyFile override the SSH coordinates.
	Host    string
	Port    int
	User    string
	KeyFile string
	// Secret is the runtime credential for the deployed service.
	Secret string
	// Domain overrides the public domain for proxy and certificates.
	Domain string
	// UseLocal deploys into slot directories on this machine instead of SSH.
	UseLocal bool
	// SkipRuntime, SkipProxy and SkipCerts disable the optional stages.
	SkipRuntime bool
	SkipProxy   bool
	SkipCerts   bool
	// StatusOnly reports the current deployment state and exits.
	StatusOnly bool
}

// Run executes the deployer and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "fashionrec-deployer")

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	if opts.StatusOnly {
		return Status(ctx, cfg)
	}

	if !opts.UseLocal {
		if err = config.ValidateForDeploy(cfg); err != nil {
			return err
		}

		// Persist the merged settings so the next run can omit the flags.
		// The secret and skip flags are per-run and are not written.
		if err = config.Save(opts.ConfigPath, cfg); err != nil {
			return err
		}
	}

	archivePath := cfg.ArchivePath
	if opts.ArchivePath != "" {
		archivePath = opts.ArchivePath
	}

	desc, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}

	tgt, err := openTarget(ctx, cfg, desc, opts.UseLocal)
	if err != nil {
		return err
	}

	defer func() {
		_ = tgt.Close()
	}()

	client, err := common.NewClient(tgt.ServiceURL(), common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	run := newRunner(cfg, archivePath, desc, tgt,
		ProberFunc(client.Health), history.NewFileRepository(""), actor)

	if err = run.Run(ctx); err != nil {
		if errors.Is(err, ErrRollbackFailed) {
			logger.ErrorKV(ctx, "DEPLOYMENT LEFT THE SERVICE DOWN, INTERVENE MANUALLY", "error", err)
		}

		return err
	}

	logger.Info(ctx, "Deployer completed successfully")

	return nil
}

// resolveConfig loads the settings file if present and overlays flag values.
func resolveConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		cfg = new(config.Config)
	}

	if opts.Host != "" {
		cfg.Host = opts.Host
	}

	if opts.Port > 0 {
		cfg.Port = opts.Port
	}

	if opts.User != "" {
		cfg.User = opts.User
	}

	if opts.KeyFile != "" {
		cfg.KeyFile = opts.KeyFile
	}

	if opts.Domain != "" {
		cfg.Domain = opts.Domain
	}

	cfg.Secret = opts.Secret
	cfg.SkipRuntime = opts.SkipRuntime
	cfg.SkipProxy = opts.SkipProxy
	cfg.SkipCerts = opts.SkipCerts

	config.ApplyDefaults(cfg)

	return cfg, nil
}

// openTarget dials the configured machine for this run.
func openTarget(
	ctx context.Context,
	cfg *config.Config,
	desc *manifest.Description,
	useLocal bool,
) (target.Target, error) {
	if useLocal {
		local, err := target.NewLocal(cfg, desc)
		if err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Deploying to local slots", "root", cfg.RemoteRoot)

		return local, nil
	}

	remote, err := target.DialSSH(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reach deployment target: %w", err)
	}

	return remote, nil
}
