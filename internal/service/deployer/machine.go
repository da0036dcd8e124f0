package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	domain "github.com/fashionrec/fashionrec-deploy/internal/domain/deploy"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
	"github.com/fashionrec/fashionrec-deploy/internal/repository/history"
	"github.com/fashionrec/fashionrec-deploy/internal/target"
)

// Prober checks whether the deployed service answers its health endpoint.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

var (
	// ErrDeployFailed marks a run whose new slot failed but whose backup was
	// restored and verified; the service keeps serving the old version.
	ErrDeployFailed = errors.New("deployment failed, previous version restored")
	// ErrRollbackFailed marks a run that left the service down. This is the
	// hard-stop case: no further automatic recovery, operator required.
	ErrRollbackFailed = errors.New("rollback failed, manual intervention required")

	errHealthWindowExhausted = errors.New("health check window exhausted")
	errChecksumMismatch      = errors.New("uploaded archive checksum mismatch")
	errInvalidTransition     = errors.New("invalid state transition")
	errSecretRequired        = errors.New("runtime secret must be provided")
)

// secretKeyName is the env key the pipeline service reads its credential from.
const secretKeyName = "GEMINI_API_KEY"

// runner executes one deployment through the state machine.
// It is intentionally unexported—call Run(ctx, Options) from callers.
type runner struct {
	cfg         *config.Config
	archivePath string
	desc        *manifest.Description
	target      target.Target
	prober      Prober
	history     history.Repository
	remotePath  string
	stage       domain.Stage
	record      *domain.Record
}

// newRunner assembles a runner; the caller owns target lifetime.
func newRunner(
	cfg *config.Config,
	archivePath string,
	desc *manifest.Description,
	tgt target.Target,
	prober Prober,
	repo history.Repository,
	actor *domain.Actor,
) *runner {
	return &runner{
		cfg:         cfg,
		archivePath: archivePath,
		desc:        desc,
		target:      tgt,
		prober:      prober,
		history:     repo,
		stage:       domain.StageIdle,
		record: &domain.Record{
			Version:   desc.Version,
			Host:      cfg.Host,
			Stage:     domain.StageIdle,
			Actor:     actor,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Run drives the deployment to a terminal stage.
// Each stage is visited at most once; rollback is the only detour and it
// terminates the run.
func (d *runner) Run(ctx context.Context) error {
	defer d.persistRecord(ctx)

	if err := d.preflight(); err != nil {
		return err
	}

	// Upload failures abort before any remote slot is touched.
	if err := d.transition(ctx, domain.StageUploading); err != nil {
		return err
	}

	if err := d.uploadAndVerify(ctx); err != nil {
		d.finish(domain.StageFailed, domain.ResultAborted)
		return fmt.Errorf("upload archive: %w", err)
	}

	if err := d.transition(ctx, domain.StageBackingUp); err != nil {
		return err
	}

	if err := d.target.RotateBackup(ctx); err != nil {
		return d.rollback(ctx, fmt.Errorf("rotate backup: %w", err))
	}

	if err := d.transition(ctx, domain.StageExtracting); err != nil {
		return err
	}

	if err := d.extract(ctx); err != nil {
		return d.rollback(ctx, err)
	}

	if err := d.transition(ctx, domain.StageStarting); err != nil {
		return err
	}

	if err := d.start(ctx); err != nil {
		return d.rollback(ctx, err)
	}

	if err := d.transition(ctx, domain.StageHealthChecking); err != nil {
		return err
	}

	if err := d.probeWindow(ctx); err != nil {
		return d.rollback(ctx, err)
	}

	if err := d.transition(ctx, domain.StageActive); err != nil {
		return err
	}

	d.finish(domain.StageActive, domain.ResultSucceeded)
	logger.InfoKV(ctx, "Deployment is live", "version", d.desc.Version)

	return nil
}

// preflight validates everything that must hold before remote mutation.
func (d *runner) preflight() error {
	if d.cfg.Secret == "" {
		return errSecretRequired
	}

	if _, err := os.Stat(d.archivePath); err != nil {
		return fmt.Errorf("release archive: %w", err)
	}

	return nil
}

// uploadAndVerify transfers the archive and compares its remote checksum
// against the manifest. The verified local archive is then removed so /tmp
// and workspaces do not accumulate stale releases.
func (d *runner) uploadAndVerify(ctx context.Context) error {
	remotePath, err := d.target.PutArchive(ctx, d.archivePath)
	if err != nil {
		return err
	}

	d.remotePath = remotePath

	remoteChecksum, err := d.target.ArchiveChecksum(ctx, remotePath)
	if err != nil {
		return err
	}

	wantChecksum, err := manifest.DecodeChecksum(d.desc.ArchiveChecksum)
	if err != nil {
		return err
	}

	if !bytes.Equal(remoteChecksum, wantChecksum) {
		return errChecksumMismatch
	}

	logger.InfoKV(ctx, "Archive uploaded and verified", "remote_path", remotePath)

	if err = os.Remove(d.archivePath); err != nil {
		logger.WarnKV(ctx, "Could not remove local archive", "error", err)
	}

	return nil
}

// extract unpacks the new active slot and writes the runtime credential.
func (d *runner) extract(ctx context.Context) error {
	if err := d.target.ExtractArchive(ctx, d.remotePath); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	if err := d.target.WriteRuntimeSecret(ctx, secretKeyName, d.cfg.Secret); err != nil {
		return fmt.Errorf("write runtime secret: %w", err)
	}

	return nil
}

// start runs the optional provisioning stages, builds and restarts the service.
func (d *runner) start(ctx context.Context) error {
	if !d.cfg.SkipRuntime {
		if err := d.target.EnsureRuntime(ctx); err != nil {
			return fmt.Errorf("ensure runtime: %w", err)
		}
	}

	if !d.cfg.SkipProxy && d.cfg.Domain != "" {
		if err := d.target.ConfigureProxy(ctx, d.cfg.Domain); err != nil {
			return fmt.Errorf("configure proxy: %w", err)
		}
	}

	if !d.cfg.SkipCerts && d.cfg.Domain != "" {
		if err := d.target.IssueCertificate(ctx, d.cfg.Domain); err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}
	}

	if err := d.target.BuildService(ctx); err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	if err := d.target.RestartService(ctx); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}

	return nil
}

// probeWindow polls the health endpoint with a bounded retry window.
// Transport failures count as failed attempts, not fatal errors.
func (d *runner) probeWindow(ctx context.Context) error {
	attempts := d.cfg.HealthAttempts

	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.prober.Probe(ctx)
		if err == nil {
			logger.InfoKV(ctx, "Health probe succeeded", "attempt", attempt)
			return nil
		}

		logger.WarnKV(ctx, "Health probe failed",
			"attempt", attempt, "of", attempts, "error", err)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.HealthInterval):
		}
	}

	return errHealthWindowExhausted
}

// rollback restores the backup slot after cause broke the new deployment.
// A healthy restored backup yields ErrDeployFailed; anything less is
// ErrRollbackFailed and requires an operator.
func (d *runner) rollback(ctx context.Context, cause error) error {
	// An operator interrupt is not a failure of the new version. Rolling
	// back with a canceled context would fail every target call and
	// misreport the run as catastrophic; leave the slots as they are.
	if ctx.Err() != nil {
		d.finish(domain.StageFailed, domain.ResultAborted)
		logger.WarnKV(ctx, "Deployment interrupted, slots left as written", "error", cause)

		return fmt.Errorf("deployment interrupted: %w", cause)
	}

	logger.ErrorKV(ctx, "Deployment failed, rolling back", "error", cause)

	if err := d.transition(ctx, domain.StageRollingBack); err != nil {
		return err
	}

	if err := d.restoreBackup(ctx); err != nil {
		d.finish(domain.StageFailed, domain.ResultCatastrophic)
		return fmt.Errorf("%w: %w (deploy failure: %w)", ErrRollbackFailed, err, cause)
	}

	if err := d.probeWindow(ctx); err != nil {
		d.finish(domain.StageFailed, domain.ResultCatastrophic)
		return fmt.Errorf("%w: restored backup is unhealthy: %w (deploy failure: %w)",
			ErrRollbackFailed, err, cause)
	}

	d.finish(domain.StageFailed, domain.ResultRolledBack)
	logger.Warn(ctx, "Rollback complete, previous version is serving")

	return fmt.Errorf("%w: %w", ErrDeployFailed, cause)
}

// restoreBackup stops and deletes the broken slot, then promotes the backup.
func (d *runner) restoreBackup(ctx context.Context) error {
	if err := d.target.StopService(ctx); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}

	if err := d.target.RemoveActiveSlot(ctx); err != nil {
		return fmt.Errorf("remove broken slot: %w", err)
	}

	if err := d.target.RestoreBackup(ctx); err != nil {
		return fmt.Errorf("restore backup slot: %w", err)
	}

	if err := d.target.RestartService(ctx); err != nil {
		return fmt.Errorf("restart restored service: %w", err)
	}

	return nil
}

// transition moves the machine to the next stage, enforcing the domain table.
func (d *runner) transition(ctx context.Context, next domain.Stage) error {
	if !d.stage.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, d.stage, next)
	}

	logger.InfoKV(ctx, "State transition", "from", d.stage, "to", next)

	d.stage = next
	d.record.Stage = next

	return nil
}

// finish stamps the terminal stage and result onto the run record.
func (d *runner) finish(stage domain.Stage, result domain.Result) {
	d.stage = stage
	d.record.Stage = stage
	d.record.Result = result
	d.record.FinishedAt = time.Now().UTC()
}

// persistRecord writes the run record; best effort, the deploy outcome wins.
func (d *runner) persistRecord(ctx context.Context) {
	// A run that never left Idle mutated nothing; recording it would
	// shadow the last real deployment in status output.
	if d.record.Stage == domain.StageIdle {
		return
	}

	if d.record.FinishedAt.IsZero() {
		d.record.FinishedAt = time.Now().UTC()
	}

	if err := d.history.Save(ctx, d.record); err != nil {
		logger.WarnKV(ctx, "Could not persist deploy record", "error", err)
	}
}
