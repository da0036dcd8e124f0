package deployer

import (
	"context"
	"errors"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
	"github.com/fashionrec/fashionrec-deploy/internal/repository/history"
	"github.com/fashionrec/fashionrec-deploy/internal/service/common"
	"github.com/fashionrec/fashionrec-deploy/internal/target"
)

// Status reports the last recorded run and the live remote state, then returns.
// It never mutates the target.
func Status(ctx context.Context, cfg *config.Config) error {
	repo := history.NewFileRepository("")

	record, err := repo.Load(ctx)

	switch {
	case errors.Is(err, history.ErrNotFound):
		logger.Info(ctx, "No deployment has been recorded from this machine yet")
	case err != nil:
		return err
	default:
		logger.InfoKV(ctx, "Last deployment",
			"version", record.Version,
			"host", record.Host,
			"stage", record.Stage,
			"result", record.Result,
			"finished_at", record.FinishedAt)
	}

	if err = config.ValidateForDeploy(cfg); err != nil {
		// Without reachable host settings the local record is all there is.
		logger.WarnKV(ctx, "Remote state unavailable", "reason", err)
		return nil
	}

	remote, err := target.DialSSH(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = remote.Close()
	}()

	hasActive, err := remote.HasSlot(ctx, target.SlotActive)
	if err != nil {
		return err
	}

	hasBackup, err := remote.HasSlot(ctx, target.SlotBackup)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Deployment slots",
		"active", hasActive, "backup", hasBackup)

	client, err := common.NewClient(remote.ServiceURL(), common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	if err = client.Health(ctx); err != nil {
		logger.WarnKV(ctx, "Service health", "healthy", false, "error", err)
		return nil
	}

	logger.InfoKV(ctx, "Service health", "healthy", true)

	return nil
}
