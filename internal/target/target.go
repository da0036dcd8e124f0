package target

import (
	"context"
	"errors"
)

// Slot names the two deployment directories a target may hold.
type Slot string

const (
	// SlotActive is the directory serving the running application.
	SlotActive Slot = "current"
	// SlotBackup is the previous active slot kept for rollback.
	SlotBackup Slot = "backup"
)

// SecretFilename is the runtime-private credential file inside the active slot.
const SecretFilename = ".env"

// ErrNoBackup is returned when a rollback is requested but no backup slot exists.
var ErrNoBackup = errors.New("no backup slot to restore")

// Target abstracts the machine a release is installed on.
// Implementations mutate at most two deployment slots under a root directory
// and control the pipeline service process.
type Target interface {
	// PutArchive transfers the archive to the target and returns its path there.
	PutArchive(ctx context.Context, localPath string) (string, error)
	// ArchiveChecksum computes the checksum of an uploaded archive.
	ArchiveChecksum(ctx context.Context, remotePath string) ([]byte, error)
	// HasSlot reports whether the slot directory exists.
	HasSlot(ctx context.Context, slot Slot) (bool, error)
	// RotateBackup discards any prior backup and moves the active slot into its place.
	RotateBackup(ctx context.Context) error
	// ExtractArchive unpacks the uploaded archive into a fresh active slot.
	ExtractArchive(ctx context.Context, remotePath string) error
	// WriteRuntimeSecret writes the single-line KEY=value credential file
	// into the active slot. The value must never appear in logs or argv.
	WriteRuntimeSecret(ctx context.Context, key, value string) error
	// EnsureRuntime installs the language runtime the service needs.
	EnsureRuntime(ctx context.Context) error
	// ConfigureProxy sets up the reverse proxy for the provided domain.
	ConfigureProxy(ctx context.Context, domain string) error
	// IssueCertificate obtains a TLS certificate for the provided domain.
	IssueCertificate(ctx context.Context, domain string) error
	// BuildService installs the service dependencies inside the active slot.
	BuildService(ctx context.Context) error
	// RestartService (re)starts the pipeline service from the active slot.
	RestartService(ctx context.Context) error
	// StopService stops the pipeline service if it is running.
	StopService(ctx context.Context) error
	// RemoveActiveSlot deletes the active slot directory.
	RemoveActiveSlot(ctx context.Context) error
	// RestoreBackup promotes the backup slot back to active.
	// Returns ErrNoBackup when there is nothing to restore.
	RestoreBackup(ctx context.Context) error
	// ServiceURL is the base URL health probes and clients should use.
	ServiceURL() string
	// Close releases any connections held by the target.
	Close() error
}
