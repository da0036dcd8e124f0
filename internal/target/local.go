package target

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
)

// LocalTarget installs releases into slot directories on this machine.
// It exists for workstation deployments and rehearsals: same slots, same
// rollback semantics, no SSH. Files are applied with go-update so every
// installed file is gated on its manifest checksum.
type LocalTarget struct {
	// cfg holds service parameters; RemoteRoot doubles as the local slot root.
	cfg *config.Config
	// desc is the release manifest used to verify installed files.
	desc *manifest.Description
}

// serviceEntrypoint is the script started from the active slot.
const serviceEntrypoint = "direct_pipeline.py"

// pidFilename records the pid of the service instance this target started.
// It lives in the slot root, not the active slot, so the process can still
// be stopped after a broken slot has been removed.
const pidFilename = "fashionrec-pipeline.pid"

var (
	errManifestRequired = errors.New("release manifest is required for local deployment")
	errChecksumMissing  = errors.New("checksum missing for file")
)

// NewLocal creates a target rooted at cfg.RemoteRoot on the local filesystem.
func NewLocal(cfg *config.Config, desc *manifest.Description) (*LocalTarget, error) {
	if desc == nil {
		return nil, errManifestRequired
	}

	return &LocalTarget{cfg: cfg, desc: desc}, nil
}

// PutArchive copies the archive into the slot root.
func (t *LocalTarget) PutArchive(_ context.Context, localPath string) (string, error) {
	if err := os.MkdirAll(t.cfg.RemoteRoot, 0o755); err != nil {
		return "", fmt.Errorf("create slot root: %w", err)
	}

	destination := filepath.Join(t.cfg.RemoteRoot, filepath.Base(localPath))

	contents, err := os.ReadFile(filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}

	if err = os.WriteFile(destination, contents, 0o644); err != nil {
		return "", fmt.Errorf("copy archive: %w", err)
	}

	return destination, nil
}

// ArchiveChecksum hashes the copied archive.
func (t *LocalTarget) ArchiveChecksum(_ context.Context, remotePath string) ([]byte, error) {
	return manifest.GetFileChecksum(remotePath)
}

// HasSlot reports whether the slot directory exists.
func (t *LocalTarget) HasSlot(_ context.Context, slot Slot) (bool, error) {
	info, err := os.Stat(t.slotPath(slot))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return info.IsDir(), nil
}

// RotateBackup discards a prior backup and renames active to backup.
func (t *LocalTarget) RotateBackup(ctx context.Context) error {
	if err := os.RemoveAll(t.slotPath(SlotBackup)); err != nil {
		return fmt.Errorf("discard old backup: %w", err)
	}

	hasActive, err := t.HasSlot(ctx, SlotActive)
	if err != nil {
		return err
	}

	if !hasActive {
		return nil
	}

	if err := os.Rename(t.slotPath(SlotActive), t.slotPath(SlotBackup)); err != nil {
		return fmt.Errorf("rotate active slot: %w", err)
	}

	return nil
}

// ExtractArchive unpacks into a scratch directory, then installs each file
// into the active slot with go-update, validating manifest checksums.
func (t *LocalTarget) ExtractArchive(ctx context.Context, remotePath string) error {
	scratchDir, err := os.MkdirTemp("", "fashionrec-deploy-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(scratchDir)
	}()

	if err = untarInto(remotePath, scratchDir); err != nil {
		return err
	}

	activePath := t.slotPath(SlotActive)
	if err = os.RemoveAll(activePath); err != nil {
		return err
	}

	if err = os.MkdirAll(activePath, 0o755); err != nil {
		return err
	}

	for fileName, encodedChecksum := range t.desc.Files {
		logger.DebugKV(ctx, "Installing file", "file", fileName)

		data, err := os.ReadFile(filepath.Join(scratchDir, filepath.FromSlash(fileName)))
		if err != nil {
			return fmt.Errorf("read extracted file: %w", err)
		}

		checksum, err := manifest.DecodeChecksum(encodedChecksum)
		if err != nil {
			return fmt.Errorf("%w: %s", errChecksumMissing, fileName)
		}

		targetPath := filepath.Join(activePath, filepath.FromSlash(fileName))
		if err = os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}

		if _, err = os.Stat(targetPath); errors.Is(err, os.ErrNotExist) {
			if _, err = os.Create(targetPath); err != nil {
				return err
			}
		}

		options := goupdate.Options{
			TargetPath: targetPath,
			TargetMode: 0o755,
			Checksum:   checksum,
			Hash:       manifest.DefaultChecksumFunction,
		}

		if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
			return fmt.Errorf("install %s: %w", fileName, err)
		}

		oldFileName := targetPath + ".old"
		if _, err = os.Stat(oldFileName); err == nil {
			_ = os.Remove(oldFileName)
		}
	}

	return nil
}

// WriteRuntimeSecret writes the credential file into the active slot.
func (t *LocalTarget) WriteRuntimeSecret(_ context.Context, key, value string) error {
	secretPath := filepath.Join(t.slotPath(SlotActive), SecretFilename)
	contents := fmt.Sprintf("%s=%s\n", key, value)

	if err := os.WriteFile(secretPath, []byte(contents), config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write runtime secret: %w", err)
	}

	return nil
}

// EnsureRuntime is a no-op locally; the workstation owns its own runtime.
func (t *LocalTarget) EnsureRuntime(ctx context.Context) error {
	logger.Info(ctx, "Skipping runtime installation on local target")
	return nil
}

// ConfigureProxy is a no-op locally.
func (t *LocalTarget) ConfigureProxy(ctx context.Context, _ string) error {
	logger.Info(ctx, "Skipping reverse proxy setup on local target")
	return nil
}

// IssueCertificate is a no-op locally.
func (t *LocalTarget) IssueCertificate(ctx context.Context, _ string) error {
	logger.Info(ctx, "Skipping certificate issuance on local target")
	return nil
}

// BuildService installs dependencies when the slot declares any.
func (t *LocalTarget) BuildService(ctx context.Context) error {
	activePath := t.slotPath(SlotActive)

	if _, err := os.Stat(filepath.Join(activePath, "requirements.txt")); errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "No requirements.txt in the active slot, skipping build")
		return nil
	}

	command := exec.CommandContext(ctx, "/bin/sh", "-c",
		"python3 -m venv venv && venv/bin/pip install -r requirements.txt")
	command.Dir = activePath

	if output, err := command.CombinedOutput(); err != nil {
		return fmt.Errorf("build service: %w: %s", err, bytes.TrimSpace(output))
	}

	return nil
}

// RestartService stops any running instance and starts a fresh one from the
// active slot.
func (t *LocalTarget) RestartService(ctx context.Context) error {
	if err := t.StopService(ctx); err != nil {
		return err
	}

	activePath := t.slotPath(SlotActive)

	python := filepath.Join(activePath, "venv", "bin", "python")
	if _, err := os.Stat(python); errors.Is(err, os.ErrNotExist) {
		python = "python3"
	}

	command := exec.CommandContext(ctx, python, serviceEntrypoint,
		"--server", "--port", strconv.Itoa(t.cfg.ServicePort))
	command.Dir = activePath

	if err := command.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	pid := command.Process.Pid
	if err := os.WriteFile(t.pidPath(), []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("record service pid: %w", err)
	}

	logger.InfoKV(ctx, "Started service", "pid", pid)

	return nil
}

// StopService kills the instance recorded in the pid file. The interpreter
// shows up as "python3" in the process table, so a name scan cannot find it;
// the scan remains only as a fallback for instances this target did not
// start, such as a service installed as a named binary.
func (t *LocalTarget) StopService(_ context.Context) error {
	contents, err := os.ReadFile(t.pidPath())
	if errors.Is(err, os.ErrNotExist) {
		return t.stopByName()
	}

	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return fmt.Errorf("parse recorded pid: %w", err)
	}

	if err = os.Remove(t.pidPath()); err != nil {
		return err
	}

	running, err := ps.FindProcess(pid)
	if err != nil {
		return err
	}

	if running == nil {
		// The recorded instance already exited on its own.
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Kill()
}

// stopByName kills processes whose executable matches the service name.
func (t *LocalTarget) stopByName() error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		processID := process.Pid()
		if processID == thisProcessID {
			continue
		}

		if process.Executable() != t.cfg.ServiceName {
			continue
		}

		runningProcess, err := os.FindProcess(processID)
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}

// pidPath is the absolute path of the service pid file.
func (t *LocalTarget) pidPath() string {
	return filepath.Join(t.cfg.RemoteRoot, pidFilename)
}

// RemoveActiveSlot deletes the active slot directory.
func (t *LocalTarget) RemoveActiveSlot(_ context.Context) error {
	return os.RemoveAll(t.slotPath(SlotActive))
}

// RestoreBackup promotes the backup slot back to active.
func (t *LocalTarget) RestoreBackup(ctx context.Context) error {
	hasBackup, err := t.HasSlot(ctx, SlotBackup)
	if err != nil {
		return err
	}

	if !hasBackup {
		return ErrNoBackup
	}

	return os.Rename(t.slotPath(SlotBackup), t.slotPath(SlotActive))
}

// ServiceURL points at the locally bound service port.
func (t *LocalTarget) ServiceURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", t.cfg.ServicePort)
}

// Close is a no-op for the local target.
func (t *LocalTarget) Close() error {
	return nil
}

// slotPath is the absolute local path of a slot directory.
func (t *LocalTarget) slotPath(slot Slot) string {
	return filepath.Join(t.cfg.RemoteRoot, string(slot))
}

// untarInto extracts a tar.gz archive below destination, rejecting members
// that would escape it.
func untarInto(archivePath, destination string) error {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("read gzip stream: %w", err)
	}

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar stream: %w", err)
		}

		memberPath := filepath.Join(destination, filepath.FromSlash(header.Name))
		if !filepath.IsLocal(header.Name) {
			return fmt.Errorf("archive member escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(memberPath, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(memberPath), 0o755); err != nil {
				return err
			}

			outputFile, err := os.OpenFile(
				memberPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}

			//nolint:gosec // Members come from archives this tool produced.
			if _, err = io.Copy(outputFile, tarReader); err != nil {
				_ = outputFile.Close()
				return err
			}

			if err = outputFile.Close(); err != nil {
				return err
			}
		default:
			// Other member types are not produced by the packager.
		}
	}
}
