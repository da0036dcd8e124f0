package target

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
)

// buildTestArchive writes a tar.gz with the provided members and returns its
// path together with a matching manifest.
func buildTestArchive(t *testing.T, files map[string]string) (string, *manifest.Description) {
	t.Helper()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "release.tar.gz")

	outputFile, err := os.Create(archivePath)
	require.NoError(t, err)

	gzipWriter := gzip.NewWriter(outputFile)
	tarWriter := tar.NewWriter(gzipWriter)

	desc := manifest.NewDescription()

	for name, content := range files {
		require.NoError(t, tarWriter.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))

		_, err = tarWriter.Write([]byte(content))
		require.NoError(t, err)

		sum := manifest.DefaultChecksumFunction.New()
		_, err = sum.Write([]byte(content))
		require.NoError(t, err)

		desc.Files[name] = manifest.EncodeChecksum(sum.Sum(nil))
	}

	require.NoError(t, tarWriter.Close())
	require.NoError(t, gzipWriter.Close())
	require.NoError(t, outputFile.Close())

	checksum, err := manifest.GetFileChecksum(archivePath)
	require.NoError(t, err)

	desc.Archive = filepath.Base(archivePath)
	desc.ArchiveChecksum = manifest.EncodeChecksum(checksum)

	return archivePath, desc
}

func newLocalForTest(t *testing.T, desc *manifest.Description) *LocalTarget {
	t.Helper()

	cfg := &config.Config{RemoteRoot: filepath.Join(t.TempDir(), "slots")}
	config.ApplyDefaults(cfg)

	local, err := NewLocal(cfg, desc)
	require.NoError(t, err)

	return local
}

// TestLocalTarget_ExtractInstallsVerifiedFiles runs the upload → extract →
// secret flow and checks the active slot contents.
func TestLocalTarget_ExtractInstallsVerifiedFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath, desc := buildTestArchive(t, map[string]string{
		"app.py":           "print('app')\n",
		"lib/helpers.py":   "pass\n",
		"requirements.txt": "",
	})

	local := newLocalForTest(t, desc)

	remotePath, err := local.PutArchive(ctx, archivePath)
	require.NoError(t, err)

	checksum, err := local.ArchiveChecksum(ctx, remotePath)
	require.NoError(t, err)
	require.Equal(t, desc.ArchiveChecksum, manifest.EncodeChecksum(checksum))

	require.NoError(t, local.ExtractArchive(ctx, remotePath))
	require.NoError(t, local.WriteRuntimeSecret(ctx, "GEMINI_API_KEY", "secret-value"))

	activeDir := filepath.Join(local.cfg.RemoteRoot, string(SlotActive))

	contents, err := os.ReadFile(filepath.Join(activeDir, "app.py"))
	require.NoError(t, err)
	require.Equal(t, "print('app')\n", string(contents))

	_, err = os.Stat(filepath.Join(activeDir, "lib", "helpers.py"))
	require.NoError(t, err)

	secret, err := os.ReadFile(filepath.Join(activeDir, SecretFilename))
	require.NoError(t, err)
	require.Equal(t, "GEMINI_API_KEY=secret-value\n", string(secret))

	info, err := os.Stat(filepath.Join(activeDir, SecretFilename))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestLocalTarget_ExtractRejectsCorruptedFile ensures a checksum mismatch
// fails the install instead of placing bad bytes in the slot.
func TestLocalTarget_ExtractRejectsCorruptedFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath, desc := buildTestArchive(t, map[string]string{"app.py": "print('app')\n"})

	// Claim a different checksum than the archived bytes.
	desc.Files["app.py"] = manifest.EncodeChecksum([]byte("tampered"))

	local := newLocalForTest(t, desc)

	remotePath, err := local.PutArchive(ctx, archivePath)
	require.NoError(t, err)
	require.Error(t, local.ExtractArchive(ctx, remotePath))
}

// TestLocalTarget_SlotLifecycle exercises rotate, remove and restore.
func TestLocalTarget_SlotLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath, desc := buildTestArchive(t, map[string]string{"app.py": "v1\n"})

	local := newLocalForTest(t, desc)

	// No slots yet: rotation is a no-op, restore has nothing to promote.
	require.NoError(t, local.RotateBackup(ctx))
	require.ErrorIs(t, local.RestoreBackup(ctx), ErrNoBackup)

	remotePath, err := local.PutArchive(ctx, archivePath)
	require.NoError(t, err)
	require.NoError(t, local.ExtractArchive(ctx, remotePath))

	hasActive, err := local.HasSlot(ctx, SlotActive)
	require.NoError(t, err)
	require.True(t, hasActive)

	// New deploy starts: active becomes backup.
	require.NoError(t, local.RotateBackup(ctx))

	hasBackup, err := local.HasSlot(ctx, SlotBackup)
	require.NoError(t, err)
	require.True(t, hasBackup)

	hasActive, err = local.HasSlot(ctx, SlotActive)
	require.NoError(t, err)
	require.False(t, hasActive)

	// Roll back: backup is promoted and its content survived.
	require.NoError(t, local.RestoreBackup(ctx))

	contents, err := os.ReadFile(
		filepath.Join(local.cfg.RemoteRoot, string(SlotActive), "app.py"))
	require.NoError(t, err)
	require.Equal(t, "v1\n", string(contents))
}

// TestLocalTarget_StopServiceKillsRecordedPid starts a long-running process,
// records it the way RestartService does, and checks StopService kills it.
// The process runs under an interpreter name, so a name scan would miss it.
func TestLocalTarget_StopServiceKillsRecordedPid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local := newLocalForTest(t, manifest.NewDescription())

	require.NoError(t, os.MkdirAll(local.cfg.RemoteRoot, 0o755))

	command := exec.Command("sleep", "60")
	require.NoError(t, command.Start())

	pidFile := filepath.Join(local.cfg.RemoteRoot, pidFilename)
	require.NoError(t, os.WriteFile(pidFile,
		[]byte(strconv.Itoa(command.Process.Pid)), 0o600))

	require.NoError(t, local.StopService(ctx))

	// Wait returns once the kill lands; a clean exit would mean it did not.
	require.Error(t, command.Wait())

	_, err := os.Stat(pidFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLocalTarget_StopServiceStalePid tolerates a recorded pid whose process
// already exited: no error, pid file cleaned up.
func TestLocalTarget_StopServiceStalePid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local := newLocalForTest(t, manifest.NewDescription())

	require.NoError(t, os.MkdirAll(local.cfg.RemoteRoot, 0o755))

	pidFile := filepath.Join(local.cfg.RemoteRoot, pidFilename)
	require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0o600))

	require.NoError(t, local.StopService(ctx))

	_, err := os.Stat(pidFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLocalTarget_StopServiceWithoutPidFile falls through to the name scan
// and finds nothing to stop.
func TestLocalTarget_StopServiceWithoutPidFile(t *testing.T) {
	t.Parallel()

	local := newLocalForTest(t, manifest.NewDescription())

	require.NoError(t, local.StopService(context.Background()))
}
