package packager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
)

// writeTree creates files under root from a map of relative path to content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for relPath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relPath))
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
	}
}

// runPackager packages root into workDir and returns the archive and manifest paths.
func runPackager(t *testing.T, root, workDir string) (string, string) {
	t.Helper()

	archivePath := filepath.Join(workDir, "release.tar.gz")
	manifestPath := filepath.Join(workDir, "release.yaml")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workDir))

	t.Cleanup(func() {
		require.NoError(t, os.Chdir(cwd))
	})

	pkg, err := newPackager(&Options{
		ConfigPath: filepath.Join(workDir, "no-settings.yaml"),
		RootDir:    root,
		OutputPath: archivePath,
	})
	require.NoError(t, err)

	pkg.manifestPath = manifestPath
	require.NoError(t, pkg.Run(context.Background()))

	return archivePath, manifestPath
}

// TestRun_ExclusionScenario packages the documented sample tree and verifies
// the archive contains exactly the non-excluded files.
func TestRun_ExclusionScenario(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"app.py":             "print('app')\n",
		".git/config":        "[core]\n",
		"__pycache__/x.pyc":  "\x00\x01",
		".env":               "GEMINI_API_KEY=secret\n",
		"requirements.txt":   "flask\n",
		"assets/samples.txt": "outfit.jpg\n",
	})

	archivePath, manifestPath := runPackager(t, root, t.TempDir())

	members, err := ListArchiveMembers(archivePath)
	require.NoError(t, err)
	require.Equal(t, []string{"app.py", "assets/samples.txt", "requirements.txt"}, members)

	desc, err := manifest.Load(manifestPath)
	require.NoError(t, err)
	require.Len(t, desc.Files, 3)
	require.Contains(t, desc.Files, "app.py")
	require.NotContains(t, desc.Files, ".env")
	require.NotEmpty(t, desc.ArchiveChecksum)

	archiveChecksum, err := manifest.GetFileChecksum(archivePath)
	require.NoError(t, err)
	require.Equal(t, manifest.EncodeChecksum(archiveChecksum), desc.ArchiveChecksum)
}

// TestRun_Idempotent verifies repeated packaging of an unchanged tree yields
// identical membership and file checksums.
func TestRun_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"app.py":           "print('app')\n",
		"requirements.txt": "flask\n",
		"lib/util.py":      "pass\n",
	})

	firstArchive, firstManifest := runPackager(t, root, t.TempDir())
	secondArchive, secondManifest := runPackager(t, root, t.TempDir())

	firstMembers, err := ListArchiveMembers(firstArchive)
	require.NoError(t, err)

	secondMembers, err := ListArchiveMembers(secondArchive)
	require.NoError(t, err)
	require.Equal(t, firstMembers, secondMembers)

	firstDesc, err := manifest.Load(firstManifest)
	require.NoError(t, err)

	secondDesc, err := manifest.Load(secondManifest)
	require.NoError(t, err)
	require.Equal(t, firstDesc.Files, secondDesc.Files)
}

// TestRun_StagingRemoved ensures no staging directories are left behind.
func TestRun_StagingRemoved(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app.py": "print('app')\n"})

	runPackager(t, root, t.TempDir())

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "fashionrec-packager-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

// TestRun_ArchiveNotNested packages into the source tree itself twice; the
// archive from the first run must not be swallowed by the second.
func TestRun_ArchiveNotNested(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app.py": "print('app')\n"})

	archivePath := filepath.Join(root, "release.tar.gz")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))

	t.Cleanup(func() {
		require.NoError(t, os.Chdir(cwd))
	})

	for i := 0; i < 2; i++ {
		pkg, err := newPackager(&Options{
			ConfigPath: filepath.Join(root, "no-settings.yaml"),
			RootDir:    root,
			OutputPath: archivePath,
		})
		require.NoError(t, err)

		pkg.manifestPath = filepath.Join(root, "release.yaml")
		require.NoError(t, pkg.Run(context.Background()))
	}

	members, err := ListArchiveMembers(archivePath)
	require.NoError(t, err)
	require.Equal(t, []string{"app.py"}, members)
}

// TestStageTree_MissingRoot surfaces a clear error for a bad root.
func TestStageTree_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := newPackager(&Options{
		ConfigPath: filepath.Join(t.TempDir(), "no-settings.yaml"),
		RootDir:    filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.Error(t, err)
}
