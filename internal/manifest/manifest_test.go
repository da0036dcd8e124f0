package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGetFileChecksum_Deterministic verifies checksums are stable across reads
// and change with content.
func TestGetFileChecksum_Deterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("print('hello')\n"), 0o644))

	first, err := GetFileChecksum(path)
	require.NoError(t, err)

	second, err := GetFileChecksum(path)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("print('changed')\n"), 0o644))

	third, err := GetFileChecksum(path)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

// TestChecksumEncodingRoundtrip covers the base64 helpers.
func TestChecksumEncodingRoundtrip(t *testing.T) {
	t.Parallel()

	sum := []byte{0x01, 0x02, 0xfe, 0xff}
	decoded, err := DecodeChecksum(EncodeChecksum(sum))
	require.NoError(t, err)
	require.Equal(t, sum, decoded)

	_, err = DecodeChecksum("not//valid==base64")
	require.Error(t, err)
}

// TestSaveLoadRoundtrip ensures a manifest is persisted and loaded back intact.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "release.yaml")

	desc := NewDescription()
	desc.Archive = "fashionrec-release.tar.gz"
	desc.ArchiveChecksum = EncodeChecksum([]byte("archive"))
	desc.Files["app.py"] = EncodeChecksum([]byte("app"))
	desc.Files["requirements.txt"] = EncodeChecksum([]byte("reqs"))

	require.NoError(t, Save(path, desc))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, desc.Version, loaded.Version)
	require.Equal(t, desc.Archive, loaded.Archive)
	require.Equal(t, desc.ArchiveChecksum, loaded.ArchiveChecksum)
	require.Equal(t, desc.Files, loaded.Files)
	require.Equal(t, desc.CreatedAt.Unix(), loaded.CreatedAt.Unix())
}
