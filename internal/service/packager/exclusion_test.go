package packager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestExclusionSet_Match exercises directory, extension and nested matches.
func TestExclusionSet_Match(t *testing.T) {
	t.Parallel()

	set := NewExclusionSet(".git", "__pycache__", ".env", "*.pyc")

	require.True(t, set.Match(".git"))
	require.True(t, set.Match(".git/config"))
	require.True(t, set.Match("__pycache__/x.pyc"))
	require.True(t, set.Match("pkg/__pycache__/y.pyc"))
	require.True(t, set.Match(".env"))
	require.True(t, set.Match("module.pyc"))
	require.True(t, set.Match("deep/nested/module.pyc"))

	require.False(t, set.Match("app.py"))
	require.False(t, set.Match("requirements.txt"))
	require.False(t, set.Match("environment/settings.py"))
	require.False(t, set.Match("."))
}

// TestExclusionSet_DoubleExtension covers archive patterns like *.tar.gz.
func TestExclusionSet_DoubleExtension(t *testing.T) {
	t.Parallel()

	set := NewExclusionSet("*.tar.gz", "*.log")

	require.True(t, set.Match("fashionrec-release.tar.gz"))
	require.True(t, set.Match("old/backup.tar.gz"))
	require.True(t, set.Match("service.log"))
	require.False(t, set.Match("targz_reader.py"))
}
