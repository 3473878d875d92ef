package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreVersion(t *testing.T) {
	t.Helper()
	v, b, c := Version, Build, GitCommit
	t.Cleanup(func() { Version, Build, GitCommit = v, b, c })
}

func TestLoadVersionFile_FillsDefaults(t *testing.T) {
	restoreVersion(t)
	Version, Build, GitCommit = defaultVersion, unknown, unknown

	path := filepath.Join(t.TempDir(), ".version")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.4.0\nbuild: 2025-03-10T09:12:00Z\ncommit: 3f9c2ab\n"), 0644))
	require.NoError(t, LoadVersionFile(path))

	assert.Equal(t, "1.4.0", Version)
	assert.Equal(t, "2025-03-10T09:12:00Z", Build)
	assert.Equal(t, "3f9c2ab", GitCommit)

	info := GetBuildInfo()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "3f9c2ab", info.Commit)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
	assert.Contains(t, info.String(), "1.4.0 (build: 2025-03-10T09:12:00Z, commit: 3f9c2ab")
}

func TestLoadVersionFile_LdflagsWin(t *testing.T) {
	restoreVersion(t)
	Version, Build, GitCommit = "2.0.0", unknown, "abcdef0"

	path := filepath.Join(t.TempDir(), ".version")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.4.0\ncommit: 3f9c2ab\n"), 0644))
	require.NoError(t, LoadVersionFile(path))

	assert.Equal(t, "2.0.0", Version)
	assert.Equal(t, "abcdef0", GitCommit)
	assert.Equal(t, unknown, Build)
}

func TestLoadVersionFile_Errors(t *testing.T) {
	restoreVersion(t)
	dir := t.TempDir()

	assert.Error(t, LoadVersionFile(filepath.Join(dir, "missing")))

	bad := filepath.Join(dir, ".version")
	require.NoError(t, os.WriteFile(bad, []byte("version: [1, 2\n"), 0644))
	assert.Error(t, LoadVersionFile(bad))
}

func TestBuildInfo_StringMarksDirtyTree(t *testing.T) {
	b := BuildInfo{Version: "1.0.0", Build: "b", Commit: "3f9c2ab", Modified: true, GoVersion: "go1.25.5"}
	assert.Equal(t, "1.0.0 (build: b, commit: 3f9c2ab+dirty, go1.25.5)", b.String())
	assert.Equal(t, "3f9c2ab", shortCommit("3f9c2ab1d2e3f4"))
}
