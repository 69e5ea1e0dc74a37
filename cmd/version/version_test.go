package version

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPluginVersions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "github"), []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "github.version"), []byte(`{"version":"1.2.0","plugin_type":"vcs"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy"), []byte("binary"), 0o755))

	got := getPluginVersions(dir)

	assert.Equal(t, map[string]PluginMeta{
		"github": {Version: "1.2.0", PluginType: "vcs"},
		"legacy": {Version: "unknown", PluginType: "unknown"},
	}, got)
	assert.Empty(t, getPluginVersions(filepath.Join(dir, "missing")))
}

func TestPrintVersionInfo(t *testing.T) {
	var buf bytes.Buffer
	printVersionInfo(&buf, &CoreVersions{
		Version:       "0.3.0",
		GolangVersion: "go1.23.4",
		BuildTime:     "2026-05-04T10:00:00Z",
		PluginsMeta:   map[string]PluginMeta{"github": {Version: "1.2.0", PluginType: "vcs"}},
	})

	assert.Equal(t, "Core Version: v0.3.0\nPlugin Versions:\n  github: v1.2.0 (Type: vcs)\nGo Version: go1.23.4\nBuild Time: 2026-05-04T10:00:00Z\n", buf.String())
}
