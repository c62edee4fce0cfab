package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, "warning", cfg.Policy.UnresolvedSeverity)
		assert.Equal(t, "exact", cfg.Policy.TypeCompatibility)
		assert.Equal(t, 1, cfg.Policy.ValidationHops)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := writeConfig(t, `
store:
  driver: sqlite
  path: graph.db
policy:
  unresolved_severity: error
  type_compatibility: lenient
  validation_hops: 3
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Store.Driver)
		assert.Equal(t, "graph.db", cfg.Store.Path)
		assert.Equal(t, "error", cfg.Policy.UnresolvedSeverity)
		assert.Equal(t, "lenient", cfg.Policy.TypeCompatibility)
		assert.Equal(t, 3, cfg.Policy.ValidationHops)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeConfig(t, `
policy:
  unresolved_severity: error
`)
		t.Setenv("LAWGRAPH_UNRESOLVED_SEVERITY", "info")
		t.Setenv("LAWGRAPH_VALIDATION_HOPS", "2")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Policy.UnresolvedSeverity)
		assert.Equal(t, 2, cfg.Policy.ValidationHops)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		for name, content := range map[string]string{
			"bad driver":     "store:\n  driver: postgres\n",
			"sqlite no path": "store:\n  driver: sqlite\n",
			"bad severity":   "policy:\n  unresolved_severity: fatal\n",
			"bad compat":     "policy:\n  type_compatibility: fuzzy\n",
			"negative hops":  "policy:\n  validation_hops: -1\n",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := LoadConfig(writeConfig(t, content))
				assert.Error(t, err)
			})
		}
	})

	t.Run("invalid env override errors even without a file", func(t *testing.T) {
		t.Setenv("LAWGRAPH_VALIDATION_HOPS", "many")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
