package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepline/manifest/internal/causality"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "manifest.db", cfg.Store.Path)
	assert.NotEmpty(t, cfg.Node.ID)
	assert.Equal(t, 2, cfg.Publisher.Workers)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/manifest/prod.db
publisher:
  workers: 8
  poll_interval: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/manifest/prod.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Publisher.Workers)
	assert.Equal(t, time.Second, cfg.Publisher.PollInterval)
	// Untouched fields fall back to defaults.
	assert.Equal(t, 16, cfg.Publisher.BatchSize)
	assert.Equal(t, 8, cfg.Publisher.MaxAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "store: [not: a: mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConflictPolicy_Overrides(t *testing.T) {
	path := writeConfig(t, `
conflicts:
  severity:
    inventory:
      full: critical
      partial: high
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	policy, err := cfg.Conflicts.Policy()
	require.NoError(t, err)

	assert.Equal(t, causality.SeverityRule{
		Full:    causality.SeverityCritical,
		Partial: causality.SeverityHigh,
	}, policy[causality.ConflictInventory])

	// Types without an override keep the default grading.
	assert.Equal(t, causality.DefaultPolicy()[causality.ConflictStaff], policy[causality.ConflictStaff])
}

func TestConflictPolicy_RejectsUnknownNames(t *testing.T) {
	badType := writeConfig(t, `
conflicts:
  severity:
    weather:
      full: high
      partial: low
`)
	_, err := Load(badType)
	assert.ErrorContains(t, err, "unknown conflict type")

	badSeverity := writeConfig(t, `
conflicts:
  severity:
    staff:
      full: catastrophic
      partial: low
`)
	_, err = Load(badSeverity)
	assert.ErrorContains(t, err, "unknown severity")
}
