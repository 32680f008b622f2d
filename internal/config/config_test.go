package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegish-sh/aegish/internal/aegerr"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("AEGISH_FAIL_MODE", "")
	t.Setenv("AEGISH_ROLE", "")
	t.Setenv("AEGISH_VAR_CMD_ACTION", "")

	snap, err := Load(ModeDevelopment, "", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, FailSafe, snap.FailMode)
	assert.Equal(t, DefaultRole, snap.Role)
	assert.Equal(t, VarCmdBlock, snap.VarCmdAction)
	assert.Equal(t, DefaultConfidenceThreshold, snap.ConfidenceThreshold)
	assert.True(t, snap.FilterSensitiveVars)
}

func TestLoadDevelopmentInvalidFailMode(t *testing.T) {
	t.Setenv("AEGISH_FAIL_MODE", "maybe")
	_, err := Load(ModeDevelopment, "", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	var aerr *aegerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, aegerr.ConfigInvalid, aerr.Kind)
}

func TestLoadProductionRejectsWorldWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: production\n"), 0o646))
	// WriteFile's mode is filtered by the umask; set it explicitly so the
	// file really is world-writable.
	require.NoError(t, os.Chmod(path, 0o646))

	_, err := Load(ModeProduction, path, "")
	require.Error(t, err)
	var aerr *aegerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, aegerr.ConfigInvalid, aerr.Kind)
}

func TestLoadProductionRequiresIntegrityFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: production\nprimary_model: bedrock/claude\n"), 0o644))

	_, err := Load(ModeProduction, path, "")
	require.Error(t, err)
	var aerr *aegerr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, aegerr.IntegrityViolation, aerr.Kind)
}

func TestSnapshotEquality(t *testing.T) {
	// P9: repeated reads of the same snapshot value are equal.
	snap, err := Load(ModeDevelopment, "", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	again := snap
	assert.Equal(t, snap.FailMode, again.FailMode)
	assert.Equal(t, snap.MaxCommandLength, again.MaxCommandLength)
}
