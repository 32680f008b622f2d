package main

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegish-sh/aegish/internal/config"
)

func TestParseArgsDefaultsToDevelopment(t *testing.T) {
	opts, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, config.ModeDevelopment, opts.mode)
	assert.False(t, opts.healthCheck)
}

func TestParseArgsProductionModeAndHealthCheck(t *testing.T) {
	opts, err := parseArgs([]string{"-mode", "production", "-config", "/etc/aegish/config.yaml", "-health-check"})
	require.NoError(t, err)
	assert.Equal(t, config.ModeProduction, opts.mode)
	assert.Equal(t, "/etc/aegish/config.yaml", opts.configPath)
	assert.True(t, opts.healthCheck)
}

func TestParseArgsRejectsUnknownMode(t *testing.T) {
	_, err := parseArgs([]string{"-mode", "sandbox"})
	require.Error(t, err)
}

func TestParseArgsVersionFlag(t *testing.T) {
	opts, err := parseArgs([]string{"-version"})
	require.NoError(t, err)
	assert.True(t, opts.version)
}

func TestNonEmptyOr(t *testing.T) {
	assert.Equal(t, "fallback", nonEmptyOr("", "fallback"))
	assert.Equal(t, "set", nonEmptyOr("set", "fallback"))
}

func TestVerifyHashMatchesFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin")
	content := []byte("#!/bin/sh\necho hi\n")
	require.NoError(t, os.WriteFile(path, content, 0o755))

	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])

	require.NoError(t, verifyHash(path, want))
	assert.Error(t, verifyHash(path, "0000000000000000000000000000000000000000000000000000000000000000"))
}
