package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/config"
)

func TestOpenAndWriteAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	log, err := Open(path, config.ModeDevelopment, zap.NewNop())
	require.NoError(t, err)
	defer log.Close()

	err = log.Write(Record{Canonical: "echo hi", Action: "ALLOW"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	require.True(t, scanner.Scan())

	var rec Record
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "echo hi", rec.Canonical)
	assert.Equal(t, "ALLOW", rec.Action)
}

func TestWriteOverrideSetsFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	log, err := Open(path, config.ModeDevelopment, zap.NewNop())
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Write(Record{Canonical: "rm file", Action: "WARN"}))
	require.NoError(t, log.WriteOverride(Record{Canonical: "rm file", Action: "WARN"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var base, override Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &base))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &override))
	assert.False(t, base.Override)
	assert.True(t, override.Override)
}

func TestOpenFailsFatalInProduction(t *testing.T) {
	_, err := Open("/nonexistent-dir-aegish/audit.log", config.ModeProduction, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenSoftFailsInDevelopment(t *testing.T) {
	log, err := Open("/nonexistent-dir-aegish/audit.log", config.ModeDevelopment, zap.NewNop())
	require.NoError(t, err)
	// Write should be a no-op rather than panicking when no file is open.
	assert.NoError(t, log.Write(Record{Canonical: "echo hi", Action: "ALLOW"}))
}

func TestIsBlockedInitiallyFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	log, err := Open(path, config.ModeProduction, zap.NewNop())
	require.NoError(t, err)
	defer log.Close()
	assert.False(t, log.IsBlocked())
}
