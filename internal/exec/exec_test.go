package exec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegish-sh/aegish/internal/config"
)

func TestClampExitCode(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 0}, {1, 1}, {255, 255}, {256, 255}, {-1, 255}, {1000, 255},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, clampExitCode(c.in))
	}
}

func TestWrapWithCaptureIncludesExitAndResolvedCommand(t *testing.T) {
	script := wrapWithCapture(3, "echo hi")
	assert.Contains(t, script, "(exit 3); echo hi")
	assert.Contains(t, script, ">&3")
}

func TestWrapWithCaptureClampsLastExitCode(t *testing.T) {
	script := wrapWithCapture(999, "echo hi")
	assert.Contains(t, script, "(exit 255); echo hi")
}

func TestParseStateCaptureSplitsCWDAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	payload := "/home/u/work\x00PATH=/usr/bin\nAEGISH_SANDBOXED=1\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cwd, lines := parseStateCapture(path)
	assert.Equal(t, "/home/u/work", cwd)
	assert.ElementsMatch(t, []string{"PATH=/usr/bin", "AEGISH_SANDBOXED=1"}, lines)
}

func TestParseStateCaptureMissingSeparatorYieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(path, []byte("no separator here"), 0o600))

	cwd, lines := parseStateCapture(path)
	assert.Empty(t, cwd)
	assert.Nil(t, lines)
}

func TestParseStateCaptureMissingFileYieldsEmpty(t *testing.T) {
	cwd, lines := parseStateCapture(filepath.Join(t.TempDir(), "missing"))
	assert.Empty(t, cwd)
	assert.Nil(t, lines)
}

func TestEnvLinesContainKey(t *testing.T) {
	lines := []string{"PATH=/bin", "AEGISH_SANDBOXED=1"}
	assert.True(t, envLinesContainKey(lines, "AEGISH_SANDBOXED"))
	assert.False(t, envLinesContainKey(lines, "LD_PRELOAD"))
}

func TestCaptureStateUpdatesCWDAndFiltersEnv(t *testing.T) {
	e := &Executor{cwd: "/old", env: map[string]string{"PATH": "/old/bin"}}
	e.captureState("/new/dir", []string{"PATH=/new/bin", "LD_PRELOAD=/evil.so", "HOME=/home/u"})

	assert.Equal(t, "/new/dir", e.cwd)
	assert.Equal(t, "/new/bin", e.env["PATH"])
	assert.Equal(t, "/home/u", e.env["HOME"])
	assert.NotContains(t, e.env, "LD_PRELOAD")
}

func TestCaptureStateNilEnvLinesLeavesStateUnchanged(t *testing.T) {
	e := &Executor{cwd: "/old", env: map[string]string{"PATH": "/old/bin"}}
	e.captureState("", nil)

	assert.Equal(t, "/old", e.cwd)
	assert.Equal(t, "/old/bin", e.env["PATH"])
}

func TestVerifiedBashPathSkipsHashCheckInDevelopment(t *testing.T) {
	e := &Executor{cfg: config.Snapshot{Mode: config.ModeDevelopment, RunnerBashPath: "/bin/bash"}}
	path, err := e.verifiedBashPath()
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", path)
}

func TestVerifiedBashPathRejectsRelativePathInProduction(t *testing.T) {
	e := &Executor{cfg: config.Snapshot{Mode: config.ModeProduction, RunnerBashPath: "bash"}}
	_, err := e.verifiedBashPath()
	require.Error(t, err)
}

func TestVerifiedBashPathRejectsHashMismatchInProduction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bash")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	e := &Executor{cfg: config.Snapshot{
		Mode:             config.ModeProduction,
		RunnerBashPath:   path,
		RunnerBashSHA256: "0000000000000000000000000000000000000000000000000000000000000000",
	}}
	_, err := e.verifiedBashPath()
	require.Error(t, err)
}

func TestVerifiedBashPathAcceptsMatchingHashInProduction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bash")
	content := []byte("#!/bin/sh\necho hi\n")
	require.NoError(t, os.WriteFile(path, content, 0o755))
	sum, err := sha256File(path)
	require.NoError(t, err)

	e := &Executor{cfg: config.Snapshot{
		Mode:             config.ModeProduction,
		RunnerBashPath:   path,
		RunnerBashSHA256: sum,
	}}
	got, err := e.verifiedBashPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestBuildSudoCmdRequiresSandboxerPathInProduction(t *testing.T) {
	e := &Executor{cfg: config.Snapshot{Mode: config.ModeProduction}, env: map[string]string{}}
	_, err := e.buildSudoCmd(context.Background(), "/bin/bash", "echo hi")
	require.Error(t, err)
}

func TestChdirResolvesRelativeToCurrentCWD(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	e := &Executor{cwd: dir, env: map[string]string{}}
	require.NoError(t, e.Chdir("sub"))
	assert.Equal(t, sub, e.cwd)
}

func TestChdirBareUsesHOME(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{cwd: "/somewhere", env: map[string]string{"HOME": dir}}
	require.NoError(t, e.Chdir(""))
	assert.Equal(t, dir, e.cwd)
}

func TestChdirRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	e := &Executor{cwd: dir, env: map[string]string{}}
	err := e.Chdir("notadir")
	require.Error(t, err)
}

func TestStateRoundTrips(t *testing.T) {
	e := New(config.Snapshot{Mode: config.ModeDevelopment}, nil, "/home/u")
	s := e.State()
	assert.Equal(t, "/home/u", s.CWD)
}
