package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	submitted []string
}

func (p *fakePipeline) Submit(_ context.Context, line string) error {
	p.submitted = append(p.submitted, line)
	return nil
}

func TestLoadMissingFileReturnsNilNoError(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing"), nil, 0)
	lines, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	m := New(path, nil, 0)

	require.NoError(t, m.Append("ls -la"))
	require.NoError(t, m.Append("echo hi"))

	lines, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ls -la", "echo hi"}, lines)
}

func TestAppendCreatesFileWithRestrictivePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	m := New(path, nil, 0)
	require.NoError(t, m.Append("whoami"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendRotatesWhenOverMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	m := New(path, nil, 1) // any existing content already exceeds this

	require.NoError(t, m.Append("first"))
	require.NoError(t, m.Append("second"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)

	const prefix = "history.bak-"
	var sawBackup bool
	for _, e := range entries {
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			sawBackup = true
		}
	}
	assert.True(t, sawBackup, "expected a rotated backup file, found entries: %v", entries)
}

func TestReplaySubmitsThroughPipelineNotDirectExecution(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "history"), nil, 0)
	pipeline := &fakePipeline{}

	require.NoError(t, m.Replay(context.Background(), "rm -rf /tmp/scratch", pipeline))

	assert.Equal(t, []string{"rm -rf /tmp/scratch"}, pipeline.submitted)
}
