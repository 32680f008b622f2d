package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/action"
	"github.com/aegish-sh/aegish/internal/config"
)

type fakeBlocklist struct {
	hit  bool
	name string
}

func (f fakeBlocklist) MatchesBlocklist(string) (string, bool) { return f.name, f.hit }

func baseConfig() config.Snapshot {
	return config.Snapshot{
		PrimaryModel:        "mock/primary",
		ConfidenceThreshold: 0.5,
		AllowedProviders:    map[string]bool{"mock": true},
		FailMode:            config.FailSafe,
	}
}

func TestValidateViaLLMAllow(t *testing.T) {
	providers := map[string]Provider{
		"mock": &MockProvider{Response: `{"action":"allow","reason":"benign","confidence":0.9}`},
	}
	m := NewManager(baseConfig(), zap.NewNop(), providers, fakeBlocklist{})
	res := m.ValidateViaLLM(context.Background(), "echo hi", "echo hi", nil)
	assert.Equal(t, action.Allow, res.Action)
	assert.Equal(t, "echo hi", res.ResolvedCommand)
}

func TestValidateViaLLMLowConfidenceDemotesToWarn(t *testing.T) {
	providers := map[string]Provider{
		"mock": &MockProvider{Response: `{"action":"allow","reason":"benign","confidence":0.1}`},
	}
	m := NewManager(baseConfig(), zap.NewNop(), providers, fakeBlocklist{})
	res := m.ValidateViaLLM(context.Background(), "echo hi", "echo hi", nil)
	assert.Equal(t, action.Warn, res.Action)
	assert.Equal(t, "low confidence", res.Reason)
}

func TestValidateViaLLMFallsBackOnFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.FallbackModels = []string{"mock2/secondary"}
	cfg.AllowedProviders["mock2"] = true

	providers := map[string]Provider{
		"mock":  &MockProvider{Err: assertErr("boom")},
		"mock2": &MockProvider{Response: `{"action":"block","reason":"dangerous","confidence":0.95}`},
	}
	m := NewManager(cfg, zap.NewNop(), providers, fakeBlocklist{})
	res := m.ValidateViaLLM(context.Background(), "rm -rf /", "rm -rf /", nil)
	require.Equal(t, action.Block, res.Action)
	assert.Equal(t, action.LLMSource("secondary"), res.Source)
	assert.Equal(t, "rm -rf /", res.ResolvedCommand)
}

func TestValidateViaLLMFailModeSafeBlocksWhenAllFail(t *testing.T) {
	cfg := baseConfig()
	providers := map[string]Provider{"mock": &MockProvider{Err: assertErr("down")}}
	m := NewManager(cfg, zap.NewNop(), providers, fakeBlocklist{})
	res := m.ValidateViaLLM(context.Background(), "touch /tmp/x", "touch /tmp/x", nil)
	assert.Equal(t, action.Block, res.Action)
	assert.Equal(t, action.SourceFailMode, res.Source)
	assert.Equal(t, "touch /tmp/x", res.ResolvedCommand)
}

func TestValidateViaLLMFailModeOpenStillBlocksOnBlocklistHit(t *testing.T) {
	cfg := baseConfig()
	cfg.FailMode = config.FailOpen
	providers := map[string]Provider{"mock": &MockProvider{Err: assertErr("down")}}
	m := NewManager(cfg, zap.NewNop(), providers, fakeBlocklist{hit: true, name: "rm-rf-root"})
	res := m.ValidateViaLLM(context.Background(), "rm -rf /", "rm -rf /", nil)
	require.Equal(t, action.Block, res.Action)
	assert.Equal(t, action.SourceBlocklist, res.Source)
}

func TestValidateViaLLMProviderNotInAllowlistSkipped(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedProviders = map[string]bool{"other": true}
	providers := map[string]Provider{"mock": &MockProvider{Response: `{"action":"allow","confidence":0.9}`}}
	m := NewManager(cfg, zap.NewNop(), providers, fakeBlocklist{})
	res := m.ValidateViaLLM(context.Background(), "echo hi", "echo hi", nil)
	assert.Equal(t, action.Block, res.Action) // fail-safe, no candidates left
}

type assertErrT string

func (e assertErrT) Error() string { return string(e) }

func assertErr(s string) error { return assertErrT(s) }
