package llmclient

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/action"
	"github.com/aegish-sh/aegish/internal/config"
	"github.com/aegish-sh/aegish/internal/obs"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// candidate is one entry in the ordered fallback list: a provider/model
// pair plus the resolved provider implementation.
type candidate struct {
	providerName string
	modelID      string
	provider     Provider
}

// Manager runs validate_via_llm (spec.md §4.5): prompt construction,
// the fallback chain, response parsing, confidence gating, and fail-mode
// translation. Grounded on diillson-chatcli/llm/manager.LLMManagerImpl's
// clients map[string]func(string)(client.LLMClient,error) registration
// pattern, collapsed here to a simple name->Provider map since aegish
// only needs completion, not the teacher's session/token-manager
// machinery.
type Manager struct {
	cfg       config.Snapshot
	logger    *zap.Logger
	providers map[string]Provider
	validator blocklistChecker
	metrics   *obs.DecisionMetrics
}

// SetMetrics wires the process's decision metrics into the manager so
// fallback-chain behavior is observable. Optional: a Manager with no
// metrics attached behaves exactly as before.
func (m *Manager) SetMetrics(metrics *obs.DecisionMetrics) {
	m.metrics = metrics
}

// blocklistChecker is the narrow slice of *validate.Validator the LLM
// client needs for its fail-mode blocklist re-check (spec.md §4.5
// "Even in open mode, re-run the static blocklist"). Expressed as an
// interface so llmclient does not import validate, avoiding a cycle.
type blocklistChecker interface {
	MatchesBlocklist(text string) (string, bool)
}

// NewManager builds a Manager. providers maps a provider name (matching
// the "provider" half of a "provider/model" identifier, e.g. "bedrock")
// to its Provider implementation.
func NewManager(cfg config.Snapshot, logger *zap.Logger, providers map[string]Provider, validator blocklistChecker) *Manager {
	return &Manager{cfg: cfg, logger: logger, providers: providers, validator: validator}
}

// ValidateViaLLM is validate_via_llm(canonical_text, resolved_annotations)
// -> ValidationResult. resolvedText is the text execute will actually run
// if this result permits it; it is stamped onto the returned result's
// ResolvedCommand so C6's contract matches C5's (spec.md §3: "the
// resolved_command carried in a result is the same text that the LLM
// classified").
func (m *Manager) ValidateViaLLM(ctx context.Context, canonicalText, resolvedText string, annotations []Annotation) action.Result {
	messages := BuildPrompt(m.cfg.Role, canonicalText, annotations)

	candidates := m.buildCandidates()
	if len(candidates) == 0 {
		return m.failModeResult(canonicalText, resolvedText, "no allowed provider in fallback chain")
	}

	for i, c := range candidates {
		res, err := m.tryCandidate(ctx, c, messages, resolvedText)
		if err != nil {
			m.logger.Warn("model candidate failed", zap.String("provider", c.providerName), zap.String("model", c.modelID), zap.Error(err))
			if m.metrics != nil {
				m.metrics.LLMRequests.WithLabelValues(c.modelID, "error").Inc()
				if i > 0 {
					m.metrics.LLMFallbacks.Inc()
				}
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.LLMRequests.WithLabelValues(c.modelID, "ok").Inc()
			if i > 0 {
				m.metrics.LLMFallbacks.Inc()
			}
		}
		return res
	}

	return m.failModeResult(canonicalText, resolvedText, "all fallback candidates failed or returned unparseable responses")
}

// buildCandidates builds [primary, *fallbacks] filtered by allowed_providers.
func (m *Manager) buildCandidates() []candidate {
	ids := append([]string{m.cfg.PrimaryModel}, m.cfg.FallbackModels...)
	var out []candidate
	for _, id := range ids {
		if id == "" {
			continue
		}
		providerName, modelID := splitProviderModel(id)
		if len(m.cfg.AllowedProviders) > 0 && !m.cfg.AllowedProviders[providerName] {
			m.logger.Debug("skipping candidate: provider not in allowlist", zap.String("provider", providerName))
			continue
		}
		impl, ok := m.providers[providerName]
		if !ok {
			m.logger.Debug("skipping candidate: no provider implementation registered", zap.String("provider", providerName))
			continue
		}
		out = append(out, candidate{providerName: providerName, modelID: modelID, provider: impl})
	}
	return out
}

func splitProviderModel(id string) (provider, model string) {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

func (m *Manager) tryCandidate(ctx context.Context, c candidate, messages []Message, resolvedText string) (action.Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := retry(reqCtx, m.logger, defaultMaxAttempts, defaultBackoff, func(rc context.Context) (CompletionResult, error) {
		return c.provider.Complete(rc, c.modelID, messages, nil)
	})
	if err != nil {
		return action.Result{}, err
	}

	act, reason, confidence, perr := parseVerdict(result.Text)
	if perr != nil {
		return action.Result{}, perr
	}

	if act == action.Allow && confidence < m.cfg.ConfidenceThreshold {
		act = action.Warn
		reason = "low confidence"
	}

	return action.Result{
		Action:          action.Resolve(act),
		Reason:          reason,
		Confidence:      confidence,
		Source:          action.LLMSource(c.modelID),
		ResolvedCommand: resolvedText,
	}, nil
}

// failModeResult implements spec.md §4.5's failure policy: map to the
// fail-mode action, then re-run the blocklist against canonicalText even
// in open mode, overriding to BLOCK on a match.
func (m *Manager) failModeResult(canonicalText, resolvedText, reason string) action.Result {
	act := action.Block
	if m.cfg.FailMode == config.FailOpen {
		act = action.Warn
	}

	if name, hit := m.validator.MatchesBlocklist(canonicalText); hit {
		return action.Result{
			Action:          action.Block,
			Reason:          "fail-mode blocklist override: " + name,
			Source:          action.SourceBlocklist,
			ResolvedCommand: resolvedText,
		}
	}

	return action.Result{
		Action:          act,
		Reason:          reason,
		Source:          action.SourceFailMode,
		ResolvedCommand: resolvedText,
	}
}
