package obs

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace is the Prometheus namespace for every aegish metric.
const Namespace = "aegish"

// Registry is a dedicated registry so aegish's counters never mix with the
// default global one. There is no HTTP handler registered against it:
// spec.md's core has no network surface, so these are dumped as text by
// the --health-check CLI path rather than served.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// DecisionMetrics counts validation outcomes and LLM fallback behavior.
type DecisionMetrics struct {
	Decisions      *prometheus.CounterVec
	LLMRequests    *prometheus.CounterVec
	LLMFallbacks   prometheus.Counter
	AuditFailures  prometheus.Counter
	ResolverDepth  prometheus.Histogram
}

// NewDecisionMetrics creates and registers the decision-path counters.
func NewDecisionMetrics() *DecisionMetrics {
	m := &DecisionMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "shell",
			Name:      "decisions_total",
			Help:      "Total command decisions by final action and source.",
		}, []string{"action", "source"}),

		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM classification requests by model and status.",
		}, []string{"model", "status"}),

		LLMFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Total times the fallback chain advanced past the primary model.",
		}),

		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total consecutive audit write failures observed.",
		}),

		ResolverDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "resolver",
			Name:      "substitution_depth",
			Help:      "Depth reached resolving nested command substitutions.",
			Buckets:   []float64{0, 1, 2},
		}),
	}

	Registry.MustRegister(m.Decisions, m.LLMRequests, m.LLMFallbacks, m.AuditFailures, m.ResolverDepth)
	return m
}

// Dump renders every registered metric family as plain text, for
// --health-check. It never starts a listener.
func Dump() (string, error) {
	families, err := Registry.Gather()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, f := range families {
		for _, mf := range f.Metric {
			fmt.Fprintf(&b, "%s %v\n", f.GetName(), mf)
		}
	}
	return b.String(), nil
}
