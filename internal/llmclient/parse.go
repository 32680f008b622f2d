package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegish-sh/aegish/internal/action"
)

type rawVerdict struct {
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// parseVerdict extracts balanced outer JSON from a model's response text
// and validates it against spec.md §4.5's response-parsing rules.
func parseVerdict(text string) (action.Action, string, float64, error) {
	jsonText, err := extractBalancedJSON(text)
	if err != nil {
		return action.Unknown, "", 0, err
	}

	// Normalize a single leading/trailing double-brace pair only if the
	// whole response is double-wrapped — not a global replacement, which
	// would corrupt any legitimately doubled brace inside a reason string.
	if strings.HasPrefix(jsonText, "{{") && strings.HasSuffix(jsonText, "}}") {
		inner := jsonText[1 : len(jsonText)-1]
		var probe rawVerdict
		if json.Unmarshal([]byte(inner), &probe) == nil {
			jsonText = inner
		}
	}

	var v rawVerdict
	if err := json.Unmarshal([]byte(jsonText), &v); err != nil {
		return action.Unknown, "", 0, fmt.Errorf("unparseable verdict: %w", err)
	}

	act, ok := parseActionWord(v.Action)
	if !ok {
		return action.Unknown, "", 0, fmt.Errorf("invalid action %q", v.Action)
	}

	confidence := 0.0
	if v.Confidence != nil {
		confidence = *v.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return action.Unknown, "", 0, fmt.Errorf("confidence out of range: %v", confidence)
	}

	return act, v.Reason, confidence, nil
}

func parseActionWord(s string) (action.Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return action.Allow, true
	case "warn":
		return action.Warn, true
	case "block":
		return action.Block, true
	default:
		return action.Unknown, false
	}
}

// extractBalancedJSON finds the first top-level balanced {...} object in
// text, tolerating leading/trailing prose some models add despite
// instructions.
func extractBalancedJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
