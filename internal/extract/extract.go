// Package extract pulls business JSON out of LLM chat-completion envelopes.
// Providers disagree on where the payload lives (message.parsed, content as
// object, content as fenced string, content as a list of parts), so the
// extractor walks the known shapes in priority order and falls back to
// defensive string parsing. It never fails: malformed input yields an empty
// map and a log line, not an error.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/fusion"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// BusinessJSON extracts the business record from a single chat-completion
// envelope. Returns an empty map when nothing parseable is found.
func BusinessJSON(envelope map[string]any) map[string]any {
	if len(envelope) == 0 {
		return map[string]any{}
	}

	// Already unwrapped by the caller or the provider.
	if looksLikeBusiness(envelope) {
		return envelope
	}

	if m := fromChoices(envelope); m != nil {
		return m
	}

	// Last resort: stringify the envelope and hunt for an embedded business
	// object. Anything else parseable here would just be the envelope again.
	raw, err := json.Marshal(envelope)
	if err == nil {
		if m := parseObject(CandidateJSON(string(raw))); m != nil && looksLikeBusiness(m) {
			return m
		}
	}

	zap.L().Warn("extract: no business JSON found in envelope")
	return map[string]any{}
}

// Collapse folds a sequence of envelopes into one business record, merging
// page by page in order. Unusable envelopes are skipped with a warning.
func Collapse(envelopes []map[string]any) map[string]any {
	merged := make(map[string]any)
	for i, envelope := range envelopes {
		business := BusinessJSON(envelope)
		if len(business) == 0 {
			zap.L().Warn("extract: no business JSON extracted", zap.Int("index", i))
			continue
		}
		fusion.Merge(merged, business)
	}
	return merged
}

// fromChoices walks the OpenAI-style choices[0].message shapes.
func fromChoices(envelope map[string]any) map[string]any {
	choices, ok := envelope["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil
	}

	if message, ok := choice["message"].(map[string]any); ok {
		// 1) response_format=json_schema may produce 'parsed'.
		if parsed, ok := message["parsed"].(map[string]any); ok {
			return parsed
		}

		content := message["content"]

		// 2) content as object (rare).
		if contentMap, ok := content.(map[string]any); ok {
			return contentMap
		}

		// 3) content as string, possibly inside ```json fences.
		if contentStr, ok := content.(string); ok {
			if m := parseObject(CandidateJSON(contentStr)); m != nil {
				return m
			}
		}

		// 4) content as a list of parts with "text" fields.
		if parts, ok := content.([]any); ok {
			var sb strings.Builder
			for _, p := range parts {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := part["text"].(string); ok && strings.TrimSpace(text) != "" {
					sb.WriteString(text)
					sb.WriteString("\n")
				}
			}
			if m := parseObject(CandidateJSON(sb.String())); m != nil {
				return m
			}
		}
	}

	// Some providers put 'parsed' at the choice level.
	if parsed, ok := choice["parsed"].(map[string]any); ok {
		return parsed
	}
	return nil
}

// looksLikeBusiness reports whether the map already carries one of the
// business record sections.
func looksLikeBusiness(m map[string]any) bool {
	for _, key := range []string{
		fusion.KeyTitleInformation,
		fusion.KeyOwnerInformation,
		fusion.KeyLienInformation,
		fusion.KeyAssignmentOfVehicle,
		fusion.KeyOfficials,
	} {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

// CandidateJSON isolates the JSON object inside free-form model output. The
// last ```json fenced block wins; without fences it falls back to the text
// between the first '{' and the last '}'.
func CandidateJSON(content string) string {
	s := strings.TrimSpace(content)
	if s == "" {
		return ""
	}

	var candidate string
	for _, match := range fencedJSON.FindAllStringSubmatch(s, -1) {
		candidate = match[1]
	}
	if candidate != "" {
		return candidate
	}

	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first >= 0 && last > first {
		return s[first : last+1]
	}
	return s
}

// ObjectFromText parses the JSON object embedded in free-form model text,
// applying candidate isolation and the repair pass. Returns nil when the
// text carries no parseable object.
func ObjectFromText(text string) map[string]any {
	return parseObject(CandidateJSON(text))
}

// parseObject parses a JSON object, applying the repair pass when the direct
// parse fails. Returns nil for non-objects and unrecoverable input.
func parseObject(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err == nil {
		return m
	}

	repaired := Repair(s)
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		zap.L().Warn("extract: JSON parse failed after repair",
			zap.Int("len", len(s)),
			zap.Error(err),
		)
		return nil
	}
	return m
}
