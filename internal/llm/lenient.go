package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var reObject = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject parses strict-JSON model output with small
// guardrails: it strips leading/trailing code fences, and when a direct
// parse fails it falls back to the first {...} blob in the content.
// Returns the raw JSON object bytes or an error when no object can be
// recovered.
func ExtractJSONObject(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "```json") {
		s = strings.TrimSpace(s[len("```json"):])
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(s[3:])
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(s[:len(s)-3])
	}

	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return []byte(s), nil
	}
	if m := reObject.FindString(s); m != "" && json.Valid([]byte(m)) {
		return []byte(m), nil
	}
	return nil, fmt.Errorf("no JSON object in model output (%d bytes)", len(content))
}
