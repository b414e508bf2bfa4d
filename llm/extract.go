package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractStructured pulls a JSON object out of free-form generation
// output. It tries a fenced code block first, then the outermost brace
// pair, then the whole text. It fails if no valid object is recoverable.
func ExtractStructured(text string) (map[string]any, error) {
	if match := fencedJSONPattern.FindStringSubmatch(text); match != nil {
		if payload, err := decodeObject(match[1]); err == nil {
			return payload, nil
		}
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if payload, err := decodeObject(text[start : end+1]); err == nil {
				return payload, nil
			}
		}
	}

	if payload, err := decodeObject(strings.TrimSpace(text)); err == nil {
		return payload, nil
	}

	return nil, fmt.Errorf("no structured payload recoverable from response: %s", truncate(text, 200))
}

func decodeObject(s string) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
