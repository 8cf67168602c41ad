package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSONResponse decodes an LLM response into v. Code fences and any
// prose around the outermost JSON object are ignored.
func DecodeJSONResponse(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty response")
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object in response")
		}
		text = text[start : end+1]
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}
