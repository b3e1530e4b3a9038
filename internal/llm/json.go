package llm

import (
	"encoding/json"
	"strings"

	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
)

// ParseJSONResponse extracts a JSON object from an LLM answer. Markdown code
// fences and prose around the object are tolerated.
func ParseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
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

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result
	}

	// Chatty models wrap the object in prose.
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		logging.Log.Debug("LLM response contains no JSON object")
		return nil
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		logging.Log.Debugf("Failed to parse LLM response as JSON: %v", err)
		return nil
	}
	return result
}
