package llm

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ExtractJSON pulls a JSON object out of a model response. Models routinely
// wrap JSON in markdown fences or prose despite being told not to, so we
// strip fences and fall back to the outermost brace span before parsing.
func ExtractJSON(content string, dest any) error {
	cleaned := strings.TrimSpace(content)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	if cleaned == "" {
		return fmt.Errorf("llm: no JSON object in response")
	}

	if err := json.Unmarshal([]byte(cleaned), dest); err != nil {
		return fmt.Errorf("llm: decode response JSON: %w", err)
	}
	return nil
}
