// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON isolates the JSON document in a model response. It handles
// markdown fences and JSON embedded in conversational text.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// Find the structure within conversational text, objects first.
	if isObject {
		fb := strings.Index(response, "{")
		lb := strings.LastIndex(response, "}")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		fb := strings.Index(response, "[")
		lb := strings.LastIndex(response, "]")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// ParseJSONResponse parses an LLM response string into T, tolerating the
// formatting noise ExtractJSON strips.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(doc, 500))
	}
	return &result, nil
}

// Truncate clips s to maxLen runes, appending an ellipsis when clipped.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
