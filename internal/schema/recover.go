package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmpty is returned for a blank response.
var ErrEmpty = errors.New("empty response")

// ErrNoJSON is returned when no candidate in the response parses as JSON.
var ErrNoJSON = errors.New("response contains no parseable JSON")

// Recover extracts a JSON document from model output, with lightweight
// recovery for markdown code fences and surrounding text. The returned bytes
// are compact and keep the original key order.
func Recover(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmpty
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		if !json.Valid([]byte(candidate)) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(candidate)); err != nil {
			continue
		}
		return buf.Bytes(), nil
	}

	return nil, ErrNoJSON
}

// Pretty indents a recovered document for storage.
func Pretty(doc json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence and its language tag.
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		start, closeChar = objectStart, "}"
	case arrayStart >= 0:
		start, closeChar = arrayStart, "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
