package narrative

import (
	"errors"
	"strings"
)

// ErrNoJSON is returned when no brace-delimited JSON object can be found in
// the model output.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first balanced {...} span in content. Models often
// wrap their JSON in commentary or markdown fences; extraction is kept
// separate from validation so each can be tested on its own.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	if stripped := stripCodeFences(content); stripped != "" {
		content = stripped
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
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
				return content[start : i+1], nil
			}
		}
	}

	return "", ErrNoJSON
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

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
