package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no JSON object or array boundaries can be
// located in a completion response.
var ErrNoJSON = errors.New("no JSON boundaries found")

// ExtractJSON locates and parses the single JSON value (object or array)
// expected in a completion response, tolerating markdown code fences and
// surrounding prose. Brace matching is aware of string literals, so braces
// inside quoted text do not confuse boundary detection.
//
// ExtractJSON is a pure function: identical input always yields the identical
// value or the identical error.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}

	text = stripCodeFences(text)

	candidate, offset, ok := locateJSON(text)
	if !ok {
		return nil, ErrNoJSON
	}

	var probe any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, fmt.Errorf("parse error at offset %d", offset+int(syn.Offset))
		}
		return nil, fmt.Errorf("parse error: %v", err)
	}

	return json.RawMessage(candidate), nil
}

// ExtractInto extracts the JSON value from text and unmarshals it into v.
func ExtractInto(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding extracted JSON: %v", err)
	}
	return nil
}

// stripCodeFences removes a surrounding markdown code block if present.
func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// locateJSON finds the first balanced JSON object or array in text, skipping
// brackets that appear inside string literals. It returns the candidate
// substring and its start offset.
func locateJSON(text string) (string, int, bool) {
	start := -1
	var opener, closer rune
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if start == -1 {
			switch r {
			case '{':
				start, opener, closer = i, '{', '}'
				depth = 1
			case '[':
				start, opener, closer = i, '[', ']'
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
			// brackets inside strings are content, not structure
		case r == opener:
			depth++
		case r == closer:
			depth--
			if depth == 0 {
				return text[start : i+1], start, true
			}
		}
	}

	return "", 0, false
}
