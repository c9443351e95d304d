package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
)

// DecodeLoose extracts a JSON object from ragged model output: code fences
// are stripped, prose around the object is dropped, and truncated output gets
// its unbalanced braces and brackets closed before the final decode attempt.
func DecodeLoose(raw string, v any) error {
	candidate := extractObject(stripFences(raw))
	if candidate == "" {
		return fmt.Errorf("%w: no JSON object in model output", contractx.ErrSchemaViolation)
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	repaired := closeUnbalanced(candidate)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractObject returns the substring from the first '{' to the matching
// close brace, or to end of input when the object is truncated.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// closeUnbalanced appends the closers a truncated object is missing, in
// nesting order. A dangling open string gets its quote closed first.
func closeUnbalanced(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
