package transform

import (
	"regexp"
	"strings"
)

var (
	jsonFenceRe  = regexp.MustCompile("(?s)```json\\s*\\n?(.*?)```")
	plainFenceRe = regexp.MustCompile("(?s)```\\s*\\n?(.*?)```")
)

// ExtractJSON pulls the JSON payload out of a model response. Models wrap
// JSON in markdown fences or pad it with prose, so extraction tries, in
// order:
//  1. a ```json fenced block,
//  2. a plain ``` fenced block,
//  3. the first top-level {...} or [...] span,
//  4. the whole response.
//
// The result still has to survive json parsing; this only locates the
// candidate payload.
func ExtractJSON(response string) string {
	if m := jsonFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := plainFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if span := bracketSpan(response); span != "" {
		return span
	}
	return strings.TrimSpace(response)
}

// bracketSpan returns the first top-level {...} or [...] span, whichever
// opens earlier, by scanning for the matching closer with balanced depth.
// Brackets inside JSON string literals do not count, so prose after the
// payload (which may itself contain } or ]) is never swallowed into the
// span. Array-shaped payloads happen when the schema itself is an array.
func bracketSpan(s string) string {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start := objStart
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start = arrStart
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
