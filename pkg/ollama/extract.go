package ollama

import "strings"

// ExtractJSON locates a JSON object or array inside model output. Local
// models rarely emit bare JSON: they wrap it in markdown fences or preamble
// prose. Strategies are tried in order:
//
//  1. the whole trimmed output, if it already starts with { or [
//  2. the contents of a ```json fenced block
//  3. the contents of a plain ``` fenced block
//  4. the outermost brace- or bracket-matched span
//
// Returns the candidate payload and whether one was found. The payload is
// not guaranteed to parse; callers unmarshal and handle errors.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed, true
	}

	if payload, ok := fencedBlock(trimmed, "```json"); ok {
		return payload, true
	}
	if payload, ok := fencedBlock(trimmed, "```"); ok {
		return payload, true
	}

	return matchedSpan(trimmed)
}

func fencedBlock(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	payload := strings.TrimSpace(rest[:end])
	if payload == "" {
		return "", false
	}
	return payload, true
}

// matchedSpan finds the first { or [ and returns the span through its
// matching close, tracking nesting depth and skipping string literals.
func matchedSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}

	open := text[start]
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
