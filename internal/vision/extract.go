package vision

import (
	"encoding/json"
	"strings"
)

const (
	errNoJSON       = "No JSON object found in response."
	errUnparsedJSON = "Found JSON-like block but failed to parse."
)

// Extraction is the outcome of pulling a JSON object out of model text.
// Exactly one of Fields or Error is set.
type Extraction struct {
	Fields  map[string]any
	RawText string
	Error   string
}

func (e Extraction) OK() bool {
	return e.Error == ""
}

// Body is what the upload endpoint returns: the parsed object, or a
// diagnostic object carrying the raw text.
func (e Extraction) Body() map[string]any {
	if e.OK() {
		return e.Fields
	}
	return map[string]any{"raw_text": e.RawText, "error": e.Error}
}

// ExtractJSON finds the first balanced {...} span in text and decodes it.
// Braces inside JSON strings are ignored while balancing.
func ExtractJSON(text string) Extraction {
	span, ok := firstObjectSpan(text)
	if !ok {
		return Extraction{RawText: text, Error: errNoJSON}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return Extraction{RawText: text, Error: errUnparsedJSON}
	}
	return Extraction{Fields: fields, RawText: text}
}

func firstObjectSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	// Unbalanced: hand back the tail so the caller reports a parse failure.
	return text[start:], true
}
