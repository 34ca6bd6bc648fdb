package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ResponseParser extracts structured JSON from free-form model output.
// Models wrap JSON in prose, markdown fences, or both; the parser tries
// progressively looser strategies before giving up.
type ResponseParser struct{}

// NewResponseParser creates a parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Parse extracts JSON from text and unmarshals it into v. When schema is
// non-nil the extracted document is validated first; violations surface as
// ErrSchemaFailure, extraction failures as ErrParseFailure.
func (p *ResponseParser) Parse(text string, schema *gojsonschema.Schema, v any) error {
	raw, err := p.Extract(text)
	if err != nil {
		return err
	}

	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaFailure, err)
		}
		if !result.Valid() {
			var details []string
			for _, desc := range result.Errors() {
				details = append(details, desc.String())
			}
			return fmt.Errorf("%w: %s", ErrSchemaFailure, strings.Join(details, "; "))
		}
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decoding validated document: %v", ErrParseFailure, err)
	}
	return nil
}

// Extract returns the first JSON document found in text. Strategies, in
// order: the whole text; the first fenced code block; the first balanced
// brace or bracket region.
func (p *ResponseParser) Extract(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParseFailure)
	}

	if raw, ok := tryJSON(trimmed); ok {
		return raw, nil
	}
	if fenced, ok := extractFenced(trimmed); ok {
		if raw, ok := tryJSON(fenced); ok {
			return raw, nil
		}
	}
	if region, ok := extractBalanced(trimmed); ok {
		if raw, ok := tryJSON(region); ok {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON document found", ErrParseFailure)
}

// tryJSON reports whether s is a complete JSON object or array.
func tryJSON(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

// extractFenced returns the body of the first ``` fence, tolerating an
// optional language label on the opening line.
func extractFenced(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		label := strings.TrimSpace(rest[:nl])
		// Labels are single words like json or javascript; a brace means
		// the fence body starts on the same line.
		if !strings.ContainsAny(label, "{[") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBalanced returns the first balanced {...} or [...] region,
// respecting JSON string literals and escapes.
func extractBalanced(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	open := text[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// CompileSchema compiles a JSON schema document, panicking on error. Task
// schemas are compile-time constants, so a bad one is a programming error.
func CompileSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid task schema: %v", err))
	}
	return schema
}
