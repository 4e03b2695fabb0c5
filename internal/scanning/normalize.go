package scanning

import (
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/zombor/docextract/internal/record"
)

const fence = "```"

// NormalizationResult is the outcome of cleaning a model response.
// When OK is false, Text holds the cleaned but unparsed response and
// Record is nil; callers fall back to the schema default.
type NormalizationResult struct {
	Text   string
	OK     bool
	Record *record.Record
	Reason string
}

// Normalizer turns raw model text into a record with the identity field first
type Normalizer struct {
	IdentityField string
}

// NewNormalizer creates a Normalizer injecting identityField
func NewNormalizer(identityField string) Normalizer {
	if identityField == "" {
		identityField = record.DefaultIdentityField
	}
	return Normalizer{IdentityField: identityField}
}

// Normalize strips markdown fencing, checks the text is a balanced JSON
// object, repairs trailing commas, and rebuilds the object with name as the
// identity field followed by the parsed keys in their original order.
// It never returns an error; failures are reported through OK and Reason.
func (n Normalizer) Normalize(rawText, name string) NormalizationResult {
	text := stripFences(strings.TrimSpace(rawText))

	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return NormalizationResult{Text: text, Reason: "response is not a JSON object"}
	}
	if !balanced(text) {
		return NormalizationResult{Text: text, Reason: "unbalanced braces"}
	}

	parsed, err := record.Parse([]byte(text))
	if err != nil {
		parsed, err = record.Parse([]byte(stripTrailingCommas(text)))
		if err != nil {
			return NormalizationResult{Text: text, Reason: err.Error()}
		}
	}

	out := record.New()
	out.Set(n.IdentityField, record.Bare(record.String(name)))
	for _, key := range parsed.Keys() {
		if key == n.IdentityField {
			continue
		}
		v, _ := parsed.Get(key)
		out.Set(key, v)
	}

	data, err := out.Indented()
	if err != nil {
		return NormalizationResult{Text: text, Reason: err.Error()}
	}
	return NormalizationResult{Text: string(data), OK: true, Record: out}
}

// stripFences removes an opening ``` fence with its language tag and a
// closing ``` fence.
func stripFences(text string) string {
	if !strings.HasPrefix(text, fence) {
		return text
	}
	text = strings.TrimPrefix(text, fence)
	text = strings.TrimLeftFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
	})
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, fence)
	return strings.TrimSpace(text)
}

// balanced reports whether braces and brackets outside strings nest correctly
func balanced(text string) bool {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return !inString && len(stack) == 0
}

// stripTrailingCommas drops commas that directly precede a closing brace or
// bracket, ignoring string contents.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && strings.IndexByte(" \t\r\n", text[j]) >= 0 {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// payloadText pulls the model text out of a transport response
func payloadText(raw []byte, path string) (string, bool) {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type != gjson.String {
		return "", false
	}
	return res.Str, true
}
