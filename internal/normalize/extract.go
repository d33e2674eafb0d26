// Package normalize turns raw agent payloads into sanitized, structured,
// rendered content.
package normalize

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Shape names the lookup that located a payload's text.
type Shape string

const (
	ShapeEmpty                Shape = "empty"
	ShapeInteractionFormatted Shape = "interaction_formatted"
	ShapeFormatted            Shape = "formatted"
	ShapeInteractionText      Shape = "interaction_text"
	ShapeGuidance             Shape = "guidance"
	ShapeString               Shape = "string"
	ShapeScanned              Shape = "scanned"
	ShapeMalformed            Shape = "malformed"
	ShapeSerialized           Shape = "serialized"
)

// IsFallback reports whether no text field was found and the payload is
// shown as data.
func (s Shape) IsFallback() bool {
	return s == ShapeSerialized || s == ShapeMalformed
}

// Extraction is the result of Classify.
type Extraction struct {
	Text  string
	Shape Shape
	// Path is the field that won, empty for whole-value shapes.
	Path string
}

// lookups are tried in order; the first present, non-empty string wins.
var lookups = []struct {
	path  string
	shape Shape
}{
	{"interaction.formatted_content", ShapeInteractionFormatted},
	{"formatted_content", ShapeFormatted},
	{"interaction.agent_response", ShapeInteractionText},
	{"guidance", ShapeGuidance},
}

// scanMinChars is the length a field must exceed to be picked by the scan.
const scanMinChars = 10

var scanExcluded = map[string]bool{
	"id":        true,
	"timestamp": true,
	"type":      true,
}

// Extract returns the best textual payload of raw.
func Extract(raw []byte) string {
	return Classify(raw).Text
}

// Classify locates the textual payload of raw and reports which lookup
// matched. It never panics and always returns a string.
func Classify(raw []byte) Extraction {
	return classify(raw, true)
}

func classify(raw []byte, unwrap bool) Extraction {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Extraction{Shape: ShapeEmpty}
	}
	if !gjson.ValidBytes(trimmed) {
		// Not JSON at all: the payload is already text.
		return Extraction{Text: string(raw), Shape: ShapeString}
	}

	value := gjson.ParseBytes(trimmed)
	switch value.Type {
	case gjson.Null:
		return Extraction{Shape: ShapeEmpty}
	case gjson.String:
		return classifyString(value.Str, unwrap)
	}

	if value.IsObject() {
		for _, p := range lookups {
			if s := value.Get(p.path); s.Type == gjson.String && strings.TrimSpace(s.Str) != "" {
				return Extraction{Text: s.Str, Shape: p.shape, Path: p.path}
			}
		}
		if ex, ok := scan(value); ok {
			return ex
		}
	}
	return Extraction{Text: serialize(trimmed), Shape: ShapeSerialized}
}

// classifyString handles a payload that is a JSON string. Strings that look
// like encoded JSON are decoded once more.
func classifyString(s string, unwrap bool) Extraction {
	body := strings.TrimSpace(s)
	if body == "" {
		return Extraction{Shape: ShapeEmpty}
	}
	if unwrap && looksLikeJSON(body) {
		if !gjson.Valid(body) {
			return Extraction{Text: s, Shape: ShapeMalformed}
		}
		return classify([]byte(body), false)
	}
	return Extraction{Text: s, Shape: ShapeString}
}

// looksLikeJSON is deliberately narrow so prose such as "[1] Intro" or
// "{x}" stays text. A truncated object still qualifies.
func looksLikeJSON(s string) bool {
	if len(s) < 2 {
		return false
	}
	next := strings.TrimLeft(s[1:], " \t\r\n")
	if next == "" {
		return false
	}
	switch s[0] {
	case '{':
		return next[0] == '"' || next[0] == '}'
	case '[':
		return strings.HasSuffix(s, "]") && strings.ContainsRune(`{["]-0123456789`, rune(next[0]))
	}
	return false
}

// scan returns the first own string field, in document order, longer than
// scanMinChars whose key is not excluded.
func scan(obj gjson.Result) (Extraction, bool) {
	var ex Extraction
	found := false
	obj.ForEach(func(key, value gjson.Result) bool {
		if scanExcluded[key.String()] || value.Type != gjson.String {
			return true
		}
		if utf8.RuneCountInString(value.Str) > scanMinChars {
			ex = Extraction{Text: value.Str, Shape: ShapeScanned, Path: key.String()}
			found = true
			return false
		}
		return true
	})
	return ex, found
}

func serialize(raw []byte) string {
	return strings.TrimRight(string(pretty.Pretty(raw)), "\n")
}
