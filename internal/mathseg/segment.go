// Package mathseg splits normalized text into plain prose and TeX math spans.
package mathseg

import (
	"regexp"
	"strings"
)

// Kind tags a Segment.
type Kind string

const (
	// Plain is prose handed to the markdown renderer.
	Plain Kind = "plain"
	// InlineMath is a single-dollar span.
	InlineMath Kind = "inline_math"
	// BlockMath is a double-dollar span.
	BlockMath Kind = "block_math"
)

// Segment is one ordered slice of the input. Source is the exact input slice
// including delimiters; Text is the payload without them.
type Segment struct {
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// IsMath reports whether the segment holds an expression.
func (s Segment) IsMath() bool {
	return s.Kind == InlineMath || s.Kind == BlockMath
}

var (
	blockMathRe  = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	inlineMathRe = regexp.MustCompile(`\$([^$\n]+?)\$`)
)

// Split scans text in two passes: block spans first, then inline spans inside
// the remaining plain text. Unterminated delimiters stay in plain segments.
func Split(text string) []Segment {
	if text == "" {
		return nil
	}

	segs := make([]Segment, 0, 4)
	cursor := 0
	for _, loc := range blockMathRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > cursor {
			segs = appendInline(segs, text, cursor, loc[0])
		}
		segs = append(segs, Segment{
			Kind:   BlockMath,
			Text:   strings.TrimSpace(text[loc[2]:loc[3]]),
			Source: text[loc[0]:loc[1]],
			Start:  loc[0],
			End:    loc[1],
		})
		cursor = loc[1]
	}
	if cursor < len(text) {
		segs = appendInline(segs, text, cursor, len(text))
	}
	return segs
}

// appendInline runs the second pass over text[from:to].
func appendInline(segs []Segment, text string, from, to int) []Segment {
	span := text[from:to]
	cursor := 0
	for _, loc := range inlineMathRe.FindAllStringSubmatchIndex(span, -1) {
		expr := strings.TrimSpace(span[loc[2]:loc[3]])
		if expr == "" {
			continue
		}
		if loc[0] > cursor {
			segs = appendPlain(segs, text, from+cursor, from+loc[0])
		}
		segs = append(segs, Segment{
			Kind:   InlineMath,
			Text:   expr,
			Source: span[loc[0]:loc[1]],
			Start:  from + loc[0],
			End:    from + loc[1],
		})
		cursor = loc[1]
	}
	if cursor < len(span) {
		segs = appendPlain(segs, text, from+cursor, to)
	}
	return segs
}

// appendPlain merges with a preceding plain segment so two plain segments are
// never adjacent.
func appendPlain(segs []Segment, text string, from, to int) []Segment {
	if n := len(segs); n > 0 && segs[n-1].Kind == Plain && segs[n-1].End == from {
		last := &segs[n-1]
		last.End = to
		last.Source = text[last.Start:to]
		last.Text = last.Source
		return segs
	}
	return append(segs, Segment{
		Kind:   Plain,
		Text:   text[from:to],
		Source: text[from:to],
		Start:  from,
		End:    to,
	})
}

// Join concatenates the segments' sources.
func Join(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Source)
	}
	return b.String()
}

// HasMath reports whether any segment is an expression.
func HasMath(segs []Segment) bool {
	for _, s := range segs {
		if s.IsMath() {
			return true
		}
	}
	return false
}
