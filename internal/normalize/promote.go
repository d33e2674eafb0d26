package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
)

// Thresholds tune when plain text is promoted to structured markdown.
type Thresholds struct {
	// MinLines is exceeded when text has more non-empty lines than this.
	MinLines int
	// MinChars is exceeded when text has more characters than this.
	MinChars int
	// Heading is the level-2 heading placed above promoted text.
	Heading string
}

// DefaultThresholds returns the thresholds used by the chat panel.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLines: 3,
		MinChars: 100,
		Heading:  "📚 Respuesta",
	}
}

// structureMarkers are the markdown markers whose presence means the text is
// already structured.
var structureMarkers = []string{"#", "**", "*"}

// looseListRe finds a list marker preceded by horizontal space. The match is
// only rewritten when it does not already start a line.
var looseListRe = regexp.MustCompile(`[ \t]+(\d{1,3}\.|-|•)[ \t]+`)

// Promoter adds minimal markdown scaffolding to unstructured text.
type Promoter struct {
	th Thresholds
}

// NewPromoter returns a Promoter. Zero fields in th fall back to defaults.
func NewPromoter(th Thresholds) *Promoter {
	def := DefaultThresholds()
	if th.MinLines <= 0 {
		th.MinLines = def.MinLines
	}
	if th.MinChars <= 0 {
		th.MinChars = def.MinChars
	}
	if th.Heading == "" {
		th.Heading = def.Heading
	}
	return &Promoter{th: th}
}

// Thresholds returns the active thresholds.
func (p *Promoter) Thresholds() Thresholds {
	return p.th
}

// HasStructure reports whether text contains a markdown marker.
func HasStructure(text string) bool {
	for _, m := range structureMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Promote returns text unchanged when it already has structure. Otherwise
// loose list markers are moved to their own lines and substantial text gets
// a heading.
func (p *Promoter) Promote(text string) string {
	if strings.TrimSpace(text) == "" || HasStructure(text) {
		return text
	}
	out := breakLooseLists(text)
	if p.substantial(out) {
		out = "## " + p.th.Heading + "\n\n" + out
	}
	return out
}

func (p *Promoter) substantial(text string) bool {
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	return lines > p.th.MinLines || utf8.RuneCountInString(text) > p.th.MinChars
}

// breakLooseLists inserts a line break before list markers that sit in the
// middle of a line, e.g. "Pasos: 1. leer 2. resolver". Markers inside math
// spans are left alone, since a break would end an inline expression.
func breakLooseLists(text string) string {
	var locs [][]int
	dashes := 0
	math := mathSpans(text)
	for _, loc := range looseListRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(math, loc[0], loc[1]) {
			continue
		}
		if text[loc[2]:loc[3]] == "-" {
			dashes++
		}
		locs = append(locs, loc)
	}
	if len(locs) == 0 {
		return text
	}

	var b strings.Builder
	cursor := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		// Leading markers and a marker at the very end are left alone.
		if start == 0 || text[start-1] == '\n' || end == len(text) {
			continue
		}
		// A single " - " is a dash; bullets need at least two.
		marker := text[loc[2]:loc[3]]
		if marker == "-" && dashes < 2 {
			continue
		}
		b.WriteString(text[cursor:start])
		b.WriteString("\n")
		b.WriteString(marker)
		b.WriteString(" ")
		cursor = end
	}
	b.WriteString(text[cursor:])
	return b.String()
}

func mathSpans(text string) [][2]int {
	var spans [][2]int
	for _, seg := range mathseg.Split(text) {
		if seg.IsMath() {
			spans = append(spans, [2]int{seg.Start, seg.End})
		}
	}
	return spans
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}
