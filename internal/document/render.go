package document

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathtex"
)

// Typesetter turns a TeX expression into display markup.
type Typesetter interface {
	Typeset(expr string, display bool) (string, error)
}

// Renderer converts segmented text into a Node tree. Plain segments are
// parsed as GitHub-flavored markdown; math segments are typeset in place.
// A Renderer is safe for concurrent use.
type Renderer struct {
	md  goldmark.Markdown
	tex Typesetter
}

// NewRenderer returns a renderer using tex for math. A nil tex selects the
// built-in MathML engine.
func NewRenderer(tex Typesetter) *Renderer {
	if tex == nil {
		tex = mathtex.New(nil)
	}
	return &Renderer{
		md:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		tex: tex,
	}
}

// Math spans are swapped for private-use placeholders before parsing so the
// markdown parser never sees TeX and inline math stays inside its paragraph.
const (
	placeholderOpen  = "\uE000"
	placeholderClose = "\uE001"
)

var placeholderRe = regexp.MustCompile(placeholderOpen + `([0-9]+)` + placeholderClose)

var mathErrorStyle = Style{Class: "md-math-error"}

// Render builds the document for segs in order.
func (r *Renderer) Render(segs []mathseg.Segment) *Node {
	var src strings.Builder
	maths := make([]mathseg.Segment, 0, len(segs))
	for _, s := range segs {
		if !s.IsMath() {
			src.WriteString(stripPlaceholders(s.Text))
			continue
		}
		src.WriteString(placeholderOpen)
		src.WriteString(strconv.Itoa(len(maths)))
		src.WriteString(placeholderClose)
		maths = append(maths, s)
	}

	b := &builder{tex: r.tex, source: []byte(src.String()), maths: maths}
	root := newNode(KindDocument)
	root.Append(b.blocks(r.md.Parser().Parse(text.NewReader(b.source)))...)
	return root
}

// RenderMarkdownBlock renders one plain segment as markdown and returns the
// block nodes. Dollar signs in it are left as text.
func (r *Renderer) RenderMarkdownBlock(seg mathseg.Segment) []*Node {
	plain := mathseg.Segment{Kind: mathseg.Plain, Text: seg.Source, Source: seg.Source, Start: seg.Start, End: seg.End}
	return r.Render([]mathseg.Segment{plain}).Children
}

func stripPlaceholders(s string) string {
	if !strings.ContainsAny(s, placeholderOpen+placeholderClose) {
		return s
	}
	return strings.NewReplacer(placeholderOpen, "", placeholderClose, "").Replace(s)
}

type builder struct {
	tex    Typesetter
	source []byte
	maths  []mathseg.Segment
}

func (b *builder) blocks(parent ast.Node) []*Node {
	var out []*Node
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, b.block(c)...)
	}
	return out
}

func (b *builder) block(n ast.Node) []*Node {
	switch n := n.(type) {
	case *ast.Heading:
		h := &Node{Kind: KindHeading, Level: n.Level, Style: styleFor(KindHeading, n.Level)}
		h.Append(trimEdges(b.inlines(n))...)
		return []*Node{h}
	case *ast.Paragraph:
		return b.paragraphs(n)
	case *ast.TextBlock:
		return b.paragraphs(n)
	case *ast.ThematicBreak:
		return []*Node{newNode(KindThematicBreak)}
	case *ast.FencedCodeBlock:
		c := newNode(KindCodeBlock)
		c.Language = string(n.Language(b.source))
		c.Text = b.restore(b.lines(n))
		return []*Node{c}
	case *ast.CodeBlock:
		c := newNode(KindCodeBlock)
		c.Text = b.restore(b.lines(n))
		return []*Node{c}
	case *ast.Blockquote:
		q := newNode(KindBlockQuote)
		q.Append(b.blocks(n)...)
		return []*Node{q}
	case *ast.List:
		l := newNode(KindList)
		l.Ordered = n.IsOrdered()
		if l.Ordered {
			l.Start = n.Start
		}
		l.Append(b.blocks(n)...)
		return []*Node{l}
	case *ast.ListItem:
		item := newNode(KindListItem)
		if first := n.FirstChild(); first != nil {
			if cb, ok := first.FirstChild().(*east.TaskCheckBox); ok {
				checked := cb.IsChecked
				item.Checked = &checked
			}
		}
		item.Append(b.blocks(n)...)
		return []*Node{item}
	case *ast.HTMLBlock:
		// Raw HTML is shown as literal text, never interpreted.
		raw := b.lines(n)
		if n.HasClosure() {
			raw += "\n" + strings.TrimRight(string(n.ClosureLine.Value(b.source)), "\n")
		}
		p := newNode(KindParagraph)
		p.Append(newText(b.restore(raw)))
		return []*Node{p}
	case *east.Table:
		return []*Node{b.table(n)}
	default:
		if n.Type() == ast.TypeBlock {
			return b.blocks(n)
		}
		return b.paragraphs(n)
	}
}

// paragraphs wraps the inline content of n, breaking the paragraph around
// display math so the equation sits on its own line.
func (b *builder) paragraphs(n ast.Node) []*Node {
	var out []*Node
	var run []*Node
	flush := func() {
		if run = trimEdges(run); len(run) > 0 {
			p := newNode(KindParagraph)
			p.Append(run...)
			out = append(out, p)
		}
		run = nil
	}
	for _, in := range b.inlines(n) {
		if in.Kind == KindBlockMath || in.Kind == KindCodeBlock {
			flush()
			out = append(out, in)
			continue
		}
		run = appendInline(run, in)
	}
	flush()
	return out
}

func (b *builder) inlines(parent ast.Node) []*Node {
	var out []*Node
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		for _, in := range b.inline(c) {
			out = appendInline(out, in)
		}
	}
	return out
}

func (b *builder) inline(n ast.Node) []*Node {
	switch n := n.(type) {
	case *ast.Text:
		out := b.expand(string(n.Segment.Value(b.source)))
		switch {
		case n.HardLineBreak():
			out = append(out, newNode(KindLineBreak))
		case n.SoftLineBreak():
			out = append(out, newText("\n"))
		}
		return out
	case *ast.String:
		return b.expand(string(n.Value))
	case *ast.CodeSpan:
		c := newNode(KindInlineCode)
		c.Text = b.restore(b.rawText(n))
		return []*Node{c}
	case *ast.Emphasis:
		kind := KindEmphasis
		if n.Level >= 2 {
			kind = KindStrong
		}
		e := newNode(kind)
		e.Append(b.inlines(n)...)
		return []*Node{e}
	case *east.Strikethrough:
		s := newNode(KindStrikethrough)
		s.Append(b.inlines(n)...)
		return []*Node{s}
	case *ast.Link:
		l := b.link(string(n.Destination))
		l.Title = string(n.Title)
		l.Append(b.inlines(n)...)
		return []*Node{l}
	case *ast.AutoLink:
		l := b.link(string(n.URL(b.source)))
		l.Append(newText(string(n.Label(b.source))))
		return []*Node{l}
	case *ast.Image:
		img := newNode(KindImage)
		img.Href = b.restore(string(n.Destination))
		img.Title = string(n.Title)
		img.Text = b.restore(b.rawText(n))
		return []*Node{img}
	case *ast.RawHTML:
		var raw strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			raw.Write(seg.Value(b.source))
		}
		return []*Node{newText(b.restore(raw.String()))}
	case *east.TaskCheckBox:
		return nil
	default:
		return b.inlines(n)
	}
}

func (b *builder) link(dest string) *Node {
	l := newNode(KindLink)
	l.Href = b.restore(dest)
	l.Target = linkTarget
	l.Rel = linkRel
	return l
}

// expand splits s at math placeholders.
func (b *builder) expand(s string) []*Node {
	locs := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		if s == "" {
			return nil
		}
		return []*Node{newText(s)}
	}
	var out []*Node
	cursor := 0
	for _, loc := range locs {
		if loc[0] > cursor {
			out = append(out, newText(s[cursor:loc[0]]))
		}
		idx, err := strconv.Atoi(s[loc[2]:loc[3]])
		if err != nil || idx >= len(b.maths) {
			out = append(out, newText(s[loc[0]:loc[1]]))
		} else {
			out = append(out, b.math(b.maths[idx]))
		}
		cursor = loc[1]
	}
	if cursor < len(s) {
		out = append(out, newText(s[cursor:]))
	}
	return out
}

// math typesets one expression. On failure the original source, delimiters
// included, is shown as code with the error attached.
func (b *builder) math(seg mathseg.Segment) *Node {
	display := seg.Kind == mathseg.BlockMath
	markup, err := b.tex.Typeset(seg.Text, display)
	if err != nil {
		kind := KindInlineCode
		if display {
			kind = KindCodeBlock
		}
		return &Node{Kind: kind, Style: mathErrorStyle, Text: seg.Source, Error: err.Error()}
	}
	kind := KindInlineMath
	if display {
		kind = KindBlockMath
	}
	n := newNode(kind)
	n.Text = seg.Text
	n.Markup = markup
	return n
}

// restore puts the original math source back into literal contexts such as
// code spans.
func (b *builder) restore(s string) string {
	if !strings.Contains(s, placeholderOpen) {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		idx, err := strconv.Atoi(m[len(placeholderOpen) : len(m)-len(placeholderClose)])
		if err != nil || idx >= len(b.maths) {
			return m
		}
		return b.maths[idx].Source
	})
}

func (b *builder) lines(n ast.Node) string {
	var buf strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(b.source))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (b *builder) rawText(n ast.Node) string {
	var buf strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(b.source))
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(b.rawText(c))
		}
	}
	return buf.String()
}

func (b *builder) table(t *east.Table) *Node {
	tbl := newNode(KindTable)
	body := newNode(KindTableBody)
	for c := t.FirstChild(); c != nil; c = c.NextSibling() {
		switch r := c.(type) {
		case *east.TableHeader:
			head := newNode(KindTableHead)
			head.Append(b.row(r))
			tbl.Append(head)
		case *east.TableRow:
			row := b.row(r)
			row.Style.Band = len(body.Children)%2 == 1
			body.Append(row)
		}
	}
	if len(body.Children) > 0 {
		tbl.Append(body)
	}
	return tbl
}

func (b *builder) row(r ast.Node) *Node {
	row := newNode(KindTableRow)
	for c := r.FirstChild(); c != nil; c = c.NextSibling() {
		cell, ok := c.(*east.TableCell)
		if !ok {
			continue
		}
		n := newNode(KindTableCell)
		if cell.Alignment != east.AlignNone {
			n.Align = cell.Alignment.String()
		}
		n.Append(trimEdges(b.inlines(cell))...)
		row.Append(n)
	}
	return row
}

// appendInline merges adjacent text nodes.
func appendInline(out []*Node, n *Node) []*Node {
	if k := len(out); k > 0 && n.Kind == KindText && out[k-1].Kind == KindText {
		out[k-1].Text += n.Text
		return out
	}
	return append(out, n)
}

// trimEdges strips whitespace at the start and end of an inline run and
// drops text nodes left empty.
func trimEdges(run []*Node) []*Node {
	for len(run) > 0 {
		first := run[0]
		if first.Kind == KindLineBreak {
			run = run[1:]
			continue
		}
		if first.Kind != KindText {
			break
		}
		first.Text = strings.TrimLeft(first.Text, " \t\n")
		if first.Text != "" {
			break
		}
		run = run[1:]
	}
	for len(run) > 0 {
		last := run[len(run)-1]
		if last.Kind == KindLineBreak {
			run = run[:len(run)-1]
			continue
		}
		if last.Kind != KindText {
			break
		}
		last.Text = strings.TrimRight(last.Text, " \t\n")
		if last.Text != "" {
			break
		}
		run = run[:len(run)-1]
	}
	return run
}
