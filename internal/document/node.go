// Package document builds a styled, toolkit-independent tree from markdown
// and math segments.
package document

// Kind identifies a node type in the rendered tree.
type Kind string

// Node kinds.
const (
	KindDocument      Kind = "document"
	KindHeading       Kind = "heading"
	KindParagraph     Kind = "paragraph"
	KindText          Kind = "text"
	KindStrong        Kind = "strong"
	KindEmphasis      Kind = "emphasis"
	KindStrikethrough Kind = "strikethrough"
	KindInlineCode    Kind = "inline_code"
	KindCodeBlock     Kind = "code_block"
	KindBlockQuote    Kind = "block_quote"
	KindList          Kind = "list"
	KindListItem      Kind = "list_item"
	KindTable         Kind = "table"
	KindTableHead     Kind = "table_head"
	KindTableBody     Kind = "table_body"
	KindTableRow      Kind = "table_row"
	KindTableCell     Kind = "table_cell"
	KindLink          Kind = "link"
	KindImage         Kind = "image"
	KindThematicBreak Kind = "thematic_break"
	KindLineBreak     Kind = "line_break"
	KindInlineMath    Kind = "inline_math"
	KindBlockMath     Kind = "block_math"
	KindNotice        Kind = "notice"
	KindRawData       Kind = "raw_data"
)

// Style is the presentation hint attached to a node. The mapping from node
// to style is fixed by styleFor.
type Style struct {
	Class  string `json:"class"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Offset bool   `json:"offset,omitempty"`
	Band   bool   `json:"band,omitempty"`
}

// Node is one element of a rendered document. Fields that do not apply to a
// kind are left zero.
type Node struct {
	Kind     Kind    `json:"kind"`
	Style    Style   `json:"style"`
	Text     string  `json:"text,omitempty"`
	Level    int     `json:"level,omitempty"`
	Language string  `json:"language,omitempty"`
	Ordered  bool    `json:"ordered,omitempty"`
	Start    int     `json:"start,omitempty"`
	Href     string  `json:"href,omitempty"`
	Title    string  `json:"title,omitempty"`
	Target   string  `json:"target,omitempty"`
	Rel      string  `json:"rel,omitempty"`
	Align    string  `json:"align,omitempty"`
	Checked  *bool   `json:"checked,omitempty"`
	Markup   string  `json:"markup,omitempty"`
	Error    string  `json:"error,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Append adds children and returns n.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// PlainText concatenates the text of n and its descendants.
func (n *Node) PlainText() string {
	if n == nil {
		return ""
	}
	if len(n.Children) == 0 {
		return n.Text
	}
	out := ""
	for _, c := range n.Children {
		out += c.PlainText()
	}
	return out
}

// Walk visits n and its descendants depth-first until fn returns false.
func Walk(n *Node, fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// Find returns every descendant of n (n included) with the given kind.
func Find(n *Node, kind Kind) []*Node {
	var out []*Node
	Walk(n, func(c *Node) bool {
		if c.Kind == kind {
			out = append(out, c)
		}
		return true
	})
	return out
}

const (
	linkTarget = "_blank"
	linkRel    = "noopener noreferrer"
)

var headingStyles = [...]Style{
	{Class: "md-h1", Size: "2xl", Weight: "bold"},
	{Class: "md-h2", Size: "xl", Weight: "bold"},
	{Class: "md-h3", Size: "lg", Weight: "semibold"},
	{Class: "md-h4", Size: "base", Weight: "semibold"},
}

var styles = map[Kind]Style{
	KindDocument:      {Class: "md-document"},
	KindParagraph:     {Class: "md-paragraph"},
	KindText:          {Class: "md-text"},
	KindStrong:        {Class: "md-strong", Weight: "bold"},
	KindEmphasis:      {Class: "md-emphasis"},
	KindStrikethrough: {Class: "md-strike"},
	KindInlineCode:    {Class: "md-code-inline"},
	KindCodeBlock:     {Class: "md-code-block"},
	KindBlockQuote:    {Class: "md-blockquote", Offset: true},
	KindList:          {Class: "md-list"},
	KindListItem:      {Class: "md-list-item"},
	KindTable:         {Class: "md-table"},
	KindTableHead:     {Class: "md-table-head", Weight: "semibold", Band: true},
	KindTableBody:     {Class: "md-table-body"},
	KindTableRow:      {Class: "md-table-row"},
	KindTableCell:     {Class: "md-table-cell"},
	KindLink:          {Class: "md-link"},
	KindImage:         {Class: "md-image"},
	KindThematicBreak: {Class: "md-rule"},
	KindLineBreak:     {Class: "md-break"},
	KindInlineMath:    {Class: "md-math-inline"},
	KindBlockMath:     {Class: "md-math-block"},
	KindNotice:        {Class: "md-notice-error", Weight: "semibold", Offset: true},
	KindRawData:       {Class: "md-raw-data"},
}

// styleFor returns the fixed style of a node kind. level only applies to
// headings; levels beyond 4 share the h4 style.
func styleFor(kind Kind, level int) Style {
	if kind == KindHeading {
		switch {
		case level < 1:
			level = 1
		case level > len(headingStyles):
			level = len(headingStyles)
		}
		return headingStyles[level-1]
	}
	return styles[kind]
}

func newNode(kind Kind) *Node {
	return &Node{Kind: kind, Style: styleFor(kind, 0)}
}

func newText(s string) *Node {
	n := newNode(KindText)
	n.Text = s
	return n
}

// NewDocument returns a document root holding children.
func NewDocument(children ...*Node) *Node {
	return newNode(KindDocument).Append(children...)
}

// Notice builds an error notice block shown in place of content that could
// not be normalized.
func Notice(message string) *Node {
	n := newNode(KindNotice)
	n.Text = message
	return n
}

// RawData builds the block used for payloads with no recognizable text field.
func RawData(serialized string) *Node {
	n := newNode(KindRawData)
	n.Language = "json"
	n.Text = serialized
	return n
}
