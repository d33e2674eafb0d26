package document

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// WriteHTML serializes n as an HTML fragment. Text is always escaped; only
// typeset math markup is written verbatim.
func WriteHTML(w io.Writer, n *Node) error {
	var buf bytes.Buffer
	writeNode(&buf, n, false)
	_, err := w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// HTML returns n as an HTML fragment.
func HTML(n *Node) string {
	var buf bytes.Buffer
	writeNode(&buf, n, false)
	return buf.String()
}

func writeNode(buf *bytes.Buffer, n *Node, inHead bool) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindDocument:
		wrap(buf, "div", n, nil, inHead)
	case KindHeading:
		level := n.Level
		if level < 1 || level > 6 {
			level = 1
		}
		wrap(buf, "h"+strconv.Itoa(level), n, nil, inHead)
	case KindParagraph:
		wrap(buf, "p", n, nil, inHead)
	case KindText:
		buf.Write(util.EscapeHTML([]byte(n.Text)))
	case KindStrong:
		wrap(buf, "strong", n, nil, inHead)
	case KindEmphasis:
		wrap(buf, "em", n, nil, inHead)
	case KindStrikethrough:
		wrap(buf, "del", n, nil, inHead)
	case KindInlineCode:
		open(buf, "code", n.Style, errorAttr(n))
		buf.Write(util.EscapeHTML([]byte(n.Text)))
		buf.WriteString("</code>")
	case KindCodeBlock, KindRawData:
		open(buf, "pre", n.Style, errorAttr(n))
		if n.Language != "" {
			buf.WriteString(`<code class="language-`)
			buf.Write(util.EscapeHTML([]byte(n.Language)))
			buf.WriteString(`">`)
		} else {
			buf.WriteString("<code>")
		}
		buf.Write(util.EscapeHTML([]byte(n.Text)))
		buf.WriteString("</code></pre>\n")
	case KindBlockQuote:
		wrap(buf, "blockquote", n, nil, inHead)
	case KindList:
		if !n.Ordered {
			wrap(buf, "ul", n, nil, inHead)
			return
		}
		var attrs [][2]string
		if n.Start > 1 {
			attrs = append(attrs, [2]string{"start", strconv.Itoa(n.Start)})
		}
		wrap(buf, "ol", n, attrs, inHead)
	case KindListItem:
		open(buf, "li", n.Style, nil)
		if n.Checked != nil {
			buf.WriteString(`<input type="checkbox" disabled`)
			if *n.Checked {
				buf.WriteString(" checked")
			}
			buf.WriteString("> ")
		}
		children(buf, n, inHead)
		buf.WriteString("</li>\n")
	case KindTable:
		wrap(buf, "table", n, nil, false)
	case KindTableHead:
		wrap(buf, "thead", n, nil, true)
	case KindTableBody:
		wrap(buf, "tbody", n, nil, false)
	case KindTableRow:
		wrap(buf, "tr", n, nil, inHead)
	case KindTableCell:
		tag := "td"
		if inHead {
			tag = "th"
		}
		var attrs [][2]string
		if n.Align != "" {
			attrs = append(attrs, [2]string{"style", "text-align:" + n.Align})
		}
		wrap(buf, tag, n, attrs, inHead)
	case KindLink:
		var attrs [][2]string
		if href := []byte(n.Href); !html.IsDangerousURL(href) {
			attrs = append(attrs, [2]string{"href", string(util.URLEscape(href, true))})
		}
		if n.Title != "" {
			attrs = append(attrs, [2]string{"title", n.Title})
		}
		attrs = append(attrs, [2]string{"target", n.Target}, [2]string{"rel", n.Rel})
		wrap(buf, "a", n, attrs, inHead)
	case KindImage:
		var attrs [][2]string
		if src := []byte(n.Href); !html.IsDangerousURL(src) {
			attrs = append(attrs, [2]string{"src", string(util.URLEscape(src, true))})
		}
		attrs = append(attrs, [2]string{"alt", n.Text})
		if n.Title != "" {
			attrs = append(attrs, [2]string{"title", n.Title})
		}
		open(buf, "img", n.Style, attrs)
	case KindThematicBreak:
		open(buf, "hr", n.Style, nil)
		buf.WriteString("\n")
	case KindLineBreak:
		buf.WriteString("<br>\n")
	case KindInlineMath:
		open(buf, "span", n.Style, nil)
		buf.WriteString(n.Markup)
		buf.WriteString("</span>")
	case KindBlockMath:
		open(buf, "div", n.Style, nil)
		buf.WriteString(n.Markup)
		buf.WriteString("</div>\n")
	case KindNotice:
		open(buf, "div", n.Style, [][2]string{{"role", "alert"}})
		buf.Write(util.EscapeHTML([]byte(n.Text)))
		buf.WriteString("</div>\n")
	default:
		children(buf, n, inHead)
	}
}

func wrap(buf *bytes.Buffer, tag string, n *Node, attrs [][2]string, inHead bool) {
	open(buf, tag, n.Style, attrs)
	children(buf, n, inHead)
	buf.WriteString("</" + tag + ">")
	if isBlockTag(tag) {
		buf.WriteString("\n")
	}
}

func children(buf *bytes.Buffer, n *Node, inHead bool) {
	for _, c := range n.Children {
		writeNode(buf, c, inHead)
	}
}

func open(buf *bytes.Buffer, tag string, style Style, attrs [][2]string) {
	buf.WriteString("<" + tag)
	if style.Class != "" {
		buf.WriteString(` class="`)
		buf.Write(util.EscapeHTML([]byte(style.Class)))
		if style.Band {
			buf.WriteString(" md-band")
		}
		buf.WriteString(`"`)
	}
	for _, a := range attrs {
		buf.WriteString(" " + a[0] + `="`)
		buf.Write(util.EscapeHTML([]byte(a[1])))
		buf.WriteString(`"`)
	}
	buf.WriteString(">")
}

func errorAttr(n *Node) [][2]string {
	if n.Error == "" {
		return nil
	}
	return [][2]string{{"title", n.Error}}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "div", "p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "ul", "ol",
		"table", "thead", "tbody", "tr":
		return true
	}
	return false
}
