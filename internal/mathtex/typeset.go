// Package mathtex typesets TeX math into MathML with treeblood.
//
// Typeset is strict: anything treeblood cannot typeset cleanly is reported
// as *Error so callers can fall back to showing the expression source.
package mathtex

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/wyatt915/treeblood"
	"golang.org/x/net/html"
)

// ErrSyntax is wrapped by every *Error.
var ErrSyntax = errors.New("tex syntax error")

// Error describes why an expression could not be typeset.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tex: %s in %q", e.Msg, e.Expr)
}

func (e *Error) Unwrap() error { return ErrSyntax }

// Engine converts expressions. Macros are user commands, without the
// leading backslash, expanded before typesetting.
type Engine struct {
	macros map[string]string
}

// New returns an Engine with the given macros, which may be nil.
func New(macros map[string]string) *Engine {
	return &Engine{macros: macros}
}

var merrorRe = regexp.MustCompile(`<merror([^>]*)>([^<]*)`)
var titleRe = regexp.MustCompile(`title="([^"]*)"`)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// plain drops the markup treeblood puts in some error messages.
func plain(msg string) string {
	return strings.Join(strings.Fields(tagRe.ReplaceAllString(msg, " ")), " ")
}

// Typeset returns a <math> element for expr. display selects block layout.
func (e *Engine) Typeset(expr string, display bool) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", &Error{Expr: expr, Msg: "empty expression"}
	}

	var (
		out string
		err error
	)
	if display {
		out, err = treeblood.DisplayStyle(expr, e.macros)
	} else {
		out, err = treeblood.InlineStyle(expr, e.macros)
	}
	if err != nil {
		return "", &Error{Expr: expr, Msg: plain(err.Error())}
	}
	if m := merrorRe.FindStringSubmatch(out); m != nil {
		msg := "cannot typeset " + strings.TrimSpace(m[2])
		if t := titleRe.FindStringSubmatch(m[1]); t != nil {
			msg += ":" + t[1]
		}
		return "", &Error{Expr: expr, Msg: msg}
	}
	if err := checkMarkup(out); err != nil {
		return "", &Error{Expr: expr, Msg: err.Error()}
	}
	return strings.TrimSpace(out), nil
}

// mathElements is every element treeblood emits.
var mathElements = map[string]bool{
	"math": true, "semantics": true, "annotation": true, "none": true,
	"mrow": true, "mi": true, "mn": true, "mo": true, "mtext": true, "mspace": true,
	"mfrac": true, "msqrt": true, "mroot": true, "mstyle": true, "mpadded": true,
	"msub": true, "msup": true, "msubsup": true, "mmultiscripts": true, "mprescripts": true,
	"mover": true, "munder": true, "munderover": true, "menclose": true, "merror": true,
	"mtable": true, "mtr": true, "mtd": true, "mlabeledtr": true,
}

// checkMarkup rejects output that carries anything besides MathML, since
// treeblood copies \text arguments through without escaping them.
func checkMarkup(markup string) error {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, more := z.TagName()
			if !mathElements[string(name)] {
				return fmt.Errorf("unexpected element <%s>", name)
			}
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				k := strings.ToLower(string(key))
				if strings.HasPrefix(k, "on") || strings.Contains(k, "href") || k == "src" {
					return fmt.Errorf("unexpected attribute %s", k)
				}
				if strings.Contains(strings.ToLower(string(val)), "url(") {
					return fmt.Errorf("unexpected attribute value in %s", k)
				}
			}
		}
	}
}
