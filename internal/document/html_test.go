package document

import (
	"bytes"
	"strings"
	"testing"
)

func TestHTMLEscapesTextAndKeepsMathMarkup(t *testing.T) {
	t.Parallel()

	doc := render(t, fakeTex{}, "a < b and $x$")
	out := HTML(doc)
	for _, want := range []string{
		`<div class="md-document">`,
		`<p class="md-paragraph">a &lt; b and <span class="md-math-inline"><math>x</math></span></p>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML missing %q in:\n%s", want, out)
		}
	}
}

func TestHTMLDropsDangerousLinks(t *testing.T) {
	t.Parallel()

	doc := markdown("[x](javascript:alert(1))")
	out := HTML(doc)
	if strings.Contains(out, "javascript:") {
		t.Fatalf("dangerous href kept: %s", out)
	}
	if !strings.Contains(out, `target="_blank"`) || !strings.Contains(out, `rel="noopener noreferrer"`) {
		t.Fatalf("link attributes missing: %s", out)
	}
}

func TestWriteHTMLNoticeAndRawData(t *testing.T) {
	t.Parallel()

	doc := NewDocument(Notice("Error procesando la respuesta"), RawData(`{"a": 1}`))

	var buf bytes.Buffer
	if err := WriteHTML(&buf, doc); err != nil {
		t.Fatalf("WriteHTML error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `role="alert"`) || !strings.Contains(out, "Error procesando la respuesta") {
		t.Errorf("notice not rendered: %s", out)
	}
	if !strings.Contains(out, `<code class="language-json">{&quot;a&quot;: 1}</code>`) {
		t.Errorf("raw data not rendered: %s", out)
	}
}

func TestHTMLTableHeadUsesTh(t *testing.T) {
	t.Parallel()

	doc := markdown("| a |\n|---|\n| 1 |")
	out := HTML(doc)
	if !strings.Contains(out, `<th class="md-table-cell">a</th>`) {
		t.Errorf("header cell not th: %s", out)
	}
	if !strings.Contains(out, `<td class="md-table-cell">1</td>`) {
		t.Errorf("body cell not td: %s", out)
	}
}
