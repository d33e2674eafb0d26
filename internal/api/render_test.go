package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
)

func newRenderRouter(limit int64) http.Handler {
	r := chi.NewRouter()
	NewRenderHandler(normalize.NewPipeline(nil, nil, nil), limit).RegisterRoutes(r)
	return r
}

func TestRenderJSON(t *testing.T) {
	t.Parallel()

	body := `{"interaction":{"formatted_content":"**Área**: $\\pi r^2$"}}`
	w := httptest.NewRecorder()
	newRenderRouter(0).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var got domain.NormalizedContent
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Shape != "interaction_formatted" || got.Text != `**Área**: $\pi r^2$` {
		t.Fatalf("content = %+v", got)
	}
	if got.Document == nil || len(got.Document.Children) == 0 {
		t.Fatalf("document missing")
	}
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	body := `"Visita [la guía](https://example.com) <script>alert(1)</script>"`
	w := httptest.NewRecorder()
	newRenderRouter(0).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/render?format=html", strings.NewReader(body)))
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	out := w.Body.String()
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html passed through: %s", out)
	}
	if !strings.Contains(out, `rel="noopener noreferrer"`) {
		t.Fatalf("link attributes missing: %s", out)
	}
}

func TestRenderTooLarge(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newRenderRouter(8).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(`"a long payload"`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
}
