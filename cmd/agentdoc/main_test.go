package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
)

// Tests use t.Setenv, so none of them run in parallel.

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRenderJSON(t *testing.T) {
	out, err := runCmd(t, `{"formatted_content":"La derivada de $x^2$ es $2x$."}`, "render", "--format", "json")
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	var c domain.NormalizedContent
	if err := json.Unmarshal([]byte(out), &c); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if c.Text != "La derivada de $x^2$ es $2x$." || len(c.Segments) != 5 {
		t.Fatalf("content = %+v", c)
	}
}

func TestRenderHTML(t *testing.T) {
	out, err := runCmd(t, "# Tema\n\nTexto", "render", "-f", "html")
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(out, "<h1") || !strings.Contains(out, "Tema") {
		t.Fatalf("html = %q", out)
	}
}

func TestRenderTermPlain(t *testing.T) {
	out, err := runCmd(t, "Área: $\\pi r^2$ y $$\\frac{a}{b}$$", "render", "--plain")
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(out, "`\\pi r^2`") || !strings.Contains(out, "```tex\n\\frac{a}{b}\n```") {
		t.Fatalf("term text = %q", out)
	}
}

func TestRenderTermStyled(t *testing.T) {
	out, err := runCmd(t, "## Resumen\n\nUno", "render", "--style", "notty")
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(out, "Resumen") || !strings.Contains(out, "Uno") {
		t.Fatalf("term output = %q", out)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := runCmd(t, "hola", "render", "--format", "pdf"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestTermMarkdownMarksBadMath(t *testing.T) {
	got := termMarkdown(mathseg.Split(`ver $\nocommand{a}$ aquí`))
	if !strings.Contains(got, "`$\\nocommand{a}$` ⚠") {
		t.Fatalf("termMarkdown = %q", got)
	}
}

func newAgentsServer(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/agents/unified-chat", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"agent_type":"tutor","formatted_content":"Respuesta del tutor"},{"agent_type":"exam_generator","formatted_content":"Pregunta 1"}]}`))
	})
	mux.HandleFunc("/agents/chat/formatted", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"agent":{"type":"tutor","name":"Tutor"},"formatted_content":"Hola"}`))
	})
	mux.HandleFunc("/agents/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"agents":[{"type":"tutor","is_real_agent":true}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Setenv("BACKEND_URL", srv.URL)
}

func TestAskFansOut(t *testing.T) {
	newAgentsServer(t)

	out, err := runCmd(t, "", "ask", "-a", "tutor,exam_generator", "--plain", "explica", "derivadas")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if !strings.Contains(out, "Respuesta del tutor") || !strings.Contains(out, "Pregunta 1") {
		t.Fatalf("ask output = %q", out)
	}
}

func TestAskSingleAgent(t *testing.T) {
	newAgentsServer(t)

	out, err := runCmd(t, "", "ask", "--plain", "hola")
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if !strings.Contains(out, "Tutor") || !strings.Contains(out, "Hola") {
		t.Fatalf("ask output = %q", out)
	}
}

func TestAskBackendDown(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://127.0.0.1:1")

	if _, err := runCmd(t, "", "ask", "--plain", "hola"); err == nil {
		t.Fatal("expected a failed turn")
	}
}

func TestStatus(t *testing.T) {
	newAgentsServer(t)

	out, err := runCmd(t, "", "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out, "tutor") {
		t.Fatalf("status output = %q", out)
	}
}
