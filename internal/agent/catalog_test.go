package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog error: %v", err)
	}
	if !c.Has("tutor") || !c.Has(CoachAgentID) {
		t.Fatalf("default catalog misses known agents: %+v", c.Entries())
	}

	got := c.Describe("exam_generator")
	want := domain.AgentDescriptor{
		ID:          "exam_generator",
		DisplayName: "Generador de Exámenes",
		Icon:        "📝",
		StatusLabel: "Estado desconocido",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Describe mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribeUnknownAgent(t *testing.T) {
	t.Parallel()

	c, _ := LoadCatalog("")
	tests := []struct {
		id   string
		want string
	}{
		{"quiz_master", "Quiz Master"},
		{"math-helper", "Math Helper"},
		{"", "Agente"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			d := c.Describe(tt.id)
			if d.DisplayName != tt.want || d.Icon != "🤖" {
				t.Errorf("Describe(%q) = %+v", tt.id, d)
			}
		})
	}
}

func TestAnnotateAndDescriptors(t *testing.T) {
	t.Parallel()

	c, _ := LoadCatalog("")
	c.Annotate([]backend.AgentStatus{
		{Type: "tutor", IsRealAgent: true},
		{Type: "exam_generator", IsRealAgent: false},
		{Type: "zeta_agent", IsRealAgent: true},
		{Type: "alpha_agent", IsRealAgent: false},
	})

	descs := c.Descriptors()
	if len(descs) != len(c.Entries())+2 {
		t.Fatalf("got %d descriptors", len(descs))
	}
	if descs[0].ID != "tutor" || !descs[0].IsReal || descs[0].StatusLabel != "Agente real" {
		t.Errorf("tutor = %+v", descs[0])
	}
	if descs[1].StatusLabel != "Modo demostración" {
		t.Errorf("exam_generator = %+v", descs[1])
	}
	tail := descs[len(descs)-2:]
	if tail[0].ID != "alpha_agent" || tail[1].ID != "zeta_agent" {
		t.Errorf("extra agents not sorted: %+v", tail)
	}
}

func TestCollaborationDescriptor(t *testing.T) {
	t.Parallel()

	c, _ := LoadCatalog("")
	c.Annotate([]backend.AgentStatus{
		{Type: "tutor", IsRealAgent: true},
		{Type: "exam_generator", IsRealAgent: false},
	})

	if d := c.Collaboration([]string{"tutor"}); !d.IsReal || d.ID != "collaboration" || d.Icon != "🤝" {
		t.Errorf("all real = %+v", d)
	}
	if d := c.Collaboration([]string{"tutor", "exam_generator"}); d.IsReal {
		t.Errorf("mixed selection reported real")
	}
	if d := c.Collaboration([]string{"tutor", "lesson_planner"}); d.StatusLabel != "Estado desconocido" {
		t.Errorf("unannotated selection label = %q", d.StatusLabel)
	}
}

func TestFromEnvelopePrefersBackendMetadata(t *testing.T) {
	t.Parallel()

	c, _ := LoadCatalog("")
	d := c.FromEnvelope(backend.AgentEnvelope{AgentType: "tutor", AgentName: "Profe", IsRealAgent: true})
	if d.DisplayName != "Profe" || d.Icon != "👨‍🏫" || !d.IsReal {
		t.Fatalf("FromEnvelope = %+v", d)
	}
	d = c.FromInfo("lesson_planner", backend.AgentInfo{Icon: "🗓️"})
	if d.ID != "lesson_planner" || d.Icon != "🗓️" || d.IsReal {
		t.Fatalf("FromInfo = %+v", d)
	}
}

func TestLoadCatalogOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agents.yaml")
	data := []byte("agents:\n  - id: tutor\n    name: Tutor\n    icon: T\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog error: %v", err)
	}
	if len(c.Entries()) != 1 || c.Collaboration(nil).ID != "collaboration" {
		t.Fatalf("override catalog = %+v", c.Entries())
	}

	if _, err := ParseCatalog([]byte("agents:\n  - id: a\n  - id: a\n")); err == nil {
		t.Fatalf("duplicate ids accepted")
	}
	if _, err := ParseCatalog([]byte("agents:\n  - name: x\n")); err == nil {
		t.Fatalf("missing id accepted")
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
