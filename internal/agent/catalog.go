package agent

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

//go:embed agents.yaml
var defaultCatalog []byte

// CoachAgentID is the catalog id used for student-coach replies.
const CoachAgentID = "student_coach"

// CatalogEntry is one agent's display metadata.
type CatalogEntry struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Icon        string `yaml:"icon" json:"icon"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type catalogFile struct {
	StatusLabels struct {
		Real      string `yaml:"real"`
		Simulated string `yaml:"simulated"`
		Unknown   string `yaml:"unknown"`
	} `yaml:"status_labels"`
	Collaboration CatalogEntry   `yaml:"collaboration"`
	Agents        []CatalogEntry `yaml:"agents"`
}

// Catalog maps agent ids to display metadata and tracks which agents the
// backend reports as real.
type Catalog struct {
	file  catalogFile
	index map[string]int

	mu     sync.RWMutex
	status map[string]bool
}

// LoadCatalog reads the catalog at path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	c := &Catalog{
		file:   f,
		index:  make(map[string]int, len(f.Agents)),
		status: make(map[string]bool),
	}
	for i, e := range f.Agents {
		if e.ID == "" {
			return nil, fmt.Errorf("parse agent catalog: entry %d has no id", i)
		}
		if _, dup := c.index[e.ID]; dup {
			return nil, fmt.Errorf("parse agent catalog: duplicate id %q", e.ID)
		}
		c.index[e.ID] = i
	}
	if c.file.Collaboration.ID == "" {
		c.file.Collaboration = CatalogEntry{ID: "collaboration", Name: "Colaboración", Icon: "🤝"}
	}
	return c, nil
}

// Has reports whether id is a catalog entry.
func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Entries returns the catalog entries in file order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.file.Agents))
	copy(out, c.file.Agents)
	return out
}

// Annotate records the backend's real/simulated flags.
func (c *Catalog) Annotate(statuses []backend.AgentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range statuses {
		if s.Type != "" {
			c.status[s.Type] = s.IsRealAgent
		}
	}
}

// Describe returns the descriptor for id. Unknown ids get a name derived
// from the id and the default icon.
func (c *Catalog) Describe(id string) domain.AgentDescriptor {
	d := domain.AgentDescriptor{ID: id, Icon: "🤖"}
	if i, ok := c.index[id]; ok {
		e := c.file.Agents[i]
		d.DisplayName = e.Name
		if e.Icon != "" {
			d.Icon = e.Icon
		}
	} else {
		d.DisplayName = displayNameFromID(id)
	}

	c.mu.RLock()
	isReal, known := c.status[id]
	c.mu.RUnlock()
	d.IsReal = isReal
	d.StatusLabel = c.label(isReal, known)
	return d
}

// Descriptors lists catalog agents followed by any extra agents the backend
// reported.
func (c *Catalog) Descriptors() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, 0, len(c.file.Agents))
	for _, e := range c.file.Agents {
		out = append(out, c.Describe(e.ID))
	}

	c.mu.RLock()
	var extra []string
	for id := range c.status {
		if !c.Has(id) {
			extra = append(extra, id)
		}
	}
	c.mu.RUnlock()
	slices.Sort(extra)
	for _, id := range extra {
		out = append(out, c.Describe(id))
	}
	return out
}

// Collaboration returns the synthetic descriptor for merged replies. It is
// real only when every selected agent is.
func (c *Catalog) Collaboration(selected []string) domain.AgentDescriptor {
	e := c.file.Collaboration
	c.mu.RLock()
	defer c.mu.RUnlock()

	isReal, known := len(selected) > 0, len(selected) > 0
	for _, id := range selected {
		r, ok := c.status[id]
		isReal = isReal && r
		known = known && ok
	}
	return domain.AgentDescriptor{
		ID:          e.ID,
		DisplayName: e.Name,
		Icon:        e.Icon,
		IsReal:      isReal,
		StatusLabel: c.label(isReal, known),
	}
}

// FromEnvelope merges an individual-mode envelope with catalog metadata.
// The envelope's own name, icon and real flag win.
func (c *Catalog) FromEnvelope(env backend.AgentEnvelope) domain.AgentDescriptor {
	d := c.Describe(env.AgentType)
	if env.AgentName != "" {
		d.DisplayName = env.AgentName
	}
	if env.AgentIcon != "" {
		d.Icon = env.AgentIcon
	}
	d.IsReal = env.IsRealAgent
	d.StatusLabel = c.label(env.IsRealAgent, true)
	return d
}

// FromInfo merges the agent block of a formatted chat reply.
func (c *Catalog) FromInfo(fallbackID string, info backend.AgentInfo) domain.AgentDescriptor {
	id := info.Type
	if id == "" {
		id = fallbackID
	}
	d := c.Describe(id)
	if info.Name != "" {
		d.DisplayName = info.Name
	}
	if info.Icon != "" {
		d.Icon = info.Icon
	}
	d.IsReal = info.IsRealAgent
	d.StatusLabel = c.label(info.IsRealAgent, true)
	return d
}

func (c *Catalog) label(isReal, known bool) string {
	switch {
	case !known:
		return c.file.StatusLabels.Unknown
	case isReal:
		return c.file.StatusLabels.Real
	default:
		return c.file.StatusLabels.Simulated
	}
}

// displayNameFromID turns "exam_generator" into "Exam Generator".
func displayNameFromID(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(words) == 0 {
		return "Agente"
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Title(language.Spanish).String(strings.Join(words, " "))
}
