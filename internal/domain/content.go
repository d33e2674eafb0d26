package domain

import (
	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
)

// NormalizedContent is a payload after extraction, sanitizing, promotion,
// segmentation and rendering. Text is the string that was segmented, so
// joining the segments' sources yields Text.
type NormalizedContent struct {
	RawText       string            `json:"raw_text"`
	SanitizedText string            `json:"sanitized_text"`
	Text          string            `json:"text"`
	Shape         string            `json:"shape,omitempty"`
	Promoted      bool              `json:"promoted,omitempty"`
	Segments      []mathseg.Segment `json:"segments"`
	Document      *document.Node    `json:"document,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Failed reports whether normalization produced an error notice.
func (c NormalizedContent) Failed() bool {
	return c.Error != ""
}

// IsRawData reports whether the payload had no recognizable text field and
// is shown as serialized data.
func (c NormalizedContent) IsRawData() bool {
	return c.Shape == "serialized" || c.Shape == "malformed"
}
