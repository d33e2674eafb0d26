package normalize

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
)

// ErrNormalize marks a payload that could not be normalized.
var ErrNormalize = errors.New("normalize failed")

// FailureNotice is shown in place of content that could not be normalized.
const FailureNotice = "⚠️ No se pudo procesar esta respuesta."

// Pipeline runs extraction, sanitizing, promotion, segmentation and
// rendering for one payload. It is safe for concurrent use.
type Pipeline struct {
	promoter *Promoter
	renderer *document.Renderer
	logger   *slog.Logger
}

// NewPipeline creates a pipeline. A nil renderer uses the built-in math
// engine; a nil logger uses slog.Default().
func NewPipeline(promoter *Promoter, renderer *document.Renderer, logger *slog.Logger) *Pipeline {
	if promoter == nil {
		promoter = NewPromoter(DefaultThresholds())
	}
	if renderer == nil {
		renderer = document.NewRenderer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{promoter: promoter, renderer: renderer, logger: logger}
}

// Normalize runs the full chain over an undecoded backend payload.
func (p *Pipeline) Normalize(raw []byte) (domain.NormalizedContent, error) {
	ex := Classify(raw)
	if ex.Shape.IsFallback() {
		p.logger.Debug("payload has no text field, showing raw data", "shape", ex.Shape)
	}
	return p.run(ex, true)
}

// NormalizeText runs the chain over text that was already extracted, such
// as an envelope's formatted content.
func (p *Pipeline) NormalizeText(text string) (domain.NormalizedContent, error) {
	return p.run(Extraction{Text: text, Shape: ShapeString}, true)
}

// NormalizeInput prepares the learner's own text. It is sanitized and
// rendered but never promoted.
func (p *Pipeline) NormalizeInput(text string) (domain.NormalizedContent, error) {
	return p.run(Extraction{Text: text, Shape: ShapeString}, false)
}

func (p *Pipeline) run(ex Extraction, promote bool) (c domain.NormalizedContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrNormalize, r)
			p.logger.Error("normalize panicked", "shape", ex.Shape, "error", err)
			c = Failure(ex.Text, err)
		}
	}()

	c = domain.NormalizedContent{
		RawText:       ex.Text,
		SanitizedText: Sanitize(ex.Text),
		Shape:         string(ex.Shape),
	}

	if ex.Shape.IsFallback() {
		c.Text = c.SanitizedText
		c.Segments = plainSegments(c.Text)
		c.Document = document.NewDocument(document.RawData(c.Text))
		return c, nil
	}

	c.Text = c.SanitizedText
	if promote {
		c.Text = p.promoter.Promote(c.SanitizedText)
		c.Promoted = c.Text != c.SanitizedText
	}
	c.Segments = mathseg.Split(c.Text)
	c.Document = p.renderer.Render(c.Segments)
	return c, nil
}

// Failure builds the content shown when a payload could not be normalized.
// The raw text is kept for the conversation log.
func Failure(raw string, err error) domain.NormalizedContent {
	doc := document.NewDocument(document.Notice(FailureNotice))
	msg := FailureNotice
	if err != nil {
		msg = err.Error()
	}
	return domain.NormalizedContent{
		RawText:  raw,
		Document: doc,
		Error:    msg,
	}
}

// plainSegments keeps the lossless invariant for data blocks, where dollar
// signs are never math.
func plainSegments(text string) []mathseg.Segment {
	if text == "" {
		return nil
	}
	return []mathseg.Segment{{Kind: mathseg.Plain, Text: text, Source: text, End: len(text)}}
}
