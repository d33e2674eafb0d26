package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
)

// RenderHandler normalizes raw agent payloads on demand.
type RenderHandler struct {
	pipeline    *normalize.Pipeline
	maxBodySize int64
}

// NewRenderHandler creates a render handler.
func NewRenderHandler(pipeline *normalize.Pipeline, maxBodySize int64) *RenderHandler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &RenderHandler{pipeline: pipeline, maxBodySize: maxBodySize}
}

// RegisterRoutes registers the render route.
func (h *RenderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/render", h.Render)
}

// Render takes a raw backend payload as the body. With ?format=html the
// document is returned as an HTML fragment, otherwise the normalized
// content is returned as JSON.
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := h.pipeline.Normalize(body)
	if err != nil {
		slog.Warn("Render failed", "error", err)
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := document.WriteHTML(w, content.Document); err != nil {
			slog.Debug("failed to write rendered html", "error", err)
		}
		return
	}
	JSON(w, http.StatusOK, content)
}
