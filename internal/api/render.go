package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/tracking"
)

// RenderRequest is the request body for POST /render
type RenderRequest struct {
	CompositionID string            `json:"composition_id"`
	Props         models.AdTemplate `json:"props"`
	SizeID        string            `json:"size_id,omitempty"`
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	Format        string            `json:"format,omitempty"`
	Quality       int               `json:"quality,omitempty"`
	Scale         float64           `json:"scale,omitempty"`
}

var imageContentTypes = map[string]string{
	models.FormatPNG:  "image/png",
	models.FormatJPEG: "image/jpeg",
	models.FormatWebP: "image/webp",
}

// handleRender handles POST /api/v1/render. It renders one still and
// returns the image bytes; the preview file is removed afterwards.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if s.deps.Render == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Renderer not configured")
		return
	}

	var req RenderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.CompositionID == "" {
		req.CompositionID = req.Props.CompositionID
	}
	if req.CompositionID == "" {
		s.sendError(w, http.StatusBadRequest, "composition_id is required")
		return
	}
	if req.Format != "" && !render.ValidFormat(req.Format) {
		s.sendError(w, http.StatusBadRequest, "unsupported format: "+req.Format)
		return
	}
	if req.SizeID != "" {
		p, ok := models.FindSizePreset(req.SizeID)
		if !ok {
			s.sendError(w, http.StatusBadRequest, "unknown size: "+req.SizeID)
			return
		}
		req.Width, req.Height = p.Width, p.Height
	}

	if !s.allowQuota(w, r, "") {
		return
	}

	res, err := s.deps.Render.RenderStill(r.Context(), req.CompositionID, render.Options{
		Props:   req.Props,
		Width:   req.Width,
		Height:  req.Height,
		Format:  req.Format,
		Quality: req.Quality,
		Scale:   req.Scale,
	})
	if err != nil {
		if errors.Is(err, render.ErrCompositionNotFound) {
			s.sendError(w, http.StatusNotFound, "Composition not found")
			return
		}
		s.logger.Error("preview render failed", "composition_id", req.CompositionID, "error", err)
		s.sendError(w, http.StatusBadGateway, "Render failed")
		return
	}
	defer os.Remove(res.OutputPath)

	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		s.logger.Error("failed to read preview", "path", res.OutputPath, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Render failed")
		return
	}

	s.deps.Tracker.Track("preview_rendered", tracking.Properties{
		"composition_id": req.CompositionID,
		"format":         res.Format,
		"width":          res.Width,
		"height":         res.Height,
	})

	w.Header().Set("Content-Type", imageContentTypes[res.Format])
	w.Header().Set("X-Render-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Render-Height", strconv.Itoa(res.Height))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
