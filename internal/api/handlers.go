package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/render"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Jobs    *metrics.JobStats `json:"jobs,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ListResponse wraps a paginated list
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Jobs != nil {
		stats, err := s.deps.Jobs.JobStats(r.Context())
		if err != nil {
			s.logger.Error("failed to get job stats", "error", err)
			resp.Status = "degraded"
		} else {
			resp.Jobs = stats
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleSizes handles GET /api/v1/sizes
func (s *Server) handleSizes(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	sizes := make([]models.SizePreset, 0, len(models.SizePresets))
	for _, p := range models.SizePresets {
		if platform != "" && p.Platform != platform {
			continue
		}
		sizes = append(sizes, p)
	}
	s.sendJSON(w, http.StatusOK, sizes)
}

// handleNamingTemplates handles GET /api/v1/naming-templates
func (s *Server) handleNamingTemplates(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, models.NamingTemplates)
}

// handleCompositions handles GET /api/v1/compositions
func (s *Server) handleCompositions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Render == nil {
		s.sendJSON(w, http.StatusOK, []*render.Composition{})
		return
	}
	s.sendJSON(w, http.StatusOK, s.deps.Render.Registry().List())
}

// decodeJSON decodes the request body into v and writes a 400/413 on failure
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pagination reads limit/offset query parameters
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 500)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
