package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/tracking"
)

// ValidateResponse is the response for POST /campaigns/{id}/validate
type ValidateResponse struct {
	campaign.ValidationResult
	TotalAssets     int      `json:"total_assets"`
	UnresolvedSizes []string `json:"unresolved_sizes,omitempty"`
	// Warnings do not make the campaign invalid
	Warnings []string `json:"warnings,omitempty"`
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	campaigns, total, err := s.deps.Campaigns.List(models.CampaignListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: campaigns, Total: total})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	c := models.Campaign{Output: models.DefaultOutputSettings()}
	if !s.decodeJSON(w, r, &c) {
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	c.ID = uuid.New().String()
	normalizeCampaign(&c)

	if err := s.deps.Campaigns.Create(&c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	c := models.Campaign{Output: existing.Output}
	if !s.decodeJSON(w, r, &c) {
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	if c.BaseTemplate == nil {
		c.BaseTemplate = existing.BaseTemplate
	}
	normalizeCampaign(&c)

	if err := s.deps.Campaigns.Update(&c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.sendError(w, http.StatusNotFound, "Campaign not found")
			return
		}
		s.logger.Error("failed to update campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	active, err := s.deps.Jobs.HasActiveJob(c.ID)
	if err != nil {
		s.logger.Error("failed to check active jobs", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	if active {
		s.sendError(w, http.StatusConflict, "Campaign has a generation in progress")
		return
	}

	if err := s.deps.Campaigns.Delete(c.ID); err != nil {
		s.logger.Error("failed to delete campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	if s.deps.OutputRoot != "" {
		if err := os.RemoveAll(filepath.Join(s.deps.OutputRoot, c.ID)); err != nil {
			s.logger.Warn("failed to remove campaign output", "campaign_id", c.ID, "error", err)
		}
	}

	s.logger.Info("campaign deleted", "campaign_id", c.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateCampaign handles POST /api/v1/campaigns/{id}/validate
func (s *Server) handleValidateCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var warnings []string
	for _, pc := range campaign.PathCollisions(c) {
		warnings = append(warnings, pc.Warning())
	}

	s.sendJSON(w, http.StatusOK, ValidateResponse{
		ValidationResult: campaign.Validate(c),
		TotalAssets:      campaign.TotalAssetCount(c),
		UnresolvedSizes:  campaign.UnresolvedSizes(c),
		Warnings:         warnings,
	})
}

// handleImportVariants handles POST /api/v1/campaigns/{id}/variants/import.
// The body is CSV, either raw or as the "file" field of a multipart form.
// Query parameters *_column map header names; mode=append keeps existing variants.
func (s *Server) handleImportVariants(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		body = file
	}

	q := r.URL.Query()
	result, err := campaign.ImportVariantsCSV(body, campaign.ColumnMapping{
		ID:          q.Get("id_column"),
		Name:        q.Get("name_column"),
		Headline:    q.Get("headline_column"),
		Subheadline: q.Get("subheadline_column"),
		Body:        q.Get("body_column"),
		CTA:         q.Get("cta_column"),
	})
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(result.Variants) == 0 {
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "No variants found in CSV",
			Details: result.Errors,
		})
		return
	}

	variants := result.Variants
	if q.Get("mode") == "append" {
		variants = append(append([]models.CopyVariant{}, c.CopyVariants...), variants...)
	}
	variants = uniqueVariantIDs(variants)

	if err := s.deps.Campaigns.ReplaceVariants(c.ID, variants); err != nil {
		s.logger.Error("failed to import variants", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to import variants")
		return
	}
	result.Variants = variants

	s.logger.Info("variants imported",
		"campaign_id", c.ID,
		"rows", result.Total,
		"skipped", result.Skipped,
		"variants", len(variants),
	)
	s.sendJSON(w, http.StatusOK, result)
}

// handleGenerate handles POST /api/v1/campaigns/{id}/generate
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if res := campaign.Validate(c); !res.Valid {
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Campaign is invalid",
			Details: res.Errors,
		})
		return
	}

	active, err := s.deps.Jobs.HasActiveJob(c.ID)
	if err != nil {
		s.logger.Error("failed to check active jobs", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to queue generation")
		return
	}
	if active {
		s.sendError(w, http.StatusConflict, "Generation already in progress")
		return
	}

	if !s.allowQuota(w, r, c.ID) {
		return
	}

	job := &models.GenerationJob{
		ID:         uuid.New().String(),
		Campaign:   c,
		TotalCount: campaign.TotalAssetCount(c),
	}
	job.OutputDir = filepath.Join(s.deps.OutputRoot, c.ID, job.ID)

	if err := s.deps.Jobs.Create(job); err != nil {
		s.logger.Error("failed to create job", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to queue generation")
		return
	}
	job.CampaignName = c.Name

	if s.deps.Worker != nil {
		s.deps.Worker.Wake()
	}
	s.deps.Tracker.Track("campaign_generation_queued", tracking.Properties{
		"campaign_id": c.ID,
		"job_id":      job.ID,
		"total":       job.TotalCount,
	})

	s.logger.Info("generation queued", "campaign_id", c.ID, "job_id", job.ID)
	s.sendJSON(w, http.StatusAccepted, job)
}

// handleCampaignJobs handles GET /api/v1/campaigns/{id}/jobs
func (s *Server) handleCampaignJobs(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	limit, offset := pagination(r, 20)
	jobs, total, err := s.deps.Jobs.List(models.JobListFilter{
		CampaignID: c.ID,
		Status:     r.URL.Query().Get("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("failed to list jobs", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: jobs, Total: total})
}

// loadCampaign fetches a campaign and writes 404/500 when it cannot
func (s *Server) loadCampaign(w http.ResponseWriter, id string) (*models.Campaign, bool) {
	c, err := s.deps.Campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil, false
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil, false
	}
	return c, true
}

// normalizeCampaign fills the fields a client may omit
func normalizeCampaign(c *models.Campaign) {
	if c.BaseTemplate == nil {
		c.BaseTemplate = campaign.NewDefault(c.Name).BaseTemplate
	}
	for i := range c.CopyVariants {
		v := &c.CopyVariants[i]
		if v.ID == "" {
			v.ID = fmt.Sprintf("variant-%d", i+1)
		}
		if v.Name == "" {
			v.Name = fmt.Sprintf("Variant %d", i+1)
		}
	}
	c.CopyVariants = uniqueVariantIDs(c.CopyVariants)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
}

// uniqueVariantIDs suffixes repeated IDs with -2, -3, ...
func uniqueVariantIDs(variants []models.CopyVariant) []models.CopyVariant {
	seen := make(map[string]struct{}, len(variants))
	for i := range variants {
		id := variants[i].ID
		for n := 2; ; n++ {
			if _, dup := seen[id]; !dup {
				break
			}
			id = fmt.Sprintf("%s-%d", variants[i].ID, n)
		}
		variants[i].ID = id
		seen[id] = struct{}{}
	}
	return variants
}
