package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/export"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/naming"
)

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	jobs, total, err := s.deps.Jobs.List(models.JobListFilter{
		CampaignID: r.URL.Query().Get("campaign_id"),
		Status:     r.URL.Query().Get("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: jobs, Total: total})
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	assets, err := s.deps.Jobs.GetAssets(job.ID)
	if err != nil {
		s.logger.Error("failed to get job assets", "job_id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	job.Assets = assets
	s.sendJSON(w, http.StatusOK, job)
}

// handleJobAssets handles GET /api/v1/jobs/{id}/assets
func (s *Server) handleJobAssets(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	assets, err := s.deps.Jobs.GetAssets(job.ID)
	if err != nil {
		s.logger.Error("failed to get job assets", "job_id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get assets")
		return
	}

	status := r.URL.Query().Get("status")
	out := make([]models.CampaignAsset, 0, len(assets))
	for _, a := range assets {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleJobDownload handles GET /api/v1/jobs/{id}/download.
// The local archive is served when present, otherwise the published copy.
func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if job.ZipPath != "" {
		if _, err := os.Stat(job.ZipPath); err == nil {
			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job)))
			http.ServeFile(w, r, job.ZipPath)
			return
		}
	}
	if job.ArchiveURL != "" {
		http.Redirect(w, r, job.ArchiveURL, http.StatusFound)
		return
	}
	s.sendError(w, http.StatusNotFound, "Archive not available")
}

// handleJobManifest handles GET /api/v1/jobs/{id}/manifest
func (s *Server) handleJobManifest(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if job.ZipPath == "" {
		s.sendError(w, http.StatusNotFound, "Archive not available")
		return
	}

	var m campaign.Manifest
	found, err := export.ReadJSONEntry(job.ZipPath, campaign.ManifestFile, &m)
	if err != nil {
		s.logger.Error("failed to read manifest", "job_id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to read manifest")
		return
	}
	if !found {
		s.sendError(w, http.StatusNotFound, "Manifest not included in archive")
		return
	}
	s.sendJSON(w, http.StatusOK, m)
}

// loadJob fetches a job and writes 404/500 when it cannot
func (s *Server) loadJob(w http.ResponseWriter, id string) (*models.GenerationJob, bool) {
	job, err := s.deps.Jobs.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get job", "job_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get job")
		return nil, false
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

func downloadName(job *models.GenerationJob) string {
	name := naming.Sanitize(job.CampaignName)
	if name == "" {
		name = job.CampaignID
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return name + "_" + id + ".zip"
}
