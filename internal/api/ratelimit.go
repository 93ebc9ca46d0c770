package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/ratelimit"
)

// allowQuota counts an expensive operation against the configured quotas.
// It writes a 429 response and returns false when a quota is used up.
func (s *Server) allowQuota(w http.ResponseWriter, r *http.Request, campaignID string) bool {
	if s.deps.Limiter == nil {
		return true
	}

	res, err := s.deps.Limiter.Allow(r.Context(), &ratelimit.Request{
		ClientIP:   clientIP(r),
		CampaignID: campaignID,
	})
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		return true
	}
	if res.Allowed {
		return true
	}

	s.logger.Warn("rate limit exceeded",
		"level", res.DeniedBy,
		"key", res.DeniedKey,
		"retry_after", res.RetryAfter,
	)
	metrics.IncAPIErrors("rate_limit")

	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	s.sendJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:   "Rate limit exceeded",
		Details: []string{string(res.DeniedBy) + " quota used up"},
	})
	return false
}

// handleRateLimitStats handles GET /api/v1/rate-limits/{level}?key=
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter == nil {
		s.sendError(w, http.StatusNotFound, "Rate limiting is disabled")
		return
	}

	level, ok := ratelimit.ParseLevel(chi.URLParam(r, "level"))
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown level: "+chi.URLParam(r, "level"))
		return
	}
	key := r.URL.Query().Get("key")
	if level != ratelimit.LevelGlobal && key == "" {
		s.sendError(w, http.StatusBadRequest, "key is required")
		return
	}

	stats, err := s.deps.Limiter.GetStats(r.Context(), level, key)
	if err != nil {
		s.logger.Error("failed to get rate limit stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get rate limit stats")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}
