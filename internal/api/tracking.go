package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/adcraft/internal/tracking"
)

// TrackRequest is the request body for POST /track
type TrackRequest struct {
	Event      string              `json:"event"`
	Properties tracking.Properties `json:"properties,omitempty"`
}

// TrackResponse is the response for POST /track
type TrackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// handleTrack handles POST /api/v1/track. Delivery happens in the
// background; the response only confirms the event was accepted.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		s.sendError(w, http.StatusBadRequest, "event is required")
		return
	}

	props := req.Properties
	if props == nil {
		props = tracking.Properties{}
	}
	eventID, _ := props["event_id"].(string)
	if eventID == "" {
		eventID = tracking.NewEventID(time.Now())
		props["event_id"] = eventID
	}
	if _, ok := props["client_ip"]; !ok {
		props["client_ip"] = clientIP(r)
	}
	if _, ok := props["user_agent"]; !ok && r.UserAgent() != "" {
		props["user_agent"] = r.UserAgent()
	}

	s.deps.Tracker.Track(req.Event, props)
	s.sendJSON(w, http.StatusAccepted, TrackResponse{Status: "accepted", EventID: eventID})
}

// handleTrackingFailures handles GET /api/v1/tracking/failures
func (s *Server) handleTrackingFailures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Failures == nil {
		s.sendJSON(w, http.StatusOK, ListResponse{Items: []*tracking.Failure{}, Total: 0})
		return
	}

	limit, offset := pagination(r, 100)
	filter := tracking.FailureFilter{
		Backend: r.URL.Query().Get("backend"),
		Event:   r.URL.Query().Get("event"),
		Limit:   limit,
		Offset:  offset,
	}
	failures, err := s.deps.Failures.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list tracking failures", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list tracking failures")
		return
	}
	total, err := s.deps.Failures.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count tracking failures", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list tracking failures")
		return
	}
	if failures == nil {
		failures = []*tracking.Failure{}
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Items: failures, Total: total})
}

// clientIP returns the remote address without the port.
// The RealIP middleware has already resolved trusted proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
