package httpapi

import (
	"net/http"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/security"
)

// sinceParam reads an optional RFC 3339 lower bound.
func sinceParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, app.Validation("since must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := security.AuditFilter{
		AdminID:      q.Get("admin_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		Page:         page,
	}
	logs, pagination, err := s.security.ListAuditLogs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePage(w, logs, pagination)
}

func (s *Server) handleIntrusions(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := security.IntrusionFilter{
		IPAddress: r.URL.Query().Get("ip_address"),
		Since:     since,
		Page:      page,
	}
	events, pagination, err := s.security.ListIntrusionEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePage(w, events, pagination)
}

func (s *Server) handleIntrusionSummary(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.security.SummarizeIntrusions(r.Context(), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": summary})
}
