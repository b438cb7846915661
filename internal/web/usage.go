package web

import (
	"net/http"
	"time"

	"github.com/magpiebot/magpie/internal/usage"
)

// usageReport is the JSON shape of GET /api/usage.
type usageReport struct {
	Since   string                    `json:"since"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model,omitempty"`
	ByKind  map[string]*usage.Summary `json:"by_kind,omitempty"`
}

// SetUsageStore enables the /api/usage endpoint. May be nil, in which
// case the endpoint reports 404.
func (s *Server) SetUsageStore(u *usage.Store) {
	s.usage = u
}

// handleUsage answers GET /api/usage with token totals for the last
// 24 hours.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusNotFound, chatError{Error: "usage tracking is not enabled"})
		return
	}

	end := time.Now().Add(time.Minute)
	start := end.Add(-24 * time.Hour)

	total, err := s.usage.Summary(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatError{Error: "usage query failed"})
		return
	}
	byModel, err := s.usage.SummaryByModel(start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatError{Error: "usage query failed"})
		return
	}
	byKind, err := s.usage.SummaryByKind(start, end)
	if err != nil {
		s.logger.Error("usage by kind failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatError{Error: "usage query failed"})
		return
	}

	writeJSON(w, http.StatusOK, usageReport{
		Since:   start.UTC().Format(time.RFC3339),
		Total:   total,
		ByModel: byModel,
		ByKind:  byKind,
	})
}
