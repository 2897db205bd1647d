package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/softbus/internal/audit"
	"github.com/nerrad567/softbus/internal/bus"
)

// handleListDispatchLog returns paginated dispatch log entries with optional filters.
//
// Query parameters:
//   - target: filter by target device
//   - group: filter by group
//   - stage: filter by stage (sent, processed, completed, group)
//   - status: filter by status name (ok, timeout, not_found, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListDispatchLog(w http.ResponseWriter, r *http.Request) {
	if s.dispatchLog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dispatch log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Target: q.Get("target"),
		Group:  q.Get("group"),
		Stage:  bus.Stage(q.Get("stage")),
	}
	if v := q.Get("status"); v != "" {
		st, err := bus.ParseStatus(v)
		if err != nil {
			writeBusError(w, err)
			return
		}
		filter.Status = &st
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.dispatchLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list dispatch log", "error", err)
		writeInternalError(w, "failed to list dispatch log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
