package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/vigil-core/internal/audit"
)

// handleListAuditEvents returns paginated audit trail entries.
//
// Query parameters:
//   - kind: filter by event kind (armed, alarm_triggered, mode_changed, ...)
//   - actor: filter by operator ID, "system" or "device"
//   - device_id: filter by device
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Kind:     q.Get("kind"),
		Actor:    q.Get("actor"),
		DeviceID: q.Get("device_id"),
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

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit events", "error", err)
		writeInternalError(w, "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
