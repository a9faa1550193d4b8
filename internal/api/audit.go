package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-control4/internal/audit"
)

const auditWriteTimeout = 2 * time.Second

// recordCommand writes an audit entry for an API command. Failures are
// logged and never affect the response.
func (s *Server) recordCommand(r *http.Request, commandID string, deviceID int, req commandRequest, execErr error) {
	if s.audit == nil {
		return
	}

	entry := &audit.CommandLog{
		ID:         commandID,
		DeviceID:   strconv.Itoa(deviceID),
		Command:    req.Command,
		Parameters: req.Parameters,
		Subject:    subjectFrom(r.Context()),
		Source:     "api",
		Status:     audit.StatusAccepted,
	}
	if execErr != nil {
		entry.Status = audit.StatusFailed
		entry.Error = execErr.Error()
	}

	// The request context may already be past its deadline after a slow
	// hub call.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("recording command audit failed", "command_id", commandID, "error", err)
	}
}

// handleListAudit returns audited commands, newest first.
// Query: device_id, status, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command audit unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Status:   q.Get("status"),
	}
	if filter.Status != "" && filter.Status != audit.StatusAccepted && filter.Status != audit.StatusFailed {
		writeBadRequest(w, "status must be accepted or failed")
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid "+name)
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command audit failed", "error", err)
		writeInternalError(w, "failed to list command audit")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
