package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// historyQuery is the parsed query string of a history request.
type historyQuery struct {
	limit int
	since time.Time
}

// parseHistoryQuery reads limit (1-200, default 50) and since (RFC 3339,
// default unbounded).
func parseHistoryQuery(q url.Values) (historyQuery, error) {
	hq := historyQuery{limit: defaultHistoryLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n <= 0:
			return hq, errors.New("invalid limit")
		case n > maxHistoryLimit:
			return hq, errors.New("limit exceeds maximum of 200")
		}
		hq.limit = n
	}

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return hq, errors.New("since must be an RFC 3339 timestamp")
		}
		hq.since = t.UTC()
	}

	return hq, nil
}

// handleGetDeviceHistory returns recorded state changes for a device,
// newest first.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	hq, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	deviceID := strconv.Itoa(dev.Identity().ID)
	entries, err := s.history.GetHistorySince(r.Context(), deviceID, hq.since, hq.limit)
	if err != nil {
		s.logger.Error("state history query failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   entries,
		"count":     len(entries),
	})
}
