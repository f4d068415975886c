package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/roombot/scheduler"
	"github.com/onnwee/roombot/telemetry"
)

// HandleRanking returns today's ranking for a room, rebuilding an empty
// tally from history first.
func (h *Handlers) HandleRanking(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("id")
	if _, err := strconv.ParseInt(room, 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if h.Tally != nil {
		h.Tally.EnsureTally(r.Context(), room)
	}
	writeJSON(w, http.StatusOK, h.Counter.Ranking(room))
}

// HandleLog returns the newest persisted messages of a room.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("id")
	if _, err := strconv.ParseInt(room, 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	recs, err := h.Store.ListLogs(r.Context(), room, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("list logs failed", slog.String("room", room), slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room_id": room, "messages": recs})
}

// HandleRunJob runs a scheduled job now. A run already in flight is joined.
func (h *Handlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "job": name, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "job": name})
	}
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
