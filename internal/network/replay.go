// Package network - replay.go
// Event replay endpoints over the in-memory event log.
//
// Operators and dashboards use these to see what happened recently without
// touching the journal.
package network

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
)

// ReplayHandler provides the event replay API.
type ReplayHandler struct {
	eventLog *events.EventLog
	logger   *logger.Logger
}

// NewReplayHandler creates a new replay handler.
func NewReplayHandler(el *events.EventLog, log *logger.Logger) *ReplayHandler {
	return &ReplayHandler{
		eventLog: el,
		logger:   log,
	}
}

// ReplayResponse is the API response for event replay.
type ReplayResponse struct {
	TotalEvents int            `json:"total_events"`
	LastSeq     uint64         `json:"last_seq"`
	FilteredBy  string         `json:"filtered_by,omitempty"`
	GeneratedAt string         `json:"generated_at"`
	Events      []events.Event `json:"events"`
}

// HandleReplay returns retained events.
// GET /api/events?character=ID&type=BUFF_APPLIED&since=SEQ&limit=N
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.Filter{
		CharacterID: q.Get("character"),
		BuffID:      q.Get("buff"),
		Type:        events.EventType(q.Get("type")),
	}
	if filter.Type != "" && !filter.Type.Known() {
		jsonError(w, "Unknown event type", http.StatusBadRequest)
		return
	}
	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			jsonError(w, "Invalid since", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	filter.Limit = limit

	result := rh.eventLog.Query(filter)

	filterDesc := ""
	if filter.CharacterID != "" {
		filterDesc = "character " + filter.CharacterID
	}
	if filter.Type != "" {
		if filterDesc != "" {
			filterDesc += ", "
		}
		filterDesc += "type " + string(filter.Type)
	}

	rh.logger.Debug("Event replay served", zap.Int("events", len(result)), zap.String("filter", filterDesc))

	writeJSON(w, http.StatusOK, ReplayResponse{
		TotalEvents: len(result),
		LastSeq:     rh.eventLog.LastSeq(),
		FilteredBy:  filterDesc,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      result,
	})
}

// HandleEventDetail returns a specific event.
// GET /api/events/{eventID}
func (rh *ReplayHandler) HandleEventDetail(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	for _, e := range rh.eventLog.Replay() {
		if e.ID == eventID {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	jsonError(w, "Event not found", http.StatusNotFound)
}

// HandleStats returns aggregate counts per event type.
// GET /api/events/stats
func (rh *ReplayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	allEvents := rh.eventLog.Replay()

	stats := map[string]int{
		"total_events": len(allEvents),
	}
	for _, e := range allEvents {
		stats[string(e.Type)]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"stats":        stats,
	})
}

// RegisterRoutes sets up the replay API routes.
func (rh *ReplayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", rh.HandleReplay)
	mux.HandleFunc("GET /api/events/stats", rh.HandleStats)
	mux.HandleFunc("GET /api/events/{eventID}", rh.HandleEventDetail)
}
