package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListEventsHandler handles GET /api/audit/v1/events
// Query params: shopId, actor, resourceType, action, outcome, pageSize, pageToken
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			ShopID:       q.Get("shopId"),
			Actor:        q.Get("actor"),
			ResourceType: q.Get("resourceType"),
			Action:       q.Get("action"),
			Outcome:      q.Get("outcome"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		events, nextToken, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		resp := make([]eventResponse, len(events))
		for i := range events {
			resp[i] = toResponse(&events[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        resp,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1/events/{eventId}
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")

		event, err := store.Get(r.Context(), eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if event == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, toResponse(event))
	}
}

type eventResponse struct {
	ID            string `json:"id"`
	ShopID        string `json:"shopId,omitempty"`
	Actor         string `json:"actor"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	API           string `json:"api,omitempty"`
	ResourceType  string `json:"resourceType,omitempty"`
	ResourceID    string `json:"resourceId,omitempty"`
	Action        string `json:"action"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Outcome       string `json:"outcome"`
	StatusCode    int    `json:"statusCode"`
	DurationMs    int64  `json:"durationMs"`
	CreatedAt     string `json:"createdAt"`
}

func toResponse(e *Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		ShopID:        e.ShopID,
		Actor:         e.Actor,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		API:           e.API,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Action:        e.Action,
		Method:        e.Method,
		Path:          e.Path,
		Outcome:       e.Outcome,
		StatusCode:    e.StatusCode,
		DurationMs:    e.DurationMs,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
