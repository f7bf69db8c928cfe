package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// enqueueRequest is the body of POST /api/jobs/v1/rebuild.
type enqueueRequest struct {
	ShopID      string `json:"shopId"`
	Trigger     string `json:"trigger,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// EnqueueRebuildHandler handles POST /api/jobs/v1/rebuild. A shopId of
// "_all" queues a rebuild of every shop. notify, if set, is called after a
// new job is created.
func EnqueueRebuildHandler(store *JobStore, notify func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		shopID := req.ShopID
		if shopID != AllShops {
			shopID = tenancy.NormalizeShop(shopID)
			if err := tenancy.ValidateShop(shopID); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		trigger := req.Trigger
		if trigger == "" {
			trigger = TriggerAPI
		}
		requestedBy := req.RequestedBy
		if requestedBy == "" {
			requestedBy = "anonymous"
		}

		job, created, err := store.Enqueue(r.Context(), NewRebuildJob(shopID, trigger, requestedBy))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to enqueue job: %v", err))
			return
		}
		if created && notify != nil {
			notify()
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job":       jobToResponse(job),
			"coalesced": !created,
		})
	}
}

// GetJobHandler handles GET /api/jobs/v1/rebuild/{jobId}
func GetJobHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		job, err := store.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
			return
		}

		writeJSON(w, http.StatusOK, jobToResponse(job))
	}
}

// ListJobsHandler handles GET /api/jobs/v1/rebuild
// Query params: shopId, state, trigger, pageSize, pageToken
func ListJobsHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := JobListFilter{
			ShopID:  r.URL.Query().Get("shopId"),
			State:   r.URL.Query().Get("state"),
			Trigger: r.URL.Query().Get("trigger"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
			return
		}

		jobs := make([]jobResponse, len(records))
		for i := range records {
			jobs[i] = jobToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":          jobs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// CancelJobHandler handles POST /api/jobs/v1/rebuild/{jobId}:cancel
func CancelJobHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		if err := store.Cancel(r.Context(), jobID); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, ErrJobNotFound):
				status = http.StatusNotFound
			case errors.Is(err, ErrJobNotCancelable):
				status = http.StatusConflict
			}
			writeError(w, status, fmt.Sprintf("failed to cancel job: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "canceled",
			"jobId":  jobID,
		})
	}
}

// jobResponse is the API response for a rebuild job.
type jobResponse struct {
	ID           string `json:"id"`
	ShopID       string `json:"shopId"`
	Trigger      string `json:"trigger"`
	RequestedBy  string `json:"requestedBy"`
	RequestedAt  string `json:"requestedAt"`
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	AttemptCount int    `json:"attemptCount"`
	LastError    string `json:"lastError,omitempty"`
	Coalesced    int    `json:"coalesced,omitempty"`
	Rebuilt      int    `json:"rebuilt,omitempty"`
	Skipped      int    `json:"skipped,omitempty"`
	Conflicts    int    `json:"conflicts,omitempty"`
	ShopsFailed  int    `json:"shopsFailed,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty"`
}

func jobToResponse(job *RebuildJob) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		ShopID:       job.ShopID,
		Trigger:      job.Trigger,
		RequestedBy:  job.RequestedBy,
		RequestedAt:  job.RequestedAt.Format(time.RFC3339),
		State:        string(job.State),
		Message:      job.Message,
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
		Coalesced:    job.Coalesced,
		Rebuilt:      job.Rebuilt,
		Skipped:      job.Skipped,
		Conflicts:    job.Conflicts,
		ShopsFailed:  job.ShopsFailed,
		DurationMs:   job.DurationMs,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
