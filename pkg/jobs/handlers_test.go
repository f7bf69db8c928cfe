package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*JobStore, chi.Router, *atomic.Int32) {
	t.Helper()
	store := NewJobStore(setupTestDB(t))
	var notified atomic.Int32
	return store, Router(store, func() { notified.Add(1) }), &notified
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type enqueueResponse struct {
	Job       jobResponse `json:"job"`
	Coalesced bool        `json:"coalesced"`
}

func TestEnqueueRebuildHandler(t *testing.T) {
	_, r, notified := setupRouter(t)

	w := serve(r, http.MethodPost, "/rebuild", `{"shopId":"https://ACME.myshopify.com/","requestedBy":"alice"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var first enqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.Coalesced)
	assert.Equal(t, "acme.myshopify.com", first.Job.ShopID)
	assert.Equal(t, TriggerAPI, first.Job.Trigger)
	assert.Equal(t, "alice", first.Job.RequestedBy)
	assert.Equal(t, string(JobStateQueued), first.Job.State)
	assert.Equal(t, int32(1), notified.Load())

	w = serve(r, http.MethodPost, "/rebuild", `{"shopId":"acme.myshopify.com","trigger":"webhook"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var second enqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, 1, second.Job.Coalesced)
	assert.Equal(t, int32(1), notified.Load(), "coalesced enqueue does not wake workers")
}

func TestEnqueueRebuildHandler_AllShops(t *testing.T) {
	_, r, _ := setupRouter(t)

	w := serve(r, http.MethodPost, "/rebuild", `{"shopId":"_all","trigger":"cli"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, AllShops, resp.Job.ShopID)
	assert.Equal(t, TriggerCLI, resp.Job.Trigger)
}

func TestEnqueueRebuildHandler_BadRequest(t *testing.T) {
	_, r, notified := setupRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"shopId":`},
		{"missing shop", `{}`},
		{"invalid shop", `{"shopId":"acme..myshopify.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodPost, "/rebuild", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, int32(0), notified.Load())
}

func TestGetJobHandler(t *testing.T) {
	store, r, _ := setupRouter(t)
	job, _, err := store.Enqueue(context.Background(), NewRebuildJob(testShop, TriggerAPI, "test-user"))
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/rebuild/"+job.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, testShop, resp.ShopID)
	assert.Equal(t, "test-user", resp.RequestedBy)
	assert.Empty(t, resp.StartedAt)

	w = serve(r, http.MethodGet, "/rebuild/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsHandler(t *testing.T) {
	store, r, _ := setupRouter(t)
	ctx := context.Background()
	_, _, err := store.Enqueue(ctx, NewRebuildJob("a.myshopify.com", TriggerAPI, "test"))
	require.NoError(t, err)
	_, _, err = store.Enqueue(ctx, NewRebuildJob("b.myshopify.com", TriggerWebhook, "webhook"))
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs          []jobResponse `json:"jobs"`
		NextPageToken string        `json:"nextPageToken"`
		TotalSize     int           `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalSize)
	assert.Len(t, resp.Jobs, 2)
	assert.Empty(t, resp.NextPageToken)

	w = serve(r, http.MethodGet, "/rebuild?trigger=webhook", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalSize)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "b.myshopify.com", resp.Jobs[0].ShopID)

	w = serve(r, http.MethodGet, "/rebuild?pageToken=garbage", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCancelJobHandler(t *testing.T) {
	store, r, _ := setupRouter(t)
	ctx := context.Background()

	queued, _, err := store.Enqueue(ctx, NewRebuildJob("a.myshopify.com", TriggerAPI, "test"))
	require.NoError(t, err)
	w := serve(r, http.MethodPost, "/rebuild/"+queued.ID+":cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := store.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, got.State)

	_, _, err = store.Enqueue(ctx, NewRebuildJob("b.myshopify.com", TriggerAPI, "test"))
	require.NoError(t, err)
	running, err := store.Claim(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, running)
	w = serve(r, http.MethodPost, "/rebuild/"+running.ID+":cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(r, http.MethodPost, "/rebuild/nonexistent:cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
