package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/authz"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// auditedRouter mounts a fake API behind the identity and audit middleware.
func auditedRouter(s *Store, cfg *AuditConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(authz.IdentityMiddleware())
	r.Use(Middleware(s, cfg, nil))

	r.Post("/api/admin/v1/templates", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/api/admin/v1/templates/{id}:activate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	r.Delete("/api/admin/v1/templates/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	r.Get("/api/lookup/v1/resolve", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/api/audit/v1", Router(s))
	return r
}

func send(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func listAll(t *testing.T, s *Store) []Event {
	t.Helper()
	events, _, _, err := s.List(context.Background(), ListFilter{}, 100, "")
	require.NoError(t, err)
	return events
}

func TestMiddleware_RecordsMutation(t *testing.T) {
	s := setupStore(t)
	r := auditedRouter(s, DefaultAuditConfig())

	rr := send(r, http.MethodPost, "/api/admin/v1/templates/t1:activate", map[string]string{
		authz.UserHeader:   "alice",
		tenancy.ShopHeader: testShop,
		CorrelationHeader:  "change-42",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	events := listAll(t, s)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, testShop, e.ShopID)
	assert.Equal(t, "admin", e.API)
	assert.Equal(t, "templates", e.ResourceType)
	assert.Equal(t, "t1", e.ResourceID)
	assert.Equal(t, "activate", e.Action)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.Equal(t, http.StatusOK, e.StatusCode)
	assert.Equal(t, "change-42", e.CorrelationID)
	assert.NotEmpty(t, e.RequestID)
}

func TestMiddleware_SkipsReads(t *testing.T) {
	s := setupStore(t)
	r := auditedRouter(s, DefaultAuditConfig())

	send(r, http.MethodGet, "/api/lookup/v1/resolve?shop="+testShop, nil)
	assert.Empty(t, listAll(t, s))
}

func TestMiddleware_Denied(t *testing.T) {
	s := setupStore(t)

	r := auditedRouter(s, DefaultAuditConfig())
	send(r, http.MethodDelete, "/api/admin/v1/templates/t1", nil)
	events := listAll(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeDenied, events[0].Outcome)
	assert.Equal(t, authz.Anonymous, events[0].Actor)
	assert.Empty(t, events[0].ShopID)

	cfg := DefaultAuditConfig()
	cfg.LogDenied = false
	r = auditedRouter(s, cfg)
	send(r, http.MethodDelete, "/api/admin/v1/templates/t2", nil)
	assert.Len(t, listAll(t, s), 1)
}

func TestMiddleware_Disabled(t *testing.T) {
	s := setupStore(t)
	cfg := DefaultAuditConfig()
	cfg.Enabled = false

	rr := send(auditedRouter(s, cfg), http.MethodPost, "/api/admin/v1/templates", nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, listAll(t, s))

	rr = send(auditedRouter(nil, DefaultAuditConfig()), http.MethodPost, "/api/admin/v1/templates", nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestHandlers_ListAndGet(t *testing.T) {
	s := setupStore(t)
	r := auditedRouter(s, DefaultAuditConfig())

	send(r, http.MethodPost, "/api/admin/v1/templates?shop="+testShop, map[string]string{authz.UserHeader: "alice"})
	send(r, http.MethodPost, "/api/admin/v1/templates?shop=other.myshopify.com", map[string]string{authz.UserHeader: "bob"})

	rr := send(r, http.MethodGet, "/api/audit/v1/events?actor=bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var list struct {
		Events    []eventResponse `json:"events"`
		TotalSize int             `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Events, 1)
	assert.Equal(t, 1, list.TotalSize)
	assert.Equal(t, "other.myshopify.com", list.Events[0].ShopID)
	assert.Equal(t, "create", list.Events[0].Action)

	rr = send(r, http.MethodGet, "/api/audit/v1/events/"+list.Events[0].ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var one eventResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	assert.Equal(t, "bob", one.Actor)

	rr = send(r, http.MethodGet, "/api/audit/v1/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = send(r, http.MethodGet, "/api/audit/v1/events?pageToken=garbage", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
