package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/audit"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/authz"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/ha"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/jobs"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/store"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

const testShop = "acme.myshopify.com"

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	db := setupDB(t)
	st := store.NewStore(db, nil, nil)
	engine := lookup.NewEngine(st, st, st, nil)
	coordinator := lookup.NewCoordinator(engine, ha.NewLocalLocker(), nil, nil)
	svc := lookup.NewService(lookup.ServiceDeps{
		Scheduler: coordinator,
		Resolver:  lookup.NewResolver(st, nil, lookup.WithSelfHeal(coordinator)),
		Index:     st,
		Shops:     st,
	}, nil, nil)
	return NewServer(db, st, svc, nil, opts...)
}

func testJobConfig() *jobs.JobConfig {
	cfg := jobs.DefaultJobConfig()
	cfg.PollInterval = 50 * time.Millisecond
	cfg.Workers = 1
	cfg.StuckAfter = 0
	cfg.Retention = 0
	return cfg
}

func request(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t)
	router := s.MountRoutes()

	w, out := request(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", out["status"])

	w, out = request(t, router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready before Init")
	assert.Equal(t, "not_ready", out["status"])

	require.NoError(t, s.Init(context.Background()))

	w, out = request(t, router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	components := out["components"].(map[string]any)
	assert.Equal(t, "up", components["database"].(map[string]any)["status"])
	assert.Equal(t, "not_configured", components["leader_election"].(map[string]any)["status"])

	w, _ = request(t, router, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	w, _ := request(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAdminAndLookupRoutes(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	shop := "?shop=" + testShop

	w, tpl := request(t, router, http.MethodPost, AdminBasePath+"/templates"+shop, `{"name":"Specs"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	templateID := tpl["id"].(string)

	w, _ = request(t, router, http.MethodPost, AdminBasePath+"/assignments"+shop,
		`{"templateId":"`+templateID+`","type":"DEFAULT"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, out := request(t, router, http.MethodGet, LookupBasePath+"/resolve"+shop+"&productId=gid://shopify/Product/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, templateID, out["templateId"])
	assert.Equal(t, lookup.LevelDefault, out["level"])

	w, out = request(t, router, http.MethodGet, LookupBasePath+"/entries"+shop, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["totalSize"])

	w, _ = request(t, router, http.MethodGet, LookupBasePath+"/resolve", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "shop is required")
}

func TestSingleShopTenancy(t *testing.T) {
	s := newTestServer(t, WithTenancyConfig(&tenancy.Config{Mode: tenancy.ModeSingle, DefaultShop: testShop}))
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	w, out := request(t, router, http.MethodGet, LookupBasePath+"/entries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testShop, out["shopId"])
}

func TestJobsDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	assert.Nil(t, s.JobStore())
	w, _ := request(t, router, http.MethodGet, JobsBasePath+"/rebuild", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRebuildJobRunsInBackground(t *testing.T) {
	s := newTestServer(t, WithJobConfig(testJobConfig()))
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	defer func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		assert.NoError(t, s.Stop(stopCtx))
	}()

	w, out := request(t, router, http.MethodPost, JobsBasePath+"/rebuild", `{"shopId":"`+testShop+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID := out["job"].(map[string]any)["id"].(string)

	require.Eventually(t, func() bool {
		job, err := s.JobStore().Get(context.Background(), jobID)
		return err == nil && job != nil && job.State == jobs.JobStateSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	w, out = request(t, router, http.MethodGet, JobsBasePath+"/rebuild/"+jobID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(jobs.JobStateSucceeded), out["state"])
}

func TestLeaderRunsSingletons(t *testing.T) {
	le := ha.NewLeaderElector(&ha.HAConfig{
		LeaseName:      "spectable-test",
		LeaseNamespace: "default",
		LeaseDuration:  2 * time.Second,
		RenewDeadline:  time.Second,
		RetryPeriod:    100 * time.Millisecond,
	}, fake.NewClientset(), "pod-a", nil)

	s := newTestServer(t, WithJobConfig(testJobConfig()), WithLeaderElector(le))
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	defer func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		assert.NoError(t, s.Stop(stopCtx))
	}()

	require.Eventually(t, func() bool {
		_, out := request(t, router, http.MethodGet, "/readyz", "")
		election := out["components"].(map[string]any)["leader_election"].(map[string]any)
		running, _ := election["singletons"].([]any)
		return election["status"] == "leader" && len(running) == 1 && running[0] == "job-worker"
	}, 5*time.Second, 50*time.Millisecond)

	w, out := request(t, router, http.MethodPost, JobsBasePath+"/rebuild", `{"shopId":"`+testShop+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID := out["job"].(map[string]any)["id"].(string)

	require.Eventually(t, func() bool {
		job, err := s.JobStore().Get(context.Background(), jobID)
		return err == nil && job != nil && job.State == jobs.JobStateSucceeded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopTimesOut(t *testing.T) {
	s := newTestServer(t)
	block := make(chan struct{})
	defer close(block)
	s.goRun(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestAuditRecordsMutations(t *testing.T) {
	s := newTestServer(t, WithAuditConfig(audit.DefaultAuditConfig()))
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	w, _ := request(t, router, http.MethodPost, AdminBasePath+"/templates?shop="+testShop, `{"name":"Specs"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = request(t, router, http.MethodGet, LookupBasePath+"/entries?shop="+testShop, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, out := request(t, router, http.MethodGet, AuditBasePath+"/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["totalSize"], "reads are not audited")

	event := out["events"].([]any)[0].(map[string]any)
	assert.Equal(t, testShop, event["shopId"])
	assert.Equal(t, "templates", event["resourceType"])
	assert.Equal(t, "create", event["action"])
	assert.Equal(t, authz.Anonymous, event["actor"])
}

func TestAuditDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	assert.Nil(t, s.AuditStore())
	w, _ := request(t, router, http.MethodGet, AuditBasePath+"/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// readOnlyAuthorizer allows reads only.
type readOnlyAuthorizer struct{}

func (readOnlyAuthorizer) Authorize(_ context.Context, req authz.AuthzRequest) (bool, error) {
	return req.Verb == authz.VerbGet || req.Verb == authz.VerbList, nil
}

func TestAuthorizerGuardsAPIs(t *testing.T) {
	s := newTestServer(t, WithAuthorizer(readOnlyAuthorizer{}))
	require.NoError(t, s.Init(context.Background()))
	router := s.MountRoutes()

	w, _ := request(t, router, http.MethodGet, LookupBasePath+"/entries?shop="+testShop, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, out := request(t, router, http.MethodPost, AdminBasePath+"/templates?shop="+testShop, `{"name":"Specs"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", out["error"])

	w, _ = request(t, router, http.MethodPost, LookupBasePath+"/rebuild?shop="+testShop, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = request(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code, "health checks bypass authorization")
}
