// Package server assembles the lookup, job and admin APIs into one HTTP
// handler and owns the lifecycle of the background loops.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/admin"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/audit"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/authz"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/cache"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/ha"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/jobs"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/store"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// API base paths.
const (
	LookupBasePath = "/api/lookup/v1"
	JobsBasePath   = "/api/jobs/v1"
	AdminBasePath  = "/api/admin/v1"
	AuditBasePath  = "/api/audit/v1"
)

// Server wires the lookup service to HTTP and runs the leader-only loops.
type Server struct {
	router          chi.Router
	db              *gorm.DB
	store           *store.Store
	service         *lookup.Service
	logger          *slog.Logger
	tenancyCfg      *tenancy.Config
	jobConfig       *jobs.JobConfig
	jobStore        *jobs.JobStore
	jobWorker       *jobs.WorkerPool
	auditConfig     *audit.AuditConfig
	auditStore      *audit.Store
	authorizer      authz.Authorizer
	sweeper         *lookup.Sweeper
	broadcaster     *cache.Broadcaster
	migrationLocker ha.MigrationLocker
	leaderElector   *ha.LeaderElector
	startedAt       time.Time
	initialLoadDone bool
	wg              sync.WaitGroup
	mu              sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTenancyConfig sets how the shop is resolved per request.
func WithTenancyConfig(cfg *tenancy.Config) ServerOption {
	return func(s *Server) {
		s.tenancyCfg = cfg
	}
}

// WithJobConfig enables the durable rebuild queue.
func WithJobConfig(cfg *jobs.JobConfig) ServerOption {
	return func(s *Server) {
		s.jobConfig = cfg
	}
}

// WithAuditConfig records mutating API calls when cfg.Enabled.
func WithAuditConfig(cfg *audit.AuditConfig) ServerOption {
	return func(s *Server) {
		s.auditConfig = cfg
	}
}

// WithAuthorizer checks every API call against authorizer. Health checks and
// metrics stay open.
func WithAuthorizer(authorizer authz.Authorizer) ServerOption {
	return func(s *Server) {
		s.authorizer = authorizer
	}
}

// WithSweeper sets the periodic full rebuild loop. It runs on the leader.
func WithSweeper(sw *lookup.Sweeper) ServerOption {
	return func(s *Server) {
		s.sweeper = sw
	}
}

// WithBroadcaster sets the cross-replica cache invalidation subscriber.
// It runs on every replica.
func WithBroadcaster(b *cache.Broadcaster) ServerOption {
	return func(s *Server) {
		s.broadcaster = b
	}
}

// WithMigrationLocker runs migrations under a cross-replica lock.
func WithMigrationLocker(locker ha.MigrationLocker) ServerOption {
	return func(s *Server) {
		s.migrationLocker = locker
	}
}

// WithLeaderElector restricts the singletons (job worker, sweeper, audit
// retention) to the replica holding the lease.
func WithLeaderElector(le *ha.LeaderElector) ServerOption {
	return func(s *Server) {
		s.leaderElector = le
	}
}

// NewServer creates a server. st backs the admin API and migrations; it
// may be nil when only the lookup API is served.
func NewServer(db *gorm.DB, st *store.Store, svc *lookup.Service, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		db:         db,
		store:      st,
		service:    svc,
		logger:     logger,
		tenancyCfg: tenancy.DefaultConfig(),
		startedAt:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Init migrates the schema and prepares the job queue.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		jobsEnabled := s.jobConfig != nil && s.jobConfig.Enabled
		if jobsEnabled {
			s.jobStore = jobs.NewJobStore(s.db)
		}
		auditEnabled := s.auditConfig != nil && s.auditConfig.Enabled
		if auditEnabled {
			s.auditStore = audit.NewStore(s.db)
		}

		migrateFn := func() error {
			if err := store.AutoMigrate(s.db); err != nil {
				return fmt.Errorf("migrate lookup tables: %w", err)
			}
			if jobsEnabled {
				if err := s.jobStore.AutoMigrate(); err != nil {
					return fmt.Errorf("migrate job tables: %w", err)
				}
			}
			if auditEnabled {
				if err := s.auditStore.AutoMigrate(); err != nil {
					return fmt.Errorf("migrate audit tables: %w", err)
				}
			}
			return nil
		}

		locker := s.migrationLocker
		if locker == nil {
			locker = ha.NewMigrationLocker(nil)
		}
		s.logger.Info("running migrations")
		if err := locker.WithLock(ctx, migrateFn); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		if jobsEnabled {
			s.jobWorker = jobs.NewWorkerPool(s.jobStore, s.service, s.jobConfig, s.logger.With("component", "jobs"))
		}
	}

	s.initialLoadDone = true
	return nil
}

// MountRoutes creates the HTTP router.
func (s *Server) MountRoutes() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.router = chi.NewRouter()

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenancy.ShopHeader, audit.CorrelationHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(authz.IdentityMiddleware())
	s.router.Use(audit.Middleware(s.auditStore, s.auditConfig, s.logger.With("component", "audit")))

	s.router.Group(func(r chi.Router) {
		if s.authorizer != nil {
			r.Use(authz.Middleware(s.authorizer, s.logger.With("component", "authz")))
		}

		r.Mount(LookupBasePath, lookup.Router(s.service, s.tenancyCfg, s.logger))
		s.logger.Info("mounted lookup routes", "basePath", LookupBasePath)

		if s.store != nil {
			r.Mount(AdminBasePath, admin.Router(admin.NewHandlers(s.store, s.service, s.logger), s.tenancyCfg))
			s.logger.Info("mounted admin routes", "basePath", AdminBasePath)
		}

		if s.jobStore != nil {
			var notify func()
			if s.jobWorker != nil {
				notify = s.jobWorker.Notify
			}
			r.Mount(JobsBasePath, jobs.Router(s.jobStore, notify))
			s.logger.Info("mounted job routes", "basePath", JobsBasePath)
		}

		if s.auditStore != nil {
			r.Mount(AuditBasePath, audit.Router(s.auditStore))
			s.logger.Info("mounted audit routes", "basePath", AuditBasePath)
		}
	})

	s.router.Get("/healthz", s.healthHandler)
	s.router.Get("/livez", s.healthHandler)
	s.router.Get("/readyz", s.readyHandler)
	s.router.Handle("/metrics", promhttp.Handler())

	return s.router
}

// Start launches the background loops and returns. The job worker, the
// sweeper and audit retention are singletons: they run while this replica
// leads, or unconditionally when no leader elector is configured. The
// broadcaster runs on every replica.
func (s *Server) Start(ctx context.Context) error {
	s.mu.RLock()
	broadcaster, le := s.broadcaster, s.leaderElector
	singletons := s.singletons()
	s.mu.RUnlock()

	if broadcaster != nil {
		s.goRun(func() { broadcaster.Run(ctx) })
	}

	if le == nil {
		logger := s.logger.With("component", "singletons")
		s.goRun(func() { ha.RunSingletons(ctx, singletons, logger) })
		return nil
	}

	for _, sg := range singletons {
		le.Add(sg)
	}
	le.RequireReady(func() bool {
		ready, _ := s.checkReady(ctx)
		return ready
	})
	s.goRun(func() { le.Run(ctx) })
	return nil
}

// singletons lists the loops that must run on one replica only. Must be
// called with s.mu held.
func (s *Server) singletons() []ha.Singleton {
	var out []ha.Singleton
	if s.jobWorker != nil {
		out = append(out, ha.Singleton{Name: "job-worker", Run: s.jobWorker.Run})
	}
	if s.sweeper != nil {
		out = append(out, ha.Singleton{Name: "sweeper", Run: s.sweeper.Run})
	}
	if s.auditStore != nil {
		retention := audit.NewRetentionWorker(s.auditStore, s.auditConfig.RetentionDays, s.logger.With("component", "audit"))
		out = append(out, ha.Singleton{Name: "audit-retention", Run: retention.Run})
	}
	return out
}

// Stop waits for the background loops started by Start to exit. Cancel the
// context passed to Start first.
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background loops did not stop: %w", ctx.Err())
	}
}

// Router returns the router built by MountRoutes.
func (s *Server) Router() chi.Router {
	return s.router
}

// AuditStore returns the audit store, or nil when auditing is disabled.
func (s *Server) AuditStore() *audit.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auditStore
}

// JobStore returns the rebuild job store, or nil when jobs are disabled.
func (s *Server) JobStore() *jobs.JobStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobStore
}

func (s *Server) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// checkReady reports whether migrations ran and the database answers,
// with per-component detail.
func (s *Server) checkReady(ctx context.Context) (bool, map[string]any) {
	s.mu.RLock()
	initialLoadDone := s.initialLoadDone
	s.mu.RUnlock()

	ready := true

	dbStatus := map[string]string{"status": "up"}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			ready = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	initStatus := map[string]string{"status": "complete"}
	if !initialLoadDone {
		initStatus["status"] = "pending"
		ready = false
	}

	return ready, map[string]any{
		"database":     dbStatus,
		"initial_load": initStatus,
	}
}

// readyHandler reports ready once migrations ran and the database answers.
// Leader election is reported but never affects readiness.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready, components := s.checkReady(r.Context())

	if s.leaderElector != nil {
		st := s.leaderElector.Status()
		role := "follower"
		if st.Leading {
			role = "leader"
		}
		components["leader_election"] = map[string]any{
			"status":     role,
			"identity":   st.Identity,
			"leader":     st.Leader,
			"singletons": st.Running,
		}
	} else {
		components["leader_election"] = map[string]string{"status": "not_configured"}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
