// Package main provides the spectable server: the lookup, admin and rebuild
// job APIs plus the leader-only background loops, in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/audit"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/authz"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/cache"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/ha"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/jobs"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/server"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/store"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tracing"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "spectable-server",
		Short:        "Serve specification template resolution for storefronts",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), loadOptions(v))
		},
	}
	bindFlags(cmd.Flags(), v)
	return cmd
}

// bindFlags registers the server flags and binds each to viper, so every
// flag can also be set as SPECTABLE_<FLAG_NAME>.
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("db-type", "", "Database type (postgres, mysql or sqlite); overrides SPECTABLE_DB_TYPE")
	fs.String("db-dsn", "", "Database connection string; overrides SPECTABLE_DB_DSN")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	v.SetEnvPrefix("SPECTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
}

// options are the process-level settings. Component settings come from the
// per-package *ConfigFromEnv loaders.
type options struct {
	listen          string
	dbType          string
	dbDSN           string
	logLevel        slog.Level
	shutdownTimeout time.Duration
}

func loadOptions(v *viper.Viper) options {
	opts := options{
		listen:          v.GetString("listen"),
		dbType:          v.GetString("db-type"),
		dbDSN:           v.GetString("db-dsn"),
		shutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	if err := opts.logLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		opts.logLevel = slog.LevelInfo
	}
	return opts
}

func run(ctx context.Context, opts options) error {
	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: opts.logLevel,
	}))
	slog.SetDefault(logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.ConfigFromEnv())
	if err != nil {
		glog.Fatalf("Failed to set up tracing: %v", err)
	}

	storeCfg := store.ConfigFromEnv()
	if opts.dbType != "" {
		storeCfg.Type = opts.dbType
	}
	if opts.dbDSN != "" {
		storeCfg.DSN = opts.dbDSN
	}
	db, err := store.Open(storeCfg)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.NewStore(db, storeCfg, logger.With("component", "store"))

	haCfg := ha.HAConfigFromEnv()
	var rdb redis.UniversalClient
	if haCfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     haCfg.RedisAddr,
			Password: haCfg.RedisPassword,
			DB:       haCfg.RedisDB,
		})
		defer rdb.Close()
	}

	locker, err := ha.NewKeyedLocker(haCfg, db, rdb, logger.With("component", "lock"))
	if err != nil {
		glog.Fatalf("Failed to create shop locker: %v", err)
	}

	serviceCfg := lookup.ServiceConfigFromEnv()
	cacheCfg := cache.CacheConfigFromEnv()

	engine := lookup.NewEngine(st, st, st, logger.With("component", "engine"))
	coordinator := lookup.NewCoordinator(engine, locker, lookup.CoordinatorConfigFromEnv(), logger.With("component", "coordinator"))

	resolverOpts := []lookup.ResolverOption{}
	if serviceCfg.SelfHeal {
		resolverOpts = append(resolverOpts, lookup.WithSelfHeal(coordinator))
	}

	var serverOpts []server.ServerOption
	var resultCache *cache.ShopCache[lookup.Resolution]
	if cacheCfg.Enabled {
		resultCache = cache.NewShopCache[lookup.Resolution](cacheCfg)
		resolverOpts = append(resolverOpts, lookup.WithResultCache(resultCache))

		if rdb != nil && cacheCfg.BroadcastChannel != "" {
			broadcaster := cache.NewBroadcaster(rdb, cacheCfg.BroadcastChannel, resultCache, logger.With("component", "cache"))
			coordinator.OnRebuilt(func(ctx context.Context, shopID string, _ lookup.RebuildResult) {
				if err := broadcaster.Publish(ctx, shopID); err != nil {
					logger.Warn("cache invalidation broadcast failed", "shopID", shopID, "error", err)
				}
			})
			serverOpts = append(serverOpts, server.WithBroadcaster(broadcaster))
		} else {
			coordinator.OnRebuilt(func(_ context.Context, shopID string, _ lookup.RebuildResult) {
				resultCache.InvalidateShop(shopID)
			})
		}
	}

	deps := lookup.ServiceDeps{
		Scheduler: coordinator,
		Resolver:  lookup.NewResolver(st, logger.With("component", "resolver"), resolverOpts...),
		Index:     st,
		Shops:     st,
	}
	if resultCache != nil {
		deps.Cache = resultCache
	}
	svc := lookup.NewService(deps, serviceCfg, logger)

	jobCfg, err := jobs.JobConfigFromEnv()
	if err != nil {
		glog.Fatalf("Invalid job config: %v", err)
	}
	auditCfg := audit.AuditConfigFromEnv()
	serverOpts = append(serverOpts,
		server.WithTenancyConfig(tenancy.ConfigFromEnv()),
		server.WithJobConfig(jobCfg),
		server.WithSweeper(lookup.NewSweeper(svc, serviceCfg.SweepInterval, logger.With("component", "sweeper"))),
		server.WithAuditConfig(auditCfg),
	)
	if haCfg.MigrationLockEnabled {
		serverOpts = append(serverOpts, server.WithMigrationLocker(ha.NewMigrationLocker(db)))
	}

	authzCfg, err := authz.ConfigFromEnv()
	if err != nil {
		glog.Fatalf("Invalid authorization config: %v", err)
	}

	var clientset kubernetes.Interface
	if haCfg.LeaderElectionEnabled || authzCfg.Mode == authz.AuthzModeSAR {
		k8sCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		clientset, err = kubernetes.NewForConfig(k8sCfg)
		if err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
	}
	if haCfg.LeaderElectionEnabled {
		le := ha.NewLeaderElector(haCfg, clientset, haCfg.Identity, logger.With("component", "leader"))
		serverOpts = append(serverOpts, server.WithLeaderElector(le))
	}
	if authzCfg.Mode == authz.AuthzModeSAR {
		authorizer := authz.NewCachedAuthorizer(authz.NewSARAuthorizer(clientset), authzCfg.CacheTTL)
		serverOpts = append(serverOpts, server.WithAuthorizer(authorizer))
	}

	srv := server.NewServer(db, st, svc, logger, serverOpts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	router := srv.MountRoutes()
	if err := srv.Start(ctx); err != nil {
		glog.Fatalf("Failed to start background loops: %v", err)
	}

	logger.Info("spectable server ready",
		"listen", opts.listen,
		"dbType", storeCfg.Type,
		"lockBackend", haCfg.LockBackend,
		"leaderElection", haCfg.LeaderElectionEnabled,
		"cache", cacheCfg.Enabled,
		"authz", authzCfg.Mode,
		"audit", auditCfg.Enabled)

	httpServer := &http.Server{
		Addr:              opts.listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("background loop shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("spectable server stopped")
	return nil
}
