package ha

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Singleton is a background loop that must run on one replica at a time,
// such as the rebuild job worker, the full-rebuild sweeper or audit
// retention. Run must return once ctx is cancelled.
type Singleton struct {
	Name string
	Run  func(ctx context.Context)
}

// singletonGroup runs a fixed set of singletons and tracks which are live.
type singletonGroup struct {
	members []Singleton
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func newSingletonGroup(members []Singleton, logger *slog.Logger) *singletonGroup {
	return &singletonGroup{members: members, logger: logger, running: make(map[string]bool)}
}

// run blocks until every member has returned.
func (g *singletonGroup) run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range g.members {
		wg.Add(1)
		go func(m Singleton) {
			defer wg.Done()
			g.set(m.Name, true)
			defer g.set(m.Name, false)
			g.logger.Info("singleton started", "singleton", m.Name)
			m.Run(ctx)
			g.logger.Info("singleton stopped", "singleton", m.Name)
		}(m)
	}
	wg.Wait()
}

func (g *singletonGroup) set(name string, live bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if live {
		g.running[name] = true
	} else {
		delete(g.running, name)
	}
}

func (g *singletonGroup) names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.running))
	for n := range g.running {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunSingletons runs every singleton in this process until ctx is
// cancelled. It is the single-replica counterpart of LeaderElector.Run.
func RunSingletons(ctx context.Context, singletons []Singleton, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	newSingletonGroup(singletons, logger).run(ctx)
}

// LeaderStatus is a point-in-time view of this replica's election state.
type LeaderStatus struct {
	Identity string   `json:"identity"`
	Leader   string   `json:"leader,omitempty"`
	Leading  bool     `json:"leading"`
	Ready    bool     `json:"ready"`
	Running  []string `json:"running,omitempty"`
}

// LeaderElector campaigns for a Kubernetes Lease and runs the registered
// singletons while it holds it. A replica only campaigns once its
// readiness check passes, and rejoins the election after losing the lease.
type LeaderElector struct {
	config   *HAConfig
	client   kubernetes.Interface
	identity string
	logger   *slog.Logger

	group *singletonGroup
	ready func() bool

	mu       sync.RWMutex
	leading  bool
	isReady  bool
	observed string
}

// NewLeaderElector creates a LeaderElector. identity must be unique per
// replica, typically the pod name.
func NewLeaderElector(cfg *HAConfig, client kubernetes.Interface, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		client:   client,
		identity: identity,
		logger:   logger,
		group:    newSingletonGroup(nil, logger),
	}
}

// Add registers a singleton. Call before Run.
func (le *LeaderElector) Add(s Singleton) {
	le.group.members = append(le.group.members, s)
}

// RequireReady holds off campaigning until ready reports true.
func (le *LeaderElector) RequireReady(ready func() bool) {
	le.ready = ready
}

// IsLeader returns true while this replica holds the lease.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.leading
}

// Status reports the election state and the singletons running here.
func (le *LeaderElector) Status() LeaderStatus {
	le.mu.RLock()
	st := LeaderStatus{
		Identity: le.identity,
		Leader:   le.observed,
		Leading:  le.leading,
		Ready:    le.isReady,
	}
	le.mu.RUnlock()
	st.Running = le.group.names()
	return st
}

// Run blocks until ctx is cancelled and every singleton has stopped.
func (le *LeaderElector) Run(ctx context.Context) {
	if !le.waitReady(ctx) {
		return
	}

	for {
		le.campaign(ctx)
		if ctx.Err() != nil {
			return
		}
		le.logger.Info("rejoining leader election", "identity", le.identity)
		select {
		case <-ctx.Done():
			return
		case <-time.After(le.config.RetryPeriod):
		}
	}
}

// waitReady reports false if ctx ended first.
func (le *LeaderElector) waitReady(ctx context.Context) bool {
	if le.ready != nil && !le.ready() {
		le.logger.Info("waiting for readiness before campaigning", "identity", le.identity)
		ticker := time.NewTicker(le.config.RetryPeriod)
		defer ticker.Stop()
		for !le.ready() {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
			}
		}
	}
	le.mu.Lock()
	le.isReady = true
	le.mu.Unlock()
	return true
}

// campaign runs one election round; it returns when the lease is lost or
// ctx is cancelled, after the singletons have stopped.
func (le *LeaderElector) campaign(ctx context.Context) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      le.config.LeaseName,
			Namespace: le.config.LeaseNamespace,
		},
		Client:     le.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: le.identity},
	}

	le.logger.Info("campaigning for leadership",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"namespace", le.config.LeaseNamespace,
		"singletons", len(le.group.members))

	// The started callback runs on its own goroutine and may fire after
	// RunOrDie returned; round guards the WaitGroup against that.
	var (
		round      sync.Mutex
		roundEnded bool
		singletons sync.WaitGroup
	)
	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   le.config.LeaseDuration,
		RenewDeadline:   le.config.RenewDeadline,
		RetryPeriod:     le.config.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				round.Lock()
				if roundEnded {
					round.Unlock()
					return
				}
				singletons.Add(1)
				round.Unlock()
				defer singletons.Done()
				le.setLeading(true)
				le.logger.Info("elected as leader, starting singletons", "identity", le.identity)
				le.group.run(leadCtx)
			},
			OnStoppedLeading: func() {
				le.setLeading(false)
				le.logger.Info("lost leadership, singletons stopping", "identity", le.identity)
			},
			OnNewLeader: func(identity string) {
				le.mu.Lock()
				le.observed = identity
				le.mu.Unlock()
				if identity != le.identity {
					le.logger.Info("following leader", "leader", identity)
				}
			},
		},
	})
	round.Lock()
	roundEnded = true
	round.Unlock()
	singletons.Wait()
}

func (le *LeaderElector) setLeading(v bool) {
	le.mu.Lock()
	le.leading = v
	le.mu.Unlock()
}
