package lookup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/metrics"
)

// Phase is the coordinator's view of a shop.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRebuilding Phase = "rebuilding"
	PhaseCooldown   Phase = "cooldown"
)

// LockKeyPrefix namespaces the per-shop keys handed to the Locker.
const LockKeyPrefix = "template-lookup:"

// RebuildHook runs after every successful rebuild.
type RebuildHook func(ctx context.Context, shopID string, result RebuildResult)

// flight is a pending trailing rebuild shared by every request that joined
// it before it started.
type flight struct {
	done   chan struct{}
	result RebuildResult
	err    error
}

type shopState struct {
	running       bool
	cooldownUntil time.Time
	next          *flight
	// changed is closed and replaced whenever running flips to false.
	changed chan struct{}
}

// Coordinator serializes and debounces rebuilds per shop. Different shops
// never block each other.
//
// A request for an idle shop runs immediately. A request for a busy shop
// waits DebounceDelay and re-submits once; if the shop is still busy it
// joins the single pending rebuild that starts after the current one and
// its cooldown, so a burst of triggers costs at most one extra execution.
type Coordinator struct {
	rebuilder ShopRebuilder
	locker    Locker
	cfg       *CoordinatorConfig
	logger    *slog.Logger

	mu    sync.Mutex
	shops map[string]*shopState
	hooks []RebuildHook
}

// NewCoordinator creates a coordinator. locker may be nil for a single
// process deployment; the in-process state machine still guarantees one
// execution per shop.
func NewCoordinator(rebuilder ShopRebuilder, locker Locker, cfg *CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultCoordinatorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		rebuilder: rebuilder,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		shops:     make(map[string]*shopState),
	}
}

// OnRebuilt registers a hook invoked after each successful rebuild.
func (c *Coordinator) OnRebuilt(hook RebuildHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// ScheduleRebuild rebuilds the shop's index, or waits for the rebuild that
// will cover this request. The rebuild is detached from ctx cancellation
// because its effect is shared state, not a per-request artifact.
func (c *Coordinator) ScheduleRebuild(ctx context.Context, shopID string) (RebuildResult, error) {
	if shopID == "" {
		return RebuildResult{}, ErrEmptyShopID
	}
	ctx = context.WithoutCancel(ctx)

	if c.tryStart(shopID) {
		return c.execute(ctx, shopID)
	}

	c.logger.Debug("rebuild already in progress, deferring request",
		"shopID", shopID,
		"delay", c.cfg.DebounceDelay.String())
	time.Sleep(c.cfg.DebounceDelay)

	if c.tryStart(shopID) {
		return c.execute(ctx, shopID)
	}

	f, leader := c.joinPending(shopID)
	if leader {
		go c.runPending(ctx, shopID, f)
	} else {
		metrics.CoalescedRequestsTotal.Inc()
		c.logger.Debug("joined pending rebuild", "shopID", shopID)
	}

	<-f.done
	return f.result, f.err
}

// Phase reports the shop's current state.
func (c *Coordinator) Phase(shopID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.shops[shopID]
	switch {
	case !ok:
		return PhaseIdle
	case st.running:
		return PhaseRebuilding
	case time.Now().Before(st.cooldownUntil):
		return PhaseCooldown
	default:
		return PhaseIdle
	}
}

// state returns the shop's state, creating it. Must be called with c.mu held.
func (c *Coordinator) state(shopID string) *shopState {
	st, ok := c.shops[shopID]
	if !ok {
		st = &shopState{changed: make(chan struct{})}
		c.shops[shopID] = st
	}
	return st
}

// tryStart claims the shop if it is idle with nothing pending.
func (c *Coordinator) tryStart(shopID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(shopID)
	if st.running || st.next != nil || time.Now().Before(st.cooldownUntil) {
		return false
	}
	st.running = true
	return true
}

// joinPending returns the shop's pending flight. leader is true when the
// caller created it and must run it.
func (c *Coordinator) joinPending(shopID string) (*flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(shopID)
	if st.next != nil {
		return st.next, false
	}
	st.next = &flight{done: make(chan struct{})}
	return st.next, true
}

// runPending waits for the running rebuild and its cooldown, then runs the
// pending flight and publishes its result to every joined request.
func (c *Coordinator) runPending(ctx context.Context, shopID string, f *flight) {
	for {
		c.mu.Lock()
		st := c.state(shopID)
		wait := time.Until(st.cooldownUntil)
		if !st.running && wait <= 0 {
			st.running = true
			st.next = nil
			c.mu.Unlock()
			break
		}
		changed := st.changed
		running := st.running
		c.mu.Unlock()

		if running || wait <= 0 {
			<-changed
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}

	f.result, f.err = c.execute(ctx, shopID)
	close(f.done)
}

// execute runs one rebuild. The caller must have set running.
func (c *Coordinator) execute(ctx context.Context, shopID string) (RebuildResult, error) {
	defer c.finish(shopID)

	metrics.RebuildsInFlight.Inc()
	defer metrics.RebuildsInFlight.Dec()

	var result RebuildResult
	run := func() error {
		var err error
		result, err = c.rebuilder.Rebuild(ctx, shopID)
		return err
	}

	var err error
	if c.locker != nil {
		err = c.locker.WithLock(ctx, LockKeyPrefix+shopID, run)
	} else {
		err = run()
	}
	if err != nil {
		c.logger.Error("rebuild failed", "shopID", shopID, "error", err)
		return result, err
	}

	c.mu.Lock()
	hooks := append([]RebuildHook(nil), c.hooks...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, shopID, result)
	}
	return result, nil
}

// finish moves the shop into cooldown and wakes a pending flight.
func (c *Coordinator) finish(shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(shopID)
	st.running = false
	st.cooldownUntil = time.Now().Add(c.cfg.Cooldown)
	close(st.changed)
	st.changed = make(chan struct{})

	time.AfterFunc(c.cfg.Cooldown, func() { c.prune(shopID) })
}

// prune drops the state of a shop that has gone fully idle.
func (c *Coordinator) prune(shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.shops[shopID]
	if !ok || st.running || st.next != nil || time.Now().Before(st.cooldownUntil) {
		return
	}
	delete(c.shops, shopID)
}
