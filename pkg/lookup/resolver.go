package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/gid"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/metrics"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tracing"
)

// Match levels reported by Resolve and the resolutions metric.
const (
	LevelProduct    = "product"
	LevelCollection = "collection"
	LevelDefault    = "default"
	LevelNone       = "none"
)

// Resolution is the outcome of a resolve call.
type Resolution struct {
	TemplateID string `json:"templateId,omitempty"`
	Found      bool   `json:"found"`
	Level      string `json:"level"`
	Cached     bool   `json:"cached,omitempty"`
}

// Resolver picks the template for a product page. It reads the lookup
// index only; the single exception is the self-heal rebuild of a shop
// whose index is empty.
type Resolver struct {
	index     Index
	scheduler Scheduler
	cache     ResultCache
	logger    *slog.Logger

	healBackoff time.Duration
	healMu      sync.Mutex
	lastHeal    map[string]time.Time
}

// defaultHealBackoff is how long a shop is left alone after a self-heal.
const defaultHealBackoff = time.Minute

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSelfHeal lets the resolver schedule one rebuild, then retry once,
// when a miss coincides with an empty index for the shop.
func WithSelfHeal(s Scheduler) ResolverOption {
	return func(r *Resolver) { r.scheduler = s }
}

// WithHealBackoff sets the minimum time between self-heals of one shop.
func WithHealBackoff(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.healBackoff = d }
}

// WithResultCache memoizes resolutions until the shop's next rebuild.
func WithResultCache(c ResultCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver creates a resolver over the given index.
func NewResolver(index Index, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		index:       index,
		logger:      logger,
		healBackoff: defaultHealBackoff,
		lastHeal:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the template that applies to the given product and/or
// collection. A product match outranks a collection match, which outranks
// the shop default, regardless of which ids the caller supplied.
func (r *Resolver) Resolve(ctx context.Context, shopID, productID, collectionID string) (Resolution, error) {
	if shopID == "" {
		return Resolution{Level: LevelNone}, ErrEmptyShopID
	}

	ctx, span := tracing.StartSpan(ctx, "Resolver.Resolve", shopID)
	defer span.End()

	productID = gid.Normalize(productID)
	collectionID = gid.Normalize(collectionID)
	cacheKey := productID + "|" + collectionID

	var gen uint64
	if r.cache != nil {
		if res, ok := r.cache.Get(shopID, cacheKey); ok {
			metrics.ResolutionCacheTotal.WithLabelValues("hit").Inc()
			res.Cached = true
			return res, nil
		}
		metrics.ResolutionCacheTotal.WithLabelValues("miss").Inc()
		gen = r.cache.Generation(shopID)
	}

	res, err := r.cascade(ctx, shopID, productID, collectionID)
	if err != nil {
		return res, err
	}

	if !res.Found && r.scheduler != nil {
		healed, err := r.selfHeal(ctx, shopID)
		if err != nil {
			r.logger.Warn("self-heal rebuild failed", "shopID", shopID, "error", err)
		} else if healed {
			res, err = r.cascade(ctx, shopID, productID, collectionID)
			if err != nil {
				return res, err
			}
		}
	}

	metrics.ResolutionsTotal.WithLabelValues(res.Level).Inc()
	if r.cache != nil && !r.cache.Set(shopID, cacheKey, gen, res) {
		r.logger.Debug("discarded resolution read before an invalidation", "shopID", shopID)
	}
	return res, nil
}

// cascade performs at most three sequential index reads.
func (r *Resolver) cascade(ctx context.Context, shopID, productID, collectionID string) (Resolution, error) {
	if productID != "" {
		e, err := r.index.Find(ctx, shopID, Criteria{ProductID: productID})
		if err != nil {
			return Resolution{Level: LevelNone}, fmt.Errorf("find product entry: %w", err)
		}
		if e != nil {
			return Resolution{TemplateID: e.TemplateID, Found: true, Level: LevelProduct}, nil
		}
	}

	if collectionID != "" {
		e, err := r.index.Find(ctx, shopID, Criteria{CollectionID: collectionID})
		if err != nil {
			return Resolution{Level: LevelNone}, fmt.Errorf("find collection entry: %w", err)
		}
		if e != nil {
			return Resolution{TemplateID: e.TemplateID, Found: true, Level: LevelCollection}, nil
		}
	}

	e, err := r.index.Find(ctx, shopID, Criteria{Default: true})
	if err != nil {
		return Resolution{Level: LevelNone}, fmt.Errorf("find default entry: %w", err)
	}
	if e != nil {
		return Resolution{TemplateID: e.TemplateID, Found: true, Level: LevelDefault}, nil
	}

	return Resolution{Level: LevelNone}, nil
}

// selfHeal rebuilds the shop once if its index holds no rows at all. It
// reports whether the rebuild produced rows worth retrying against. The
// shop is only counted when its backoff window has passed.
func (r *Resolver) selfHeal(ctx context.Context, shopID string) (bool, error) {
	if !r.healDue(shopID) {
		return false, nil
	}
	n, err := r.index.Count(ctx, shopID)
	if err != nil {
		return false, fmt.Errorf("count lookup entries: %w", err)
	}
	if n > 0 || !r.claimHeal(shopID) {
		return false, nil
	}

	r.logger.Info("lookup index empty on read, rebuilding once", "shopID", shopID)
	result, err := r.scheduler.ScheduleRebuild(ctx, shopID)
	if err != nil {
		metrics.SelfHealsTotal.WithLabelValues(metrics.StatusError).Inc()
		return false, err
	}
	metrics.SelfHealsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	return result.Rebuilt > 0, nil
}

// healDue reports whether the shop is outside its backoff window without
// claiming it.
func (r *Resolver) healDue(shopID string) bool {
	r.healMu.Lock()
	defer r.healMu.Unlock()
	last, ok := r.lastHeal[shopID]
	return !ok || time.Since(last) >= r.healBackoff
}

// claimHeal allows one self-heal per shop per backoff window.
func (r *Resolver) claimHeal(shopID string) bool {
	r.healMu.Lock()
	defer r.healMu.Unlock()

	now := time.Now()
	if last, ok := r.lastHeal[shopID]; ok && now.Sub(last) < r.healBackoff {
		return false
	}
	for id, at := range r.lastHeal {
		if now.Sub(at) >= r.healBackoff {
			delete(r.lastHeal, id)
		}
	}
	r.lastHeal[shopID] = now
	return true
}
