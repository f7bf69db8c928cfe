package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/gid"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tracing"
)

// ShopOutcome is one shop's line in a RebuildAllReport.
type ShopOutcome struct {
	ShopID  string `json:"shopId"`
	Rebuilt int    `json:"rebuilt"`
	Error   string `json:"error,omitempty"`
}

// RebuildAllReport summarizes a RebuildAllShops pass.
type RebuildAllReport struct {
	Shops      []ShopOutcome `json:"shops"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// ServiceDeps are the collaborators of a Service. Cache is optional.
type ServiceDeps struct {
	Scheduler Scheduler
	Resolver  *Resolver
	Index     Index
	Shops     ShopLister
	Cache     ResultCache
}

// Service is the outward face of the lookup core: mutation paths call
// RebuildTemplateLookup, storefront renders call GetTemplateFromLookup.
type Service struct {
	scheduler Scheduler
	resolver  *Resolver
	index     Index
	shops     ShopLister
	cache     ResultCache
	cfg       *ServiceConfig
	logger    *slog.Logger
}

// NewService creates a lookup service.
func NewService(deps ServiceDeps, cfg *ServiceConfig, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scheduler: deps.Scheduler,
		resolver:  deps.Resolver,
		index:     deps.Index,
		shops:     deps.Shops,
		cache:     deps.Cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// RebuildTemplateLookup rebuilds the shop's index through the coordinator.
// Call it after any template, assignment or target mutation.
func (s *Service) RebuildTemplateLookup(ctx context.Context, shopID string) (RebuildResult, error) {
	return s.scheduler.ScheduleRebuild(ctx, shopID)
}

// GetTemplateFromLookup returns the template for a storefront render. Any
// failure is logged and reported as no template.
func (s *Service) GetTemplateFromLookup(ctx context.Context, shopID, productID, collectionID string) (string, bool) {
	res, err := s.resolver.Resolve(ctx, shopID, productID, collectionID)
	if err != nil {
		s.logger.Warn("template resolution failed, rendering without template",
			"shopID", shopID,
			"productID", productID,
			"collectionID", collectionID,
			"traceID", tracing.TraceID(ctx),
			"error", err)
		return "", false
	}
	return res.TemplateID, res.Found
}

// Resolve exposes the full resolution, including the match level.
func (s *Service) Resolve(ctx context.Context, shopID, productID, collectionID string) (Resolution, error) {
	return s.resolver.Resolve(ctx, shopID, productID, collectionID)
}

// RebuildAllShops rebuilds every known shop with bounded concurrency. Each
// shop succeeds or fails on its own; the returned error only reports a
// failure to enumerate shops.
func (s *Service) RebuildAllShops(ctx context.Context) (RebuildAllReport, error) {
	start := time.Now()

	shopIDs, err := s.shops.ShopIDs(ctx)
	if err != nil {
		return RebuildAllReport{}, fmt.Errorf("list shops: %w", err)
	}
	sort.Strings(shopIDs)

	limit := s.cfg.RebuildAllConcurrency
	if limit <= 0 {
		limit = 1
	}

	outcomes := make([]ShopOutcome, len(shopIDs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, shopID := range shopIDs {
		outcomes[i].ShopID = shopID

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i].Error = ctx.Err().Error()
			continue
		}

		wg.Add(1)
		go func(i int, shopID string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := s.scheduler.ScheduleRebuild(ctx, shopID)
			if err != nil {
				outcomes[i].Error = err.Error()
				return
			}
			outcomes[i].Rebuilt = result.Rebuilt
		}(i, shopID)
	}
	wg.Wait()

	elapsed := time.Since(start)
	report := RebuildAllReport{Shops: outcomes, Duration: elapsed, DurationMs: elapsed.Milliseconds()}
	for _, o := range outcomes {
		if o.Error != "" {
			report.Failed++
			s.logger.Error("shop rebuild failed during full pass", "shopID", o.ShopID, "error", o.Error)
			continue
		}
		report.Succeeded++
	}

	s.logger.Info("rebuilt all shops",
		"shops", len(shopIDs),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration.String())

	return report, nil
}

// ProductDeleted drops the product's row after it left the catalog. The
// next rebuild would drop it too; this just closes the window.
func (s *Service) ProductDeleted(ctx context.Context, shopID, productID string) (int64, error) {
	if shopID == "" {
		return 0, ErrEmptyShopID
	}
	id := gid.Normalize(productID)
	if id == "" {
		return 0, nil
	}
	n, err := s.index.RemoveProduct(ctx, shopID, id)
	if err != nil {
		return 0, fmt.Errorf("remove product %s from lookup index: %w", id, err)
	}
	s.invalidate(shopID, n)
	return n, nil
}

// CollectionDeleted is the collection counterpart of ProductDeleted.
func (s *Service) CollectionDeleted(ctx context.Context, shopID, collectionID string) (int64, error) {
	if shopID == "" {
		return 0, ErrEmptyShopID
	}
	id := gid.Normalize(collectionID)
	if id == "" {
		return 0, nil
	}
	n, err := s.index.RemoveCollection(ctx, shopID, id)
	if err != nil {
		return 0, fmt.Errorf("remove collection %s from lookup index: %w", id, err)
	}
	s.invalidate(shopID, n)
	return n, nil
}

// phaser is implemented by Coordinator.
type phaser interface {
	Phase(shopID string) Phase
}

// RebuildPhase reports whether the shop is rebuilding or cooling down.
// Schedulers that keep no per-shop state always report idle.
func (s *Service) RebuildPhase(shopID string) Phase {
	if p, ok := s.scheduler.(phaser); ok {
		return p.Phase(shopID)
	}
	return PhaseIdle
}

// Entries lists the shop's lookup rows.
func (s *Service) Entries(ctx context.Context, shopID string) ([]Entry, error) {
	if shopID == "" {
		return nil, ErrEmptyShopID
	}
	return s.index.List(ctx, shopID)
}

func (s *Service) invalidate(shopID string, removed int64) {
	if removed == 0 || s.cache == nil {
		return
	}
	s.cache.InvalidateShop(shopID)
}
