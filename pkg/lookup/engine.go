package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/gid"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/metrics"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tracing"
)

// Skip reasons reported on the skipped-targets metric.
const (
	skipEmptyID      = "empty_id"
	skipNotInCatalog = "not_in_catalog"
	skipCatalogError = "catalog_error"
	skipTypeMismatch = "type_mismatch"
)

// Engine recomputes a shop's lookup index from its active assignments.
// It holds no per-shop state; callers serialize rebuilds of the same shop
// through a Coordinator.
type Engine struct {
	assignments AssignmentReader
	catalog     Catalog
	index       Index
	logger      *slog.Logger
}

// NewEngine creates a rebuild engine.
func NewEngine(assignments AssignmentReader, catalog Catalog, index Index, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		assignments: assignments,
		catalog:     catalog,
		index:       index,
		logger:      logger,
	}
}

// candidate is a lookup row plus the assignment that produced it.
type candidate struct {
	Entry
	assignmentID string
}

// Rebuild replaces the shop's lookup index with rows derived from the
// current assignment set. A shop without assignments ends up with an empty
// index and a zero result.
func (e *Engine) Rebuild(ctx context.Context, shopID string) (RebuildResult, error) {
	if shopID == "" {
		return RebuildResult{}, ErrEmptyShopID
	}

	ctx, span := tracing.StartSpan(ctx, "Engine.Rebuild", shopID)
	defer span.End()

	start := time.Now()
	result := RebuildResult{ShopID: shopID}

	assignments, err := e.assignments.FindActiveAssignmentsWithTargets(ctx, shopID)
	if err != nil {
		e.observe(metrics.StatusError, start)
		return result, fmt.Errorf("load assignments for shop %s: %w", shopID, err)
	}

	exists := newExistenceCache(e.catalog, shopID)
	var candidates []candidate

	for _, a := range assignments {
		a.ShopID = shopID
		switch a.Type {
		case AssignmentProduct:
			candidates = append(candidates, e.productCandidates(ctx, a, exists, &result)...)
		case AssignmentCollection:
			candidates = append(candidates, e.collectionCandidates(ctx, a, exists, &result)...)
		case AssignmentDefault:
			candidates = append(candidates, candidate{
				Entry: Entry{
					ShopID:     shopID,
					TemplateID: a.TemplateID,
					Priority:   PriorityDefault,
					IsDefault:  true,
				},
				assignmentID: a.ID,
			})
		default:
			e.logger.Warn("skipping assignment with unknown type",
				"shopID", shopID,
				"assignmentID", a.ID,
				"type", a.Type)
		}
	}

	entries, conflicts := e.dedupe(shopID, candidates)
	result.Conflicts = conflicts

	inserted, err := e.index.Replace(ctx, shopID, entries)
	if err != nil {
		e.observe(metrics.StatusError, start)
		return result, fmt.Errorf("replace lookup index for shop %s: %w", shopID, err)
	}

	result.Rebuilt = inserted
	result.Duration = time.Since(start)
	e.observe(metrics.StatusSuccess, start)
	metrics.RebuildEntries.Observe(float64(inserted))

	e.logger.Info("lookup index rebuilt",
		"shopID", shopID,
		"assignments", len(assignments),
		"rebuilt", result.Rebuilt,
		"skipped", result.Skipped,
		"conflicts", result.Conflicts,
		"duration", result.Duration.String())

	return result, nil
}

func (e *Engine) productCandidates(ctx context.Context, a Assignment, exists *existenceCache, result *RebuildResult) []candidate {
	out := make([]candidate, 0, len(a.Targets))
	for _, t := range a.Targets {
		id, ok := e.acceptTarget(a, t, result)
		if !ok {
			continue
		}
		if !e.checkExists(ctx, a, id, exists.product, result) {
			continue
		}
		out = append(out, candidate{
			Entry: Entry{
				ShopID:     a.ShopID,
				ProductID:  id,
				TemplateID: a.TemplateID,
				Priority:   PriorityProduct,
			},
			assignmentID: a.ID,
		})
	}
	return out
}

func (e *Engine) collectionCandidates(ctx context.Context, a Assignment, exists *existenceCache, result *RebuildResult) []candidate {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]candidate, 0, len(a.Targets))
	for _, t := range a.Targets {
		id, ok := e.acceptTarget(a, t, result)
		if !ok {
			continue
		}
		if !seen.Add(id) {
			continue
		}
		if !e.checkExists(ctx, a, id, exists.collection, result) {
			continue
		}
		out = append(out, candidate{
			Entry: Entry{
				ShopID:       a.ShopID,
				CollectionID: id,
				TemplateID:   a.TemplateID,
				Priority:     PriorityCollection,
			},
			assignmentID: a.ID,
		})
	}
	return out
}

// acceptTarget normalizes a target id and filters targets that cannot
// produce a row. The exclusion flag is deliberately not consulted.
func (e *Engine) acceptTarget(a Assignment, t Target, result *RebuildResult) (string, bool) {
	if t.ResourceType != "" && t.ResourceType != a.Type {
		e.logger.Warn("skipping target whose resource type does not match its assignment",
			"shopID", a.ShopID,
			"assignmentID", a.ID,
			"assignmentType", a.Type,
			"targetType", t.ResourceType,
			"resourceID", t.ResourceID)
		e.skip(result, skipTypeMismatch)
		return "", false
	}

	id := gid.Normalize(t.ResourceID)
	if id == "" {
		e.skip(result, skipEmptyID)
		return "", false
	}
	return id, true
}

func (e *Engine) checkExists(ctx context.Context, a Assignment, id string, lookup func(context.Context, string) (bool, error), result *RebuildResult) bool {
	found, err := lookup(ctx, id)
	if err != nil {
		e.logger.Warn("catalog check failed, treating target as unknown",
			"shopID", a.ShopID,
			"assignmentID", a.ID,
			"type", a.Type,
			"resourceID", id,
			"error", err)
		e.skip(result, skipCatalogError)
		return false
	}
	if !found {
		e.logger.Warn("target not found in catalog, skipping",
			"shopID", a.ShopID,
			"assignmentID", a.ID,
			"type", a.Type,
			"resourceID", id)
		e.skip(result, skipNotInCatalog)
		return false
	}
	return true
}

// dedupe collapses candidates sharing a resolution key. The last candidate
// wins; the row keeps the position of the first occurrence so output order
// is stable across identical inputs.
func (e *Engine) dedupe(shopID string, candidates []candidate) ([]Entry, int) {
	positions := make(map[entryKey]int, len(candidates))
	kept := make([]candidate, 0, len(candidates))
	conflicts := 0

	for _, c := range candidates {
		k := c.key()
		i, dup := positions[k]
		if !dup {
			positions[k] = len(kept)
			kept = append(kept, c)
			continue
		}

		prev := kept[i]
		if prev.TemplateID != c.TemplateID {
			conflicts++
			metrics.ConflictsTotal.Inc()
			e.logger.Warn("lookup key claimed by multiple templates, keeping the last assignment",
				"shopID", shopID,
				"productID", c.ProductID,
				"collectionID", c.CollectionID,
				"isDefault", c.IsDefault,
				"keptTemplateID", c.TemplateID,
				"keptAssignmentID", c.assignmentID,
				"discardedTemplateID", prev.TemplateID,
				"discardedAssignmentID", prev.assignmentID)
		} else {
			e.logger.Debug("duplicate lookup candidate for the same template",
				"shopID", shopID,
				"templateID", c.TemplateID,
				"productID", c.ProductID,
				"collectionID", c.CollectionID)
		}
		kept[i] = c
	}

	entries := make([]Entry, len(kept))
	for i, c := range kept {
		entries[i] = c.Entry
	}
	return entries, conflicts
}

func (e *Engine) skip(result *RebuildResult, reason string) {
	result.Skipped++
	metrics.SkippedTargetsTotal.WithLabelValues(reason).Inc()
}

func (e *Engine) observe(status string, start time.Time) {
	metrics.RebuildsTotal.WithLabelValues(status).Inc()
	metrics.RebuildDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// existenceCache memoizes successful catalog answers for one rebuild.
// Errors are not cached so every target gets its own attempt.
type existenceCache struct {
	catalog     Catalog
	shopID      string
	products    map[string]bool
	collections map[string]bool
}

func newExistenceCache(catalog Catalog, shopID string) *existenceCache {
	return &existenceCache{
		catalog:     catalog,
		shopID:      shopID,
		products:    make(map[string]bool),
		collections: make(map[string]bool),
	}
}

func (c *existenceCache) product(ctx context.Context, id string) (bool, error) {
	if found, ok := c.products[id]; ok {
		return found, nil
	}
	found, err := c.catalog.ProductExists(ctx, c.shopID, id)
	if err != nil {
		return false, err
	}
	c.products[id] = found
	return found, nil
}

func (c *existenceCache) collection(ctx context.Context, id string) (bool, error) {
	if found, ok := c.collections[id]; ok {
		return found, nil
	}
	found, err := c.catalog.CollectionExists(ctx, c.shopID, id)
	if err != nil {
		return false, err
	}
	c.collections[id] = found
	return found, nil
}
