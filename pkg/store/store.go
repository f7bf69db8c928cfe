// Package store persists templates, assignments, the catalog mirror and
// the template lookup index with GORM. *Store implements the storage
// interfaces of package lookup.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
)

var (
	_ lookup.AssignmentReader = (*Store)(nil)
	_ lookup.Catalog          = (*Store)(nil)
	_ lookup.Index            = (*Store)(nil)
	_ lookup.ShopLister       = (*Store)(nil)
)

// Store provides database operations for the lookup domain.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB, cfg *Config, logger *slog.Logger) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultConfig().BatchSize
	}
	return &Store{db: db, batchSize: batch, logger: logger}
}

// AutoMigrate creates or updates the store's tables.
func (s *Store) AutoMigrate() error {
	return AutoMigrate(s.db)
}

// FindActiveAssignmentsWithTargets loads the shop's assignments whose
// template is active, oldest first, with targets in insertion order.
func (s *Store) FindActiveAssignmentsWithTargets(ctx context.Context, shopID string) ([]lookup.Assignment, error) {
	active := s.db.Model(&Template{}).Select("id").Where("shop_id = ? AND active = ?", shopID, true)

	var rows []TemplateAssignment
	err := s.db.WithContext(ctx).
		Where("shop_id = ? AND template_id IN (?)", shopID, active).
		Preload("Targets", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find active assignments: %w", err)
	}

	out := make([]lookup.Assignment, 0, len(rows))
	for _, r := range rows {
		a := lookup.Assignment{
			ID:         r.ID,
			ShopID:     r.ShopID,
			TemplateID: r.TemplateID,
			Type:       lookup.AssignmentType(r.Type),
			CreatedAt:  r.CreatedAt,
			Targets:    make([]lookup.Target, 0, len(r.Targets)),
		}
		for _, t := range r.Targets {
			a.Targets = append(a.Targets, lookup.Target{
				ResourceID:   t.ResourceID,
				ResourceType: lookup.AssignmentType(t.ResourceType),
				IsExcluded:   t.IsExcluded,
			})
		}
		out = append(out, a)
	}
	return out, nil
}

// ProductExists reports whether the product is in the shop's catalog mirror.
func (s *Store) ProductExists(ctx context.Context, shopID, productID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CatalogProduct{}).
		Where("shop_id = ? AND product_id = ?", shopID, productID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check product %s: %w", productID, err)
	}
	return n > 0, nil
}

// CollectionExists reports whether the collection is in the shop's catalog
// mirror.
func (s *Store) CollectionExists(ctx context.Context, shopID, collectionID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CatalogCollection{}).
		Where("shop_id = ? AND collection_id = ?", shopID, collectionID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", collectionID, err)
	}
	return n > 0, nil
}

// ShopIDs returns every shop with assignments or lookup rows. Shops that
// only have stale lookup rows are included so a full pass clears them.
func (s *Store) ShopIDs(ctx context.Context) ([]string, error) {
	shops := mapset.NewThreadUnsafeSet[string]()

	for _, model := range []any{&TemplateAssignment{}, &TemplateLookup{}} {
		var ids []string
		if err := s.db.WithContext(ctx).Model(model).Distinct().Pluck("shop_id", &ids).Error; err != nil {
			return nil, fmt.Errorf("list shops: %w", err)
		}
		shops.Append(ids...)
	}

	out := shops.ToSlice()
	sort.Strings(out)
	return out, nil
}

// Replace swaps the shop's lookup rows for entries inside one transaction,
// inserting in chunks of the configured batch size. On error the previous
// rows stay in place.
func (s *Store) Replace(ctx context.Context, shopID string, entries []lookup.Entry) (int, error) {
	rows := make([]TemplateLookup, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toLookupRow(shopID, e))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shop_id = ?", shopID).Delete(&TemplateLookup{}).Error; err != nil {
			return fmt.Errorf("delete lookup entries: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, s.batchSize).Error; err != nil {
			return fmt.Errorf("insert lookup entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace lookup index for shop %s: %w", shopID, err)
	}
	return len(rows), nil
}

// Find returns the row matching criteria, or nil if there is none.
func (s *Store) Find(ctx context.Context, shopID string, criteria lookup.Criteria) (*lookup.Entry, error) {
	q := s.db.WithContext(ctx).Where("shop_id = ?", shopID)
	switch {
	case criteria.ProductID != "":
		q = q.Where("product_id = ?", criteria.ProductID)
	case criteria.CollectionID != "":
		q = q.Where("collection_id = ?", criteria.CollectionID)
	case criteria.Default:
		q = q.Where("is_default = ?", true)
	default:
		return nil, nil
	}

	var row TemplateLookup
	if err := q.Order("priority ASC").Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find lookup entry: %w", err)
	}
	e := fromLookupRow(row)
	return &e, nil
}

// List returns the shop's rows ordered by priority.
func (s *Store) List(ctx context.Context, shopID string) ([]lookup.Entry, error) {
	var rows []TemplateLookup
	err := s.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("priority ASC, product_id ASC, collection_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list lookup entries: %w", err)
	}
	out := make([]lookup.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromLookupRow(r))
	}
	return out, nil
}

// Count returns the number of lookup rows for the shop.
func (s *Store) Count(ctx context.Context, shopID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&TemplateLookup{}).Where("shop_id = ?", shopID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count lookup entries: %w", err)
	}
	return n, nil
}

// RemoveProduct deletes the product's lookup row.
func (s *Store) RemoveProduct(ctx context.Context, shopID, productID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("shop_id = ? AND product_id = ?", shopID, productID).Delete(&TemplateLookup{})
	if res.Error != nil {
		return 0, fmt.Errorf("remove product lookup entry: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RemoveCollection deletes the collection's lookup row.
func (s *Store) RemoveCollection(ctx context.Context, shopID, collectionID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("shop_id = ? AND collection_id = ?", shopID, collectionID).Delete(&TemplateLookup{})
	if res.Error != nil {
		return 0, fmt.Errorf("remove collection lookup entry: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toLookupRow(shopID string, e lookup.Entry) TemplateLookup {
	row := TemplateLookup{
		ShopID:     shopID,
		TemplateID: e.TemplateID,
		Priority:   int(e.Priority),
		IsDefault:  e.IsDefault,
	}
	if e.ProductID != "" {
		row.ProductID = &e.ProductID
	}
	if e.CollectionID != "" {
		row.CollectionID = &e.CollectionID
	}
	if e.IsDefault {
		slot := 1
		row.DefaultSlot = &slot
	}
	return row
}

func fromLookupRow(r TemplateLookup) lookup.Entry {
	e := lookup.Entry{
		ShopID:     r.ShopID,
		TemplateID: r.TemplateID,
		Priority:   lookup.Priority(r.Priority),
		IsDefault:  r.IsDefault,
	}
	if r.ProductID != nil {
		e.ProductID = *r.ProductID
	}
	if r.CollectionID != nil {
		e.CollectionID = *r.CollectionID
	}
	return e
}
