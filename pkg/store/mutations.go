package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/gid"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
)

// Sentinel errors returned by the write-side operations.
var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrTemplateInactive   = errors.New("template is not active")
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrDefaultExists is returned when a shop already has a DEFAULT
	// assignment.
	ErrDefaultExists = errors.New("shop already has a default assignment")
	// ErrAssignmentConflict is returned when a product or collection is
	// already targeted by another assignment of the same type.
	ErrAssignmentConflict = errors.New("resource already assigned to another template")
	ErrInvalidAssignment  = errors.New("invalid assignment")
)

// CreateTemplate inserts a template. ID, Version and timestamps are filled
// in when empty.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ShopID == "" {
		return lookup.ErrEmptyShopID
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate returns the shop's template or ErrTemplateNotFound.
func (s *Store) GetTemplate(ctx context.Context, shopID, templateID string) (*Template, error) {
	var t Template
	err := s.db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, templateID).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates returns the shop's templates, oldest first.
func (s *Store) ListTemplates(ctx context.Context, shopID string) ([]Template, error) {
	var out []Template
	if err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// SetTemplateActive flips the template's active flag and bumps its version.
// Deactivating deletes the template's assignments and their targets in the
// same transaction. Callers rebuild the shop afterwards.
func (s *Store) SetTemplateActive(ctx context.Context, shopID, templateID string, active bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Template{}).
			Where("shop_id = ? AND id = ?", shopID, templateID).
			Updates(map[string]any{
				"active":     active,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("update template: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTemplateNotFound
		}
		if active {
			return nil
		}
		return deleteAssignmentsOf(tx, shopID, templateID)
	})
}

// DeleteTemplate removes the template with its assignments and targets.
func (s *Store) DeleteTemplate(ctx context.Context, shopID, templateID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteAssignmentsOf(tx, shopID, templateID); err != nil {
			return err
		}
		res := tx.Where("shop_id = ? AND id = ?", shopID, templateID).Delete(&Template{})
		if res.Error != nil {
			return fmt.Errorf("delete template: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTemplateNotFound
		}
		return nil
	})
}

func deleteAssignmentsOf(tx *gorm.DB, shopID, templateID string) error {
	ids := tx.Model(&TemplateAssignment{}).Select("id").Where("shop_id = ? AND template_id = ?", shopID, templateID)
	if err := tx.Where("assignment_id IN (?)", ids).Delete(&AssignmentTarget{}).Error; err != nil {
		return fmt.Errorf("delete assignment targets: %w", err)
	}
	if err := tx.Where("shop_id = ? AND template_id = ?", shopID, templateID).Delete(&TemplateAssignment{}).Error; err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}

// NewAssignment is the input of CreateAssignment. ResourceIDs may be raw
// GIDs; they are normalized and deduplicated.
type NewAssignment struct {
	ShopID      string
	TemplateID  string
	Type        lookup.AssignmentType
	ResourceIDs []string
}

// CreateAssignment binds an active template to products, collections or
// the shop default. It rejects a second DEFAULT for the shop and any target
// already claimed by another assignment of the same type.
func (s *Store) CreateAssignment(ctx context.Context, in NewAssignment) (*TemplateAssignment, error) {
	if in.ShopID == "" {
		return nil, lookup.ErrEmptyShopID
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAssignment, in.Type)
	}
	ids := normalizeIDs(in.ResourceIDs)
	if in.Type == lookup.AssignmentDefault && len(ids) > 0 {
		return nil, fmt.Errorf("%w: DEFAULT assignments take no targets", ErrInvalidAssignment)
	}
	if in.Type != lookup.AssignmentDefault && len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s assignments need at least one target", ErrInvalidAssignment, in.Type)
	}

	a := &TemplateAssignment{
		ID:         uuid.NewString(),
		TemplateID: in.TemplateID,
		ShopID:     in.ShopID,
		Type:       string(in.Type),
		CreatedAt:  time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Template
		if err := tx.Where("shop_id = ? AND id = ?", in.ShopID, in.TemplateID).Take(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTemplateNotFound
			}
			return fmt.Errorf("get template: %w", err)
		}
		if !t.Active {
			return ErrTemplateInactive
		}

		if in.Type == lookup.AssignmentDefault {
			var n int64
			if err := tx.Model(&TemplateAssignment{}).
				Where("shop_id = ? AND type = ?", in.ShopID, string(lookup.AssignmentDefault)).
				Count(&n).Error; err != nil {
				return fmt.Errorf("check default assignment: %w", err)
			}
			if n > 0 {
				return ErrDefaultExists
			}
		} else if err := checkTargetConflicts(tx, in.ShopID, "", in.Type, ids); err != nil {
			return err
		}

		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		targets := buildTargets(a, in.Type, ids, 0)
		if len(targets) > 0 {
			if err := tx.Create(&targets).Error; err != nil {
				return fmt.Errorf("create assignment targets: %w", err)
			}
		}
		a.Targets = targets
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAssignment returns the assignment with its targets.
func (s *Store) GetAssignment(ctx context.Context, shopID, assignmentID string) (*TemplateAssignment, error) {
	var a TemplateAssignment
	err := s.db.WithContext(ctx).
		Preload("Targets", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("shop_id = ? AND id = ?", shopID, assignmentID).
		Take(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

// AddTargets appends targets to a PRODUCT or COLLECTION assignment. Ids
// already on the assignment are ignored.
func (s *Store) AddTargets(ctx context.Context, shopID, assignmentID string, resourceIDs []string) (int, error) {
	ids := normalizeIDs(resourceIDs)
	added := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a TemplateAssignment
		if err := tx.Preload("Targets").Where("shop_id = ? AND id = ?", shopID, assignmentID).Take(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssignmentNotFound
			}
			return fmt.Errorf("get assignment: %w", err)
		}
		typ := lookup.AssignmentType(a.Type)
		if typ == lookup.AssignmentDefault {
			return fmt.Errorf("%w: DEFAULT assignments take no targets", ErrInvalidAssignment)
		}

		existing := mapset.NewThreadUnsafeSet[string]()
		next := 0
		for _, t := range a.Targets {
			existing.Add(t.ResourceID)
			if t.Position >= next {
				next = t.Position + 1
			}
		}
		fresh := make([]string, 0, len(ids))
		for _, id := range ids {
			if !existing.Contains(id) {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			return nil
		}

		if err := checkTargetConflicts(tx, shopID, a.ID, typ, fresh); err != nil {
			return err
		}
		targets := buildTargets(&a, typ, fresh, next)
		if err := tx.Create(&targets).Error; err != nil {
			return fmt.Errorf("create assignment targets: %w", err)
		}
		added = len(targets)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// RemoveTarget drops one target from an assignment.
func (s *Store) RemoveTarget(ctx context.Context, shopID, assignmentID, resourceID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("shop_id = ? AND assignment_id = ? AND resource_id = ?", shopID, assignmentID, gid.Normalize(resourceID)).
		Delete(&AssignmentTarget{})
	if res.Error != nil {
		return 0, fmt.Errorf("remove assignment target: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAssignment removes an assignment and its targets.
func (s *Store) DeleteAssignment(ctx context.Context, shopID, assignmentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shop_id = ? AND assignment_id = ?", shopID, assignmentID).Delete(&AssignmentTarget{}).Error; err != nil {
			return fmt.Errorf("delete assignment targets: %w", err)
		}
		res := tx.Where("shop_id = ? AND id = ?", shopID, assignmentID).Delete(&TemplateAssignment{})
		if res.Error != nil {
			return fmt.Errorf("delete assignment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAssignmentNotFound
		}
		return nil
	})
}

// checkTargetConflicts fails with ErrAssignmentConflict if any id is
// targeted by an assignment other than exceptID with the same type.
func checkTargetConflicts(tx *gorm.DB, shopID, exceptID string, typ lookup.AssignmentType, ids []string) error {
	q := tx.Model(&AssignmentTarget{}).
		Where("shop_id = ? AND resource_type = ? AND resource_id IN ?", shopID, string(typ), ids)
	if exceptID != "" {
		q = q.Where("assignment_id <> ?", exceptID)
	}
	var taken []AssignmentTarget
	if err := q.Limit(1).Find(&taken).Error; err != nil {
		return fmt.Errorf("check target conflicts: %w", err)
	}
	if len(taken) > 0 {
		return fmt.Errorf("%w: %s %s is held by assignment %s",
			ErrAssignmentConflict, typ, taken[0].ResourceID, taken[0].AssignmentID)
	}
	return nil
}

func buildTargets(a *TemplateAssignment, typ lookup.AssignmentType, ids []string, start int) []AssignmentTarget {
	out := make([]AssignmentTarget, 0, len(ids))
	for i, id := range ids {
		out = append(out, AssignmentTarget{
			ID:           uuid.NewString(),
			AssignmentID: a.ID,
			ShopID:       a.ShopID,
			ResourceID:   id,
			ResourceType: string(typ),
			Position:     start + i,
		})
	}
	return out
}

// normalizeIDs normalizes ids, dropping empties and duplicates while
// keeping first-seen order.
func normalizeIDs(raw []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		id := gid.Normalize(r)
		if id == "" || !seen.Add(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// UpsertProduct records a product in the catalog mirror.
func (s *Store) UpsertProduct(ctx context.Context, shopID, productID, title string) error {
	row := CatalogProduct{ShopID: shopID, ProductID: gid.Normalize(productID), Title: title, UpdatedAt: time.Now()}
	if row.ShopID == "" {
		return lookup.ErrEmptyShopID
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product from the catalog mirror.
func (s *Store) DeleteProduct(ctx context.Context, shopID, productID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("shop_id = ? AND product_id = ?", shopID, gid.Normalize(productID)).
		Delete(&CatalogProduct{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete product: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpsertCollection records a collection in the catalog mirror.
func (s *Store) UpsertCollection(ctx context.Context, shopID, collectionID, title string) error {
	row := CatalogCollection{ShopID: shopID, CollectionID: gid.Normalize(collectionID), Title: title, UpdatedAt: time.Now()}
	if row.ShopID == "" {
		return lookup.ErrEmptyShopID
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "collection_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

// DeleteCollection removes a collection from the catalog mirror.
func (s *Store) DeleteCollection(ctx context.Context, shopID, collectionID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("shop_id = ? AND collection_id = ?", shopID, gid.Normalize(collectionID)).
		Delete(&CatalogCollection{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete collection: %w", res.Error)
	}
	return res.RowsAffected, nil
}
