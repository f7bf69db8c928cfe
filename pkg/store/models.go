package store

import (
	"time"
)

// Template is a specification template owned by one shop. Only active
// templates take part in lookup rebuilds.
type Template struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ShopID    string    `gorm:"column:shop_id;type:varchar(255);not null;index:idx_template_shop_active,priority:1"`
	Name      string    `gorm:"column:name;not null"`
	Version   int       `gorm:"column:version;not null"`
	Active    bool      `gorm:"column:active;not null;index:idx_template_shop_active,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (Template) TableName() string { return "templates" }

// TemplateAssignment binds a template to a selection strategy.
type TemplateAssignment struct {
	ID         string             `gorm:"primaryKey;column:id;type:varchar(36)"`
	TemplateID string             `gorm:"column:template_id;type:varchar(36);not null;index:idx_assignment_template"`
	ShopID     string             `gorm:"column:shop_id;type:varchar(255);not null;index:idx_assignment_shop_type,priority:1"`
	Type       string             `gorm:"column:type;type:varchar(16);not null;index:idx_assignment_shop_type,priority:2"`
	CreatedAt  time.Time          `gorm:"column:created_at;not null"`
	Targets    []AssignmentTarget `gorm:"foreignKey:AssignmentID"`
}

// TableName returns the GORM table name.
func (TemplateAssignment) TableName() string { return "template_assignments" }

// AssignmentTarget is one product or collection selected by an assignment.
// ResourceID is stored normalized.
type AssignmentTarget struct {
	ID           string `gorm:"primaryKey;column:id;type:varchar(36)"`
	AssignmentID string `gorm:"column:assignment_id;type:varchar(36);not null;index:idx_target_assignment"`
	ShopID       string `gorm:"column:shop_id;type:varchar(255);not null;index:idx_target_shop_resource,priority:1"`
	ResourceID   string `gorm:"column:resource_id;type:varchar(64);not null;index:idx_target_shop_resource,priority:3"`
	ResourceType string `gorm:"column:resource_type;type:varchar(16);not null;index:idx_target_shop_resource,priority:2"`
	// Deprecated: persisted for old rows, never interpreted.
	IsExcluded bool `gorm:"column:is_excluded;not null"`
	Position   int  `gorm:"column:position;not null"`
}

// TableName returns the GORM table name.
func (AssignmentTarget) TableName() string { return "assignment_targets" }

// CatalogProduct mirrors a product that exists in the shop's catalog.
type CatalogProduct struct {
	ShopID    string    `gorm:"primaryKey;column:shop_id;type:varchar(255)"`
	ProductID string    `gorm:"primaryKey;column:product_id;type:varchar(64)"`
	Title     string    `gorm:"column:title"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (CatalogProduct) TableName() string { return "catalog_products" }

// CatalogCollection mirrors a collection that exists in the shop's catalog.
type CatalogCollection struct {
	ShopID       string    `gorm:"primaryKey;column:shop_id;type:varchar(255)"`
	CollectionID string    `gorm:"primaryKey;column:collection_id;type:varchar(64)"`
	Title        string    `gorm:"column:title"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (CatalogCollection) TableName() string { return "catalog_collections" }

// TemplateLookup is one row of the lookup index.
//
// NULL never collides in a unique index, so DefaultSlot is 1 on the default
// row and NULL elsewhere; that lets the database hold at most one default
// per shop.
type TemplateLookup struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement;column:id"`
	ShopID       string  `gorm:"column:shop_id;type:varchar(255);not null;uniqueIndex:idx_lookup_shop_product,priority:1;uniqueIndex:idx_lookup_shop_collection,priority:1;uniqueIndex:idx_lookup_shop_default,priority:1"`
	ProductID    *string `gorm:"column:product_id;type:varchar(64);uniqueIndex:idx_lookup_shop_product,priority:2"`
	CollectionID *string `gorm:"column:collection_id;type:varchar(64);uniqueIndex:idx_lookup_shop_collection,priority:2"`
	DefaultSlot  *int    `gorm:"column:default_slot;uniqueIndex:idx_lookup_shop_default,priority:2"`
	TemplateID   string  `gorm:"column:template_id;type:varchar(36);not null"`
	Priority     int     `gorm:"column:priority;not null"`
	IsDefault    bool    `gorm:"column:is_default;not null"`
}

// TableName returns the GORM table name.
func (TemplateLookup) TableName() string { return "template_lookups" }

// allModels lists every table owned by this package, in migration order.
func allModels() []any {
	return []any{
		&Template{},
		&TemplateAssignment{},
		&AssignmentTarget{},
		&CatalogProduct{},
		&CatalogCollection{},
		&TemplateLookup{},
	}
}
