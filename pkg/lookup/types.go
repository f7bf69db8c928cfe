// Package lookup resolves which specification template applies to a
// product page and maintains the per-shop lookup index that makes that
// resolution a handful of indexed reads.
//
// Writes flow through Coordinator -> Engine -> Index; storefront reads flow
// through Resolver -> Index. The index for a shop is only ever replaced
// wholesale by the Engine.
package lookup

import (
	"errors"
	"time"
)

// ErrEmptyShopID is returned when an operation is called without a shop.
var ErrEmptyShopID = errors.New("shop id is required")

// AssignmentType is the resource-selection strategy of an assignment.
type AssignmentType string

const (
	AssignmentProduct    AssignmentType = "PRODUCT"
	AssignmentCollection AssignmentType = "COLLECTION"
	AssignmentDefault    AssignmentType = "DEFAULT"
)

// Valid reports whether t is one of the known assignment types.
func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentProduct, AssignmentCollection, AssignmentDefault:
		return true
	}
	return false
}

// Priority orders lookup entries. Lower values win.
type Priority int

const (
	PriorityProduct    Priority = 1
	PriorityCollection Priority = 2
	PriorityDefault    Priority = 3
)

// Priority returns the fixed priority for the assignment type.
func (t AssignmentType) Priority() Priority {
	switch t {
	case AssignmentProduct:
		return PriorityProduct
	case AssignmentCollection:
		return PriorityCollection
	default:
		return PriorityDefault
	}
}

// Target is one concrete resource referenced by a PRODUCT or COLLECTION
// assignment.
type Target struct {
	ResourceID   string
	ResourceType AssignmentType

	// IsExcluded is carried for older "everything except" assignments.
	// Rebuilds do not interpret it.
	IsExcluded bool
}

// Assignment binds one active template to a selection strategy for a shop.
type Assignment struct {
	ID         string
	ShopID     string
	TemplateID string
	Type       AssignmentType
	CreatedAt  time.Time
	Targets    []Target
}

// Entry is one row of the lookup index. Exactly one of ProductID and
// CollectionID is set for non-default rows; both are empty when IsDefault.
type Entry struct {
	ShopID       string   `json:"shopId"`
	ProductID    string   `json:"productId,omitempty"`
	CollectionID string   `json:"collectionId,omitempty"`
	TemplateID   string   `json:"templateId"`
	Priority     Priority `json:"priority"`
	IsDefault    bool     `json:"isDefault"`
}

// entryKey is the resolution key that must be unique within a shop.
type entryKey struct {
	shopID       string
	productID    string
	collectionID string
	priority     Priority
}

func (e Entry) key() entryKey {
	return entryKey{
		shopID:       e.ShopID,
		productID:    e.ProductID,
		collectionID: e.CollectionID,
		priority:     e.Priority,
	}
}

// Criteria selects a single lookup row. Set exactly one field.
type Criteria struct {
	ProductID    string
	CollectionID string
	Default      bool
}

// RebuildResult reports the outcome of one rebuild execution.
type RebuildResult struct {
	ShopID    string        `json:"shopId"`
	Rebuilt   int           `json:"rebuilt"`
	Skipped   int           `json:"skipped"`
	Conflicts int           `json:"conflicts"`
	Duration  time.Duration `json:"durationNs"`
}
