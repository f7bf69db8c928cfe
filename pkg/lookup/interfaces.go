package lookup

import "context"

// AssignmentReader reads the assignments of active templates for a shop,
// ordered by creation time with targets in insertion order.
type AssignmentReader interface {
	FindActiveAssignmentsWithTargets(ctx context.Context, shopID string) ([]Assignment, error)
}

// Catalog answers whether a normalized resource id exists in the shop's
// catalog mirror.
type Catalog interface {
	ProductExists(ctx context.Context, shopID, productID string) (bool, error)
	CollectionExists(ctx context.Context, shopID, collectionID string) (bool, error)
}

// Index is the storage behind the lookup table.
//
// Replace must be atomic-or-stale: a concurrent reader sees either the rows
// from before the call or the rows passed in, never an empty table caused
// by the delete having committed before the insert.
type Index interface {
	Replace(ctx context.Context, shopID string, entries []Entry) (int, error)
	Find(ctx context.Context, shopID string, criteria Criteria) (*Entry, error)
	List(ctx context.Context, shopID string) ([]Entry, error)
	Count(ctx context.Context, shopID string) (int64, error)
	RemoveProduct(ctx context.Context, shopID, productID string) (int64, error)
	RemoveCollection(ctx context.Context, shopID, collectionID string) (int64, error)
}

// ShopLister enumerates every shop that has assignments or index rows.
type ShopLister interface {
	ShopIDs(ctx context.Context) ([]string, error)
}

// ShopRebuilder performs one rebuild. Engine is the production
// implementation.
type ShopRebuilder interface {
	Rebuild(ctx context.Context, shopID string) (RebuildResult, error)
}

// Scheduler requests a coordinated rebuild. Coordinator is the production
// implementation.
type Scheduler interface {
	ScheduleRebuild(ctx context.Context, shopID string) (RebuildResult, error)
}

// Locker serializes work on a key across processes. Implementations live in
// package ha.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// ResultCache memoizes resolutions per shop, misses included.
//
// Set must drop res when the shop has been invalidated since gen was read
// from Generation.
type ResultCache interface {
	Get(shopID, key string) (Resolution, bool)
	Generation(shopID string) uint64
	Set(shopID, key string, gen uint64, res Resolution) bool
	InvalidateShop(shopID string)
}
