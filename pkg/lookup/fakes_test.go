package lookup

import (
	"context"
	"sort"
	"sync"
)

// memIndex is an in-memory Index.
type memIndex struct {
	mu         sync.Mutex
	rows       map[string][]Entry
	finds      int
	counts     int
	replaceErr error
	findErr    error
}

func newMemIndex() *memIndex {
	return &memIndex{rows: make(map[string][]Entry)}
}

func (m *memIndex) Replace(_ context.Context, shopID string, entries []Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return 0, m.replaceErr
	}
	m.rows[shopID] = append([]Entry(nil), entries...)
	return len(entries), nil
}

func (m *memIndex) Find(_ context.Context, shopID string, c Criteria) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	matches := []Entry{}
	for _, e := range m.rows[shopID] {
		switch {
		case c.ProductID != "" && e.ProductID == c.ProductID,
			c.CollectionID != "" && e.CollectionID == c.CollectionID,
			c.Default && e.IsDefault:
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Priority < matches[j].Priority })
	e := matches[0]
	return &e, nil
}

func (m *memIndex) List(_ context.Context, shopID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.rows[shopID]...), nil
}

func (m *memIndex) Count(_ context.Context, shopID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts++
	return int64(len(m.rows[shopID])), nil
}

func (m *memIndex) RemoveProduct(_ context.Context, shopID, productID string) (int64, error) {
	return m.remove(shopID, func(e Entry) bool { return e.ProductID == productID })
}

func (m *memIndex) RemoveCollection(_ context.Context, shopID, collectionID string) (int64, error) {
	return m.remove(shopID, func(e Entry) bool { return e.CollectionID == collectionID })
}

func (m *memIndex) remove(shopID string, match func(Entry) bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Entry
	var n int64
	for _, e := range m.rows[shopID] {
		if match(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.rows[shopID] = kept
	return n, nil
}

func (m *memIndex) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *memIndex) countCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// pausingIndex holds the first Find open after it has read its answer
// until release is closed.
type pausingIndex struct {
	*memIndex
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingIndex(idx *memIndex) *pausingIndex {
	return &pausingIndex{memIndex: idx, read: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingIndex) Find(ctx context.Context, shopID string, c Criteria) (*Entry, error) {
	e, err := p.memIndex.Find(ctx, shopID, c)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return e, err
}

// fakeAssignments serves a fixed assignment list per shop.
type fakeAssignments struct {
	byShop map[string][]Assignment
	err    error
}

func (f *fakeAssignments) FindActiveAssignmentsWithTargets(_ context.Context, shopID string) ([]Assignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byShop[shopID], nil
}

// fakeCatalog knows a fixed set of ids. Ids in failing return an error.
type fakeCatalog struct {
	products    map[string]bool
	collections map[string]bool
	failing     map[string]bool
	calls       int
}

func (f *fakeCatalog) ProductExists(_ context.Context, _, id string) (bool, error) {
	f.calls++
	if f.failing[id] {
		return false, errCatalogDown
	}
	return f.products[id], nil
}

func (f *fakeCatalog) CollectionExists(_ context.Context, _, id string) (bool, error) {
	f.calls++
	if f.failing[id] {
		return false, errCatalogDown
	}
	return f.collections[id], nil
}

// mapCache is a ResultCache over a plain map.
type mapCache struct {
	mu   sync.Mutex
	data map[string]map[string]Resolution
	gens map[string]uint64
}

func newMapCache() *mapCache {
	return &mapCache{
		data: make(map[string]map[string]Resolution),
		gens: make(map[string]uint64),
	}
}

func (c *mapCache) Generation(shopID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[shopID]
}

func (c *mapCache) Get(shopID, key string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.data[shopID][key]
	return res, ok
}

func (c *mapCache) Set(shopID, key string, gen uint64, res Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[shopID] != gen {
		return false
	}
	if c.data[shopID] == nil {
		c.data[shopID] = make(map[string]Resolution)
	}
	c.data[shopID][key] = res
	return true
}

func (c *mapCache) InvalidateShop(shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[shopID]++
	delete(c.data, shopID)
}

func productAssignment(id, templateID string, targets ...string) Assignment {
	return assignment(id, templateID, AssignmentProduct, targets...)
}

func collectionAssignment(id, templateID string, targets ...string) Assignment {
	return assignment(id, templateID, AssignmentCollection, targets...)
}

func defaultAssignment(id, templateID string) Assignment {
	return Assignment{ID: id, TemplateID: templateID, Type: AssignmentDefault}
}

func assignment(id, templateID string, typ AssignmentType, targets ...string) Assignment {
	a := Assignment{ID: id, TemplateID: templateID, Type: typ}
	for _, t := range targets {
		a.Targets = append(a.Targets, Target{ResourceID: t, ResourceType: typ})
	}
	return a
}
