package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/cache"
)

func seededIndex(entries ...Entry) *memIndex {
	idx := newMemIndex()
	idx.rows[testShop] = entries
	return idx
}

func productEntry(productID, templateID string) Entry {
	return Entry{ShopID: testShop, ProductID: productID, TemplateID: templateID, Priority: PriorityProduct}
}

func collectionEntry(collectionID, templateID string) Entry {
	return Entry{ShopID: testShop, CollectionID: collectionID, TemplateID: templateID, Priority: PriorityCollection}
}

func defaultEntry(templateID string) Entry {
	return Entry{ShopID: testShop, TemplateID: templateID, Priority: PriorityDefault, IsDefault: true}
}

// scriptedScheduler runs fn on every schedule call.
type scriptedScheduler struct {
	mu    sync.Mutex
	calls int
	fn    func(shopID string) (RebuildResult, error)
}

func (s *scriptedScheduler) ScheduleRebuild(_ context.Context, shopID string) (RebuildResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(shopID)
}

func TestResolver_PriorityCascade(t *testing.T) {
	idx := seededIndex(
		productEntry("1", "t-product"),
		collectionEntry("10", "t-collection"),
		defaultEntry("t-default"),
	)
	r := NewResolver(idx, nil)

	tests := []struct {
		name         string
		productID    string
		collectionID string
		wantTemplate string
		wantLevel    string
	}{
		{"product outranks collection", "1", "10", "t-product", LevelProduct},
		{"qualified product id", "gid://shopify/Product/1", "", "t-product", LevelProduct},
		{"unassigned product falls to collection", "2", "10", "t-collection", LevelCollection},
		{"collection only", "", "gid://shopify/Collection/10", "t-collection", LevelCollection},
		{"unassigned product falls to default", "2", "", "t-default", LevelDefault},
		{"nothing supplied gets default", "", "", "t-default", LevelDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), testShop, tt.productID, tt.collectionID)
			require.NoError(t, err)
			assert.True(t, res.Found)
			assert.Equal(t, tt.wantTemplate, res.TemplateID)
			assert.Equal(t, tt.wantLevel, res.Level)
		})
	}
}

func TestResolver_AtMostThreeReads(t *testing.T) {
	idx := seededIndex(productEntry("1", "t1"))
	r := NewResolver(idx, nil)

	res, err := r.Resolve(context.Background(), testShop, "2", "20")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, LevelNone, res.Level)
	assert.Equal(t, 3, idx.findCount())
}

func TestResolver_ProductHitShortCircuits(t *testing.T) {
	idx := seededIndex(productEntry("1", "t1"), defaultEntry("t-default"))
	r := NewResolver(idx, nil)

	_, err := r.Resolve(context.Background(), testShop, "1", "10")
	require.NoError(t, err)
	assert.Equal(t, 1, idx.findCount())
}

func TestResolver_ShopsAreIsolated(t *testing.T) {
	idx := seededIndex(defaultEntry("t-default"))
	r := NewResolver(idx, nil)

	res, err := r.Resolve(context.Background(), "other.myshopify.com", "1", "")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestResolver_EndToEndScenarios(t *testing.T) {
	catalog := &fakeCatalog{
		products:    map[string]bool{"111": true, "999": true},
		collections: map[string]bool{"222": true},
	}

	t.Run("product assignment resolves from qualified id", func(t *testing.T) {
		engine, idx := newTestEngine([]Assignment{productAssignment("a1", "T1", "111")}, catalog)
		_, err := engine.Rebuild(context.Background(), testShop)
		require.NoError(t, err)

		res, err := NewResolver(idx, nil).Resolve(context.Background(), testShop, "gid://shopify/Product/111", "")
		require.NoError(t, err)
		assert.Equal(t, "T1", res.TemplateID)
	})

	t.Run("collection and default assignments", func(t *testing.T) {
		engine, idx := newTestEngine([]Assignment{
			collectionAssignment("a1", "T2", "222"),
			defaultAssignment("a2", "T3"),
		}, catalog)
		_, err := engine.Rebuild(context.Background(), testShop)
		require.NoError(t, err)
		r := NewResolver(idx, nil)

		res, err := r.Resolve(context.Background(), testShop, "", "222")
		require.NoError(t, err)
		assert.Equal(t, "T2", res.TemplateID)

		res, err = r.Resolve(context.Background(), testShop, "999", "")
		require.NoError(t, err)
		assert.Equal(t, "T3", res.TemplateID)
	})
}

func TestResolver_FindErrorIsReturned(t *testing.T) {
	idx := seededIndex(defaultEntry("t1"))
	idx.findErr = errors.New("connection reset")
	r := NewResolver(idx, nil)

	res, err := r.Resolve(context.Background(), testShop, "1", "")
	assert.ErrorIs(t, err, idx.findErr)
	assert.False(t, res.Found)
}

func TestResolver_EmptyShop(t *testing.T) {
	_, err := NewResolver(newMemIndex(), nil).Resolve(context.Background(), "", "1", "")
	assert.ErrorIs(t, err, ErrEmptyShopID)
}

func TestResolver_SelfHealRebuildsEmptyIndexOnce(t *testing.T) {
	idx := newMemIndex()
	sched := &scriptedScheduler{fn: func(shopID string) (RebuildResult, error) {
		n, _ := idx.Replace(context.Background(), shopID, []Entry{defaultEntry("t-default")})
		return RebuildResult{ShopID: shopID, Rebuilt: n}, nil
	}}
	r := NewResolver(idx, nil, WithSelfHeal(sched))

	res, err := r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "t-default", res.TemplateID)
	assert.Equal(t, 1, sched.calls)
}

func TestResolver_SelfHealSkippedWhenIndexHasRows(t *testing.T) {
	idx := seededIndex(productEntry("1", "t1"))
	sched := &scriptedScheduler{fn: func(string) (RebuildResult, error) {
		return RebuildResult{}, nil
	}}
	r := NewResolver(idx, nil, WithSelfHeal(sched))

	res, err := r.Resolve(context.Background(), testShop, "2", "")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, sched.calls)
}

func TestResolver_SelfHealBacksOffPerShop(t *testing.T) {
	idx := newMemIndex()
	sched := &scriptedScheduler{fn: func(shopID string) (RebuildResult, error) {
		return RebuildResult{ShopID: shopID}, nil
	}}
	r := NewResolver(idx, nil, WithSelfHeal(sched), WithHealBackoff(50*time.Millisecond))

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(context.Background(), testShop, "1", "")
		require.NoError(t, err)
		assert.False(t, res.Found)
	}
	assert.Equal(t, 1, sched.calls)
	assert.Equal(t, 1, idx.countCalls(), "a shop inside its backoff window is not counted")

	_, err := r.Resolve(context.Background(), "other.myshopify.com", "1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, sched.calls)

	time.Sleep(60 * time.Millisecond)
	_, err = r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, sched.calls)
}

func TestResolver_SelfHealFailureStillAnswers(t *testing.T) {
	idx := newMemIndex()
	sched := &scriptedScheduler{fn: func(string) (RebuildResult, error) {
		return RebuildResult{}, errors.New("rebuild failed")
	}}
	r := NewResolver(idx, nil, WithSelfHeal(sched))

	res, err := r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, LevelNone, res.Level)
}

func TestResolver_CacheServesRepeatsAndNegatives(t *testing.T) {
	idx := seededIndex(productEntry("1", "t1"))
	results := newMapCache()
	r := NewResolver(idx, nil, WithResultCache(results))

	first, err := r.Resolve(context.Background(), testShop, "gid://shopify/Product/1", "")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "t1", second.TemplateID)
	assert.Equal(t, LevelProduct, second.Level)
	assert.Equal(t, 1, idx.findCount())

	miss, err := r.Resolve(context.Background(), testShop, "2", "")
	require.NoError(t, err)
	assert.False(t, miss.Found)
	reads := idx.findCount()

	again, err := r.Resolve(context.Background(), testShop, "2", "")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.False(t, again.Found)
	assert.Equal(t, reads, idx.findCount())

	results.InvalidateShop(testShop)
	_, err = r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.Greater(t, idx.findCount(), reads)
}

func TestResolver_CacheDropsResultReadBeforeRebuild(t *testing.T) {
	mem := seededIndex(productEntry("1", "t1"))
	idx := newPausingIndex(mem)
	results := cache.NewShopCache[Resolution](&cache.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 100})
	r := NewResolver(idx, nil, WithResultCache(results))

	done := make(chan Resolution)
	go func() {
		res, err := r.Resolve(context.Background(), testShop, "1", "")
		assert.NoError(t, err)
		done <- res
	}()

	<-idx.read
	_, err := mem.Replace(context.Background(), testShop, []Entry{productEntry("1", "t2")})
	require.NoError(t, err)
	results.InvalidateShop(testShop)
	close(idx.release)

	raced := <-done
	assert.Equal(t, "t1", raced.TemplateID)

	res, err := r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "t2", res.TemplateID)

	res, err = r.Resolve(context.Background(), testShop, "1", "")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "t2", res.TemplateID)
}
