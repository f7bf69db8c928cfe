package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
)

func TestCreateTemplateDefaults(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	tpl := mustTemplate(t, s, testShop, "Specs", true)

	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, 1, tpl.Version)

	got, err := s.GetTemplate(context.Background(), testShop, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Specs", got.Name)

	_, err = s.GetTemplate(context.Background(), "other.myshopify.com", tpl.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCreateTemplateRequiresShop(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	err := s.CreateTemplate(context.Background(), &Template{Name: "Specs"})
	assert.ErrorIs(t, err, lookup.ErrEmptyShopID)
}

func TestCreateAssignmentNormalizesAndDedupesTargets(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	ctx := context.Background()
	tpl := mustTemplate(t, s, testShop, "Specs", true)

	a, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID:      testShop,
		TemplateID:  tpl.ID,
		Type:        lookup.AssignmentProduct,
		ResourceIDs: []string{"gid://shopify/Product/111", "111", " 222 ", ""},
	})
	require.NoError(t, err)
	require.Len(t, a.Targets, 2)

	got, err := s.GetAssignment(ctx, testShop, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "111", got.Targets[0].ResourceID)
	assert.Equal(t, 0, got.Targets[0].Position)
	assert.Equal(t, "222", got.Targets[1].ResourceID)
	assert.Equal(t, 1, got.Targets[1].Position)
}

func TestCreateAssignmentValidation(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	ctx := context.Background()
	active := mustTemplate(t, s, testShop, "Specs", true)
	inactive := mustTemplate(t, s, testShop, "Draft", false)

	tests := []struct {
		name    string
		in      NewAssignment
		wantErr error
	}{
		{
			name:    "unknown type",
			in:      NewAssignment{ShopID: testShop, TemplateID: active.ID, Type: "VENDOR", ResourceIDs: []string{"1"}},
			wantErr: ErrInvalidAssignment,
		},
		{
			name:    "default with targets",
			in:      NewAssignment{ShopID: testShop, TemplateID: active.ID, Type: lookup.AssignmentDefault, ResourceIDs: []string{"1"}},
			wantErr: ErrInvalidAssignment,
		},
		{
			name:    "product without targets",
			in:      NewAssignment{ShopID: testShop, TemplateID: active.ID, Type: lookup.AssignmentProduct},
			wantErr: ErrInvalidAssignment,
		},
		{
			name:    "missing template",
			in:      NewAssignment{ShopID: testShop, TemplateID: "nope", Type: lookup.AssignmentDefault},
			wantErr: ErrTemplateNotFound,
		},
		{
			name:    "inactive template",
			in:      NewAssignment{ShopID: testShop, TemplateID: inactive.ID, Type: lookup.AssignmentDefault},
			wantErr: ErrTemplateInactive,
		},
		{
			name:    "no shop",
			in:      NewAssignment{TemplateID: active.ID, Type: lookup.AssignmentDefault},
			wantErr: lookup.ErrEmptyShopID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateAssignment(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateAssignmentRejectsSecondDefault(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	ctx := context.Background()
	first := mustTemplate(t, s, testShop, "Specs", true)
	second := mustTemplate(t, s, testShop, "Other specs", true)

	_, err := s.CreateAssignment(ctx, NewAssignment{ShopID: testShop, TemplateID: first.ID, Type: lookup.AssignmentDefault})
	require.NoError(t, err)

	_, err = s.CreateAssignment(ctx, NewAssignment{ShopID: testShop, TemplateID: second.ID, Type: lookup.AssignmentDefault})
	assert.ErrorIs(t, err, ErrDefaultExists)

	// Another shop may still have its own default.
	other := mustTemplate(t, s, "other.myshopify.com", "Specs", true)
	_, err = s.CreateAssignment(ctx, NewAssignment{ShopID: "other.myshopify.com", TemplateID: other.ID, Type: lookup.AssignmentDefault})
	assert.NoError(t, err)
}

func TestCreateAssignmentRejectsClaimedTarget(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	ctx := context.Background()
	first := mustTemplate(t, s, testShop, "Specs", true)
	second := mustTemplate(t, s, testShop, "Other specs", true)

	_, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: first.ID, Type: lookup.AssignmentProduct, ResourceIDs: []string{"111"},
	})
	require.NoError(t, err)

	_, err = s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: second.ID, Type: lookup.AssignmentProduct,
		ResourceIDs: []string{"222", "gid://shopify/Product/111"},
	})
	assert.ErrorIs(t, err, ErrAssignmentConflict)
	assert.Contains(t, err.Error(), "111")

	// The same id as a collection is a different resource.
	_, err = s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: second.ID, Type: lookup.AssignmentCollection, ResourceIDs: []string{"111"},
	})
	assert.NoError(t, err)
}

func TestAddTargets(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	ctx := context.Background()
	tpl := mustTemplate(t, s, testShop, "Specs", true)
	other := mustTemplate(t, s, testShop, "Other", true)

	a, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: tpl.ID, Type: lookup.AssignmentCollection, ResourceIDs: []string{"10"},
	})
	require.NoError(t, err)
	_, err = s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: other.ID, Type: lookup.AssignmentCollection, ResourceIDs: []string{"30"},
	})
	require.NoError(t, err)

	added, err := s.AddTargets(ctx, testShop, a.ID, []string{"10", "gid://shopify/Collection/20"})
	require.NoError(t, err)
	assert.Equal(t, 1, added, "ids already on the assignment are skipped")

	got, err := s.GetAssignment(ctx, testShop, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "20", got.Targets[1].ResourceID)
	assert.Equal(t, 1, got.Targets[1].Position)

	_, err = s.AddTargets(ctx, testShop, a.ID, []string{"30"})
	assert.ErrorIs(t, err, ErrAssignmentConflict)

	_, err = s.AddTargets(ctx, testShop, "missing", []string{"40"})
	assert.ErrorIs(t, err, ErrAssignmentNotFound)

	n, err := s.RemoveTarget(ctx, testShop, a.ID, "gid://shopify/Collection/20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeactivateTemplateCascades(t *testing.T) {
	s, db := setupTestStore(t, 0)
	ctx := context.Background()
	tpl := mustTemplate(t, s, testShop, "Specs", true)
	keep := mustTemplate(t, s, testShop, "Keep", true)

	_, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: tpl.ID, Type: lookup.AssignmentProduct, ResourceIDs: []string{"111", "222"},
	})
	require.NoError(t, err)
	_, err = s.CreateAssignment(ctx, NewAssignment{ShopID: testShop, TemplateID: tpl.ID, Type: lookup.AssignmentDefault})
	require.NoError(t, err)
	kept, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: keep.ID, Type: lookup.AssignmentCollection, ResourceIDs: []string{"10"},
	})
	require.NoError(t, err)

	require.NoError(t, s.SetTemplateActive(ctx, testShop, tpl.ID, false))

	got, err := s.GetTemplate(ctx, testShop, tpl.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 2, got.Version)

	var assignments []TemplateAssignment
	require.NoError(t, db.Find(&assignments).Error)
	require.Len(t, assignments, 1)
	assert.Equal(t, kept.ID, assignments[0].ID)

	var targets int64
	require.NoError(t, db.Model(&AssignmentTarget{}).Count(&targets).Error)
	assert.Equal(t, int64(1), targets)

	// The default slot is free again for another template.
	_, err = s.CreateAssignment(ctx, NewAssignment{ShopID: testShop, TemplateID: keep.ID, Type: lookup.AssignmentDefault})
	assert.NoError(t, err)
}

func TestSetTemplateActiveUnknown(t *testing.T) {
	s, _ := setupTestStore(t, 0)
	err := s.SetTemplateActive(context.Background(), testShop, "missing", true)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDeleteTemplateAndAssignment(t *testing.T) {
	s, db := setupTestStore(t, 0)
	ctx := context.Background()
	tpl := mustTemplate(t, s, testShop, "Specs", true)

	a, err := s.CreateAssignment(ctx, NewAssignment{
		ShopID: testShop, TemplateID: tpl.ID, Type: lookup.AssignmentProduct, ResourceIDs: []string{"111"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAssignment(ctx, testShop, a.ID))
	assert.ErrorIs(t, s.DeleteAssignment(ctx, testShop, a.ID), ErrAssignmentNotFound)

	var targets int64
	require.NoError(t, db.Model(&AssignmentTarget{}).Count(&targets).Error)
	assert.Equal(t, int64(0), targets)

	require.NoError(t, s.DeleteTemplate(ctx, testShop, tpl.ID))
	assert.ErrorIs(t, s.DeleteTemplate(ctx, testShop, tpl.ID), ErrTemplateNotFound)

	templates, err := s.ListTemplates(ctx, testShop)
	require.NoError(t, err)
	assert.Empty(t, templates)
}
