package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/taxonomy"
)

// fixedProvider serves a small taxonomy for normalizer tests.
type fixedProvider struct{}

func (fixedProvider) ListDomains(context.Context) ([]model.Domain, error) {
	return []model.Domain{
		{Name: "Corporate", Active: true},
		{Name: "Beer", Active: true},
		{Name: "Pub", Active: true},
	}, nil
}

func (fixedProvider) ListPageTypes(context.Context, bool) ([]model.PageType, error) {
	return []model.PageType{
		{ID: "beers", Label: "Beers", Domain: "Beer", Active: true},
		{ID: "news", Label: "News", Domain: "Corporate", Active: true},
	}, nil
}

func (fixedProvider) ListCategories(context.Context, bool) ([]model.Category, error) {
	return []model.Category{
		{ID: "drink-brands", Label: "Drink Brands", PageTypeID: "beers", Active: true},
		{ID: "community", Label: "Community", PageTypeID: "news", Active: true},
	}, nil
}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	catalog := taxonomy.NewCatalog(fixedProvider{})
	require.NoError(t, catalog.Reload(context.Background()))
	return NewNormalizer(catalog)
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/Beers/Spitfire/", "/beers/spitfire"},
		{"/", "/"},
		{"beers/spitfire", "/beers/spitfire"},
		{"  /news/AGM  ", "/news/agm"},
		{"//beers", "/beers"},
		{"https://www.shepherdneame.co.uk/Beers/Spitfire/", "/beers/spitfire"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePath(tc.in), "input %q", tc.in)
	}
}

func TestNormalizePath_Idempotent(t *testing.T) {
	once := NormalizePath("/Beers/Spitfire/")
	assert.Equal(t, once, NormalizePath(once))
}

func TestNormalizeRow_CanonicalizesAgainstTaxonomy(t *testing.T) {
	n := newTestNormalizer(t)

	row := n.NormalizeRow(model.RawRow{
		RowNumber: 3,
		Domain:    "beer",
		Path:      "/Beers/Spitfire/",
		PageType:  "BEERS",
		Category:  "drink brands",
	})

	assert.Equal(t, 3, row.RowNumber)
	assert.Equal(t, "Beer", row.Domain)
	assert.Equal(t, "/beers/spitfire", row.Path)
	assert.Equal(t, "beers", row.PageType)
	assert.Equal(t, "drink-brands", row.Category)
}

func TestNormalizeRow_MatchesPageTypeByLabel(t *testing.T) {
	n := newTestNormalizer(t)

	row := n.NormalizeRow(model.RawRow{Domain: "Corporate", Path: "/news", PageType: "News", Category: "Community"})
	assert.Equal(t, "news", row.PageType)
	assert.Equal(t, "community", row.Category)
}

func TestNormalizeRow_UnmatchedValuesPassThrough(t *testing.T) {
	n := newTestNormalizer(t)

	row := n.NormalizeRow(model.RawRow{Domain: "Cider", Path: "/x", PageType: "Beers", Category: "Drink Brands"})
	// Unknown domain: nothing downstream can be scoped, values are preserved
	// for validation to report.
	assert.Equal(t, "Cider", row.Domain)
	assert.Equal(t, "Beers", row.PageType)
	assert.Equal(t, "Drink Brands", row.Category)
}

func TestNormalizeRow_CategoryScopedToPageType(t *testing.T) {
	n := newTestNormalizer(t)

	// Community belongs to news, not beers; it must not canonicalize here.
	row := n.NormalizeRow(model.RawRow{Domain: "Beer", Path: "/x", PageType: "Beers", Category: "Community"})
	assert.Equal(t, "beers", row.PageType)
	assert.Equal(t, "Community", row.Category)
}

func TestNormalizeRow_Idempotent(t *testing.T) {
	n := newTestNormalizer(t)

	raw := model.RawRow{RowNumber: 1, Domain: "beer", Path: "/Beers/", PageType: "Beers", Category: "Drink Brands"}
	once := n.NormalizeRow(raw)
	again := n.NormalizeRow(model.RawRow{
		RowNumber: once.RowNumber,
		Domain:    once.Domain,
		Path:      once.Path,
		PageType:  once.PageType,
		Category:  once.Category,
	})
	assert.Equal(t, once, again)
}
