package taxonomy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schema-cli/internal/model"
)

// staticProvider serves a fixed taxonomy for tests.
type staticProvider struct {
	domains    []model.Domain
	pageTypes  []model.PageType
	categories []model.Category
}

func (p *staticProvider) ListDomains(context.Context) ([]model.Domain, error) {
	return p.domains, nil
}

func (p *staticProvider) ListPageTypes(_ context.Context, activeOnly bool) ([]model.PageType, error) {
	if !activeOnly {
		return p.pageTypes, nil
	}
	var out []model.PageType
	for _, pt := range p.pageTypes {
		if pt.Active {
			out = append(out, pt)
		}
	}
	return out, nil
}

func (p *staticProvider) ListCategories(_ context.Context, activeOnly bool) ([]model.Category, error) {
	if !activeOnly {
		return p.categories, nil
	}
	var out []model.Category
	for _, c := range p.categories {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func testProvider() *staticProvider {
	return &staticProvider{
		domains: []model.Domain{
			{Name: "Corporate", Active: true},
			{Name: "Beer", Active: true},
			{Name: "Pub", Active: true},
		},
		pageTypes: []model.PageType{
			{ID: "beers", Label: "Beers", Domain: "Beer", Active: true},
			{ID: "news", Label: "News", Domain: "Corporate", Active: true},
			{ID: "legacy", Label: "Legacy Pages", Domain: "Corporate", Active: false},
		},
		categories: []model.Category{
			{ID: "drink-brands", Label: "Drink Brands", PageTypeID: "beers", Active: true},
			{ID: "community", Label: "Community", PageTypeID: "news", Active: true},
		},
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(testProvider())
	require.NoError(t, c.Reload(context.Background()))
	return c
}

func TestCatalog_MatchDomain_CaseInsensitive(t *testing.T) {
	c := newTestCatalog(t)

	for _, value := range []string{"Beer", "beer", "BEER", "  beer  "} {
		d, ok := c.MatchDomain(value)
		require.True(t, ok, "value %q", value)
		assert.Equal(t, "Beer", d.Name)
	}

	_, ok := c.MatchDomain("Cider")
	assert.False(t, ok)
}

func TestCatalog_MatchPageType_ByIDOrLabel(t *testing.T) {
	c := newTestCatalog(t)

	pt, ok := c.MatchPageType("Beer", "beers")
	require.True(t, ok)
	assert.Equal(t, "beers", pt.ID)

	pt, ok = c.MatchPageType("Beer", "BEERS")
	require.True(t, ok)
	assert.Equal(t, "beers", pt.ID)

	// Scoped to domain: "Beers" does not exist under Corporate.
	_, ok = c.MatchPageType("Corporate", "Beers")
	assert.False(t, ok)
}

func TestCatalog_MatchCategory_ScopedToPageType(t *testing.T) {
	c := newTestCatalog(t)

	cat, ok := c.MatchCategory("beers", "drink brands")
	require.True(t, ok)
	assert.Equal(t, "drink-brands", cat.ID)

	// Community belongs to the news page type, not beers.
	_, ok = c.MatchCategory("beers", "Community")
	assert.False(t, ok)
}

func TestCatalog_ActiveListingsExcludeInactive(t *testing.T) {
	c := newTestCatalog(t)

	for _, pt := range c.ActivePageTypes() {
		assert.True(t, pt.Active)
		assert.NotEqual(t, "legacy", pt.ID)
	}

	// Inactive entries remain matchable for existing data.
	pt, ok := c.MatchPageType("Corporate", "Legacy Pages")
	require.True(t, ok)
	assert.False(t, pt.Active)
}

func TestCatalog_ReloadReplacesSnapshot(t *testing.T) {
	p := testProvider()
	c := NewCatalog(p)
	require.NoError(t, c.Reload(context.Background()))

	p.domains = append(p.domains, model.Domain{Name: "Cider", Active: true})
	_, ok := c.MatchDomain("Cider")
	assert.False(t, ok, "stale snapshot should not see new domain before reload")

	require.NoError(t, c.Reload(context.Background()))
	_, ok = c.MatchDomain("cider")
	assert.True(t, ok)
}
