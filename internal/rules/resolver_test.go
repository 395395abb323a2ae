package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/store"
)

// fakeFinder serves active rules keyed by scope triple.
type fakeFinder struct {
	rules map[string]*model.Rule
}

func scopeKey(key model.RuleKey) string {
	d, pt, c := "", "", ""
	if key.Domain != nil {
		d = *key.Domain
	}
	if key.PageType != nil {
		pt = *key.PageType
	}
	if key.Category != nil {
		c = *key.Category
	}
	return d + "|" + pt + "|" + c
}

func (f *fakeFinder) FindActiveRule(_ context.Context, key model.RuleKey) (*model.Rule, error) {
	if r, ok := f.rules[scopeKey(key)]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeFinder) add(name string, domain, pageType, category *string) *model.Rule {
	r := &model.Rule{
		ID: name, Name: name, Body: "body of " + name,
		Domain: domain, PageType: pageType, Category: category,
		IsActive: true,
	}
	f.rules[scopeKey(r.Key())] = r
	return r
}

func sp(s string) *string { return &s }

func TestResolver_MostSpecificWins(t *testing.T) {
	f := &fakeFinder{rules: map[string]*model.Rule{}}
	f.add("global", nil, nil, nil)
	f.add("domain", sp("Beer"), nil, nil)
	f.add("pagetype", sp("Beer"), sp("beers"), nil)
	f.add("exact", sp("Beer"), sp("beers"), sp("drink-brands"))

	r := NewResolver(f)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "Beer", "beers", "drink-brands")
	require.NoError(t, err)
	assert.Equal(t, "exact", got.Name)

	got, err = r.Resolve(ctx, "Beer", "beers", "other-category")
	require.NoError(t, err)
	assert.Equal(t, "pagetype", got.Name)

	got, err = r.Resolve(ctx, "Beer", "ales", "")
	require.NoError(t, err)
	assert.Equal(t, "domain", got.Name)

	got, err = r.Resolve(ctx, "Pub", "food", "menus")
	require.NoError(t, err)
	assert.Equal(t, "global", got.Name)
}

func TestResolver_CategoryMismatchFallsToDomainDefault(t *testing.T) {
	// A category-specific rule must not match a page without that category.
	f := &fakeFinder{rules: map[string]*model.Rule{}}
	f.add("domain-default", sp("Corporate"), nil, nil)
	f.add("community-news", sp("Corporate"), sp("News"), sp("Community"))

	r := NewResolver(f)

	got, err := r.Resolve(context.Background(), "Corporate", "News", "")
	require.NoError(t, err)
	assert.Equal(t, "domain-default", got.Name)
}

func TestResolver_NoMatchIsConfigurationGap(t *testing.T) {
	r := NewResolver(&fakeFinder{rules: map[string]*model.Rule{}})

	got, err := r.Resolve(context.Background(), "Beer", "beers", "drink-brands")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrNoActiveRule)
}

func TestTierKeys_NoCategoryCollapsesExactTier(t *testing.T) {
	keys := tierKeys("Beer", "beers", "")
	assert.Len(t, keys, 3)

	keys = tierKeys("Beer", "beers", "drink-brands")
	assert.Len(t, keys, 4)
	require.NotNil(t, keys[0].Category)
	assert.Equal(t, "drink-brands", *keys[0].Category)
	assert.Nil(t, keys[1].Category)
	assert.Nil(t, keys[2].PageType)
	assert.Nil(t, keys[3].Domain)
}
