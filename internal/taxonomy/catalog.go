package taxonomy

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schema-cli/internal/model"
)

// Catalog is an explicitly-scoped taxonomy cache. Reload replaces the whole
// snapshot atomically; lookups never observe a half-refreshed state. Inactive
// entries are loaded too, since existing data may still reference them, but
// they are excluded from new-selection listings.
type Catalog struct {
	provider Provider

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	domains    []model.Domain
	pageTypes  []model.PageType
	categories []model.Category

	// case-folded indexes
	domainByName  map[string]model.Domain
	pageTypeByKey map[string]map[string]model.PageType // folded domain → folded id/label
	categoryByKey map[string]map[string]model.Category // page type id → folded id/label
}

// NewCatalog creates an empty catalog; call Reload before first use.
func NewCatalog(provider Provider) *Catalog {
	return &Catalog{provider: provider, snap: &snapshot{}}
}

// Reload fetches the full taxonomy from the provider and swaps the cached
// snapshot in one step.
func (c *Catalog) Reload(ctx context.Context) error {
	domains, err := c.provider.ListDomains(ctx)
	if err != nil {
		return eris.Wrap(err, "taxonomy: list domains")
	}
	pageTypes, err := c.provider.ListPageTypes(ctx, false)
	if err != nil {
		return eris.Wrap(err, "taxonomy: list page types")
	}
	categories, err := c.provider.ListCategories(ctx, false)
	if err != nil {
		return eris.Wrap(err, "taxonomy: list categories")
	}

	snap := &snapshot{
		domains:       domains,
		pageTypes:     pageTypes,
		categories:    categories,
		domainByName:  make(map[string]model.Domain, len(domains)),
		pageTypeByKey: make(map[string]map[string]model.PageType),
		categoryByKey: make(map[string]map[string]model.Category),
	}

	for _, d := range domains {
		snap.domainByName[fold(d.Name)] = d
	}
	for _, pt := range pageTypes {
		dk := fold(pt.Domain)
		if snap.pageTypeByKey[dk] == nil {
			snap.pageTypeByKey[dk] = make(map[string]model.PageType)
		}
		snap.pageTypeByKey[dk][fold(pt.ID)] = pt
		snap.pageTypeByKey[dk][fold(pt.Label)] = pt
	}
	for _, cat := range categories {
		if snap.categoryByKey[cat.PageTypeID] == nil {
			snap.categoryByKey[cat.PageTypeID] = make(map[string]model.Category)
		}
		snap.categoryByKey[cat.PageTypeID][fold(cat.ID)] = cat
		snap.categoryByKey[cat.PageTypeID][fold(cat.Label)] = cat
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return nil
}

func (c *Catalog) snapshot() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Domains returns every known domain.
func (c *Catalog) Domains() []model.Domain {
	return c.snapshot().domains
}

// ActivePageTypes returns page types eligible for new selection.
func (c *Catalog) ActivePageTypes() []model.PageType {
	var out []model.PageType
	for _, pt := range c.snapshot().pageTypes {
		if pt.Active {
			out = append(out, pt)
		}
	}
	return out
}

// ActiveCategories returns categories eligible for new selection.
func (c *Catalog) ActiveCategories() []model.Category {
	var out []model.Category
	for _, cat := range c.snapshot().categories {
		if cat.Active {
			out = append(out, cat)
		}
	}
	return out
}

// MatchDomain resolves a free-text domain value to its canonical name,
// ignoring case and surrounding whitespace.
func (c *Catalog) MatchDomain(value string) (model.Domain, bool) {
	d, ok := c.snapshot().domainByName[fold(value)]
	return d, ok
}

// MatchPageType resolves a free-text page type by id or label, scoped to the
// given (canonical) domain.
func (c *Catalog) MatchPageType(domain, value string) (model.PageType, bool) {
	byKey := c.snapshot().pageTypeByKey[fold(domain)]
	if byKey == nil {
		return model.PageType{}, false
	}
	pt, ok := byKey[fold(value)]
	return pt, ok
}

// MatchCategory resolves a free-text category by id or label, scoped to the
// given page type id.
func (c *Catalog) MatchCategory(pageTypeID, value string) (model.Category, bool) {
	byKey := c.snapshot().categoryByKey[pageTypeID]
	if byKey == nil {
		return model.Category{}, false
	}
	cat, ok := byKey[fold(value)]
	return cat, ok
}
