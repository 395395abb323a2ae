// Package rules selects and manages the generation rules that drive JSON-LD
// schema generation for pages.
package rules

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/store"
)

// ErrNoActiveRule is returned when no rule matches any tier for a page.
// Callers must surface this as a configuration gap, not fall back silently.
var ErrNoActiveRule = eris.New("rules: no active rule for scope")

// Finder is the slice of the store the resolver needs.
type Finder interface {
	FindActiveRule(ctx context.Context, key model.RuleKey) (*model.Rule, error)
}

// Resolver picks the single rule that applies to a page, walking four
// specificity tiers from exact (domain, page type, category) down to the
// global default. Store uniqueness guarantees at most one active rule per
// tier key, so lookup is deterministic.
type Resolver struct {
	finder Finder
}

// NewResolver creates a Resolver backed by the given rule source.
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve returns the most specific active rule for the given scope.
// category may be empty, meaning a page-type-level page with no category.
func (r *Resolver) Resolve(ctx context.Context, domain, pageType, category string) (*model.Rule, error) {
	for _, key := range tierKeys(domain, pageType, category) {
		rule, err := r.finder.FindActiveRule(ctx, key)
		if eris.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, eris.Wrap(err, "rules: resolve")
		}
		return rule, nil
	}

	zap.L().Warn("rules: no active rule matched",
		zap.String("domain", domain),
		zap.String("page_type", pageType),
		zap.String("category", category),
	)
	return nil, eris.Wrapf(ErrNoActiveRule, "domain=%s page_type=%s category=%s", domain, pageType, category)
}

// tierKeys builds the lookup keys from most to least specific. When the page
// has no category, the exact tier and the page-type tier collapse into one.
func tierKeys(domain, pageType, category string) []model.RuleKey {
	var keys []model.RuleKey

	if category != "" {
		keys = append(keys, model.RuleKey{Domain: &domain, PageType: &pageType, Category: &category})
	}
	keys = append(keys,
		model.RuleKey{Domain: &domain, PageType: &pageType},
		model.RuleKey{Domain: &domain},
		model.RuleKey{},
	)
	return keys
}
