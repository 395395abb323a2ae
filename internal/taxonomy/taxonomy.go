// Package taxonomy exposes the live domain → page type → category hierarchy
// used to validate and classify pages.
package taxonomy

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/schema-cli/internal/model"
)

// Provider supplies the current taxonomy. Read-only from the engine's
// perspective; the admin dashboard edits it elsewhere.
type Provider interface {
	ListDomains(ctx context.Context) ([]model.Domain, error)
	ListPageTypes(ctx context.Context, activeOnly bool) ([]model.PageType, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
}

var folder = cases.Fold()

// fold canonicalizes a value for case-insensitive comparison.
func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}
