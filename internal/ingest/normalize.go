package ingest

import (
	"net/url"
	"strings"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/taxonomy"
)

// Normalizer resolves free-text row values against the live taxonomy. Values
// that do not match any taxonomy entry pass through unchanged so validation
// can report them; nothing is silently dropped here.
type Normalizer struct {
	catalog *taxonomy.Catalog
}

func NewNormalizer(catalog *taxonomy.Catalog) *Normalizer {
	return &Normalizer{catalog: catalog}
}

// NormalizeRow maps a raw row onto canonical taxonomy identifiers. Domain is
// matched case-insensitively by name; page type and category are matched by id
// or label, each scoped to its already-normalized parent. Normalizing an
// already-normalized row yields the same values.
func (n *Normalizer) NormalizeRow(row model.RawRow) model.NormalizedRow {
	out := model.NormalizedRow{
		RowNumber: row.RowNumber,
		Domain:    strings.TrimSpace(row.Domain),
		Path:      NormalizePath(row.Path),
		PageType:  strings.TrimSpace(row.PageType),
		Category:  strings.TrimSpace(row.Category),
	}

	domain, domainOK := n.catalog.MatchDomain(out.Domain)
	if domainOK {
		out.Domain = domain.Name
	}

	if domainOK && out.PageType != "" {
		if pt, ok := n.catalog.MatchPageType(domain.Name, out.PageType); ok {
			out.PageType = pt.ID
			if out.Category != "" {
				if cat, ok := n.catalog.MatchCategory(pt.ID, out.Category); ok {
					out.Category = cat.ID
				}
			}
		}
	}
	return out
}

// NormalizePath canonicalizes a path or full URL: strip scheme and host when a
// URL was pasted, trim whitespace, ensure a single leading slash, strip one
// trailing slash unless the path is exactly "/", and lowercase the result.
func NormalizePath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return ""
	}

	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		}
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.HasPrefix(p, "//") {
		p = p[1:]
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return strings.ToLower(p)
}
