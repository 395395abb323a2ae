package model

// Domain is a top-level site section identifier (e.g. "Corporate", "Beer", "Pub").
type Domain struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// PageType is a page classification belonging to exactly one domain.
type PageType struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// Category is a page sub-classification belonging to exactly one page type.
// A category is only meaningful in combination with its declared page type.
type Category struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	PageTypeID string `json:"page_type_id"`
	Active     bool   `json:"active"`
}
