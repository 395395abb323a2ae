package ingest

import (
	"fmt"

	"github.com/sells-group/schema-cli/internal/model"
)

// Validate normalizes every raw row and checks it against the taxonomy. Rows
// that are entirely empty are skipped without comment. A non-empty row is
// valid only when its path is present and its domain, page type, and category
// all resolved to known taxonomy entries; each failing field produces one
// error line naming the 1-based row number. Valid rows keep their original row
// numbers, so gaps in the returned set are expected.
func (n *Normalizer) Validate(rows []model.RawRow) ([]model.NormalizedRow, []string) {
	var valid []model.NormalizedRow
	var errs []string

	for _, raw := range rows {
		if raw.Empty() {
			continue
		}
		row := n.NormalizeRow(raw)
		rowErrs := n.checkRow(row)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		valid = append(valid, row)
	}
	return valid, errs
}

func (n *Normalizer) checkRow(row model.NormalizedRow) []string {
	var errs []string

	if row.Path == "" {
		errs = append(errs, fmt.Sprintf("row %d: path is required", row.RowNumber))
	}

	domain, domainOK := n.catalog.MatchDomain(row.Domain)
	switch {
	case row.Domain == "":
		errs = append(errs, fmt.Sprintf("row %d: domain is required", row.RowNumber))
	case !domainOK:
		errs = append(errs, fmt.Sprintf("row %d: unknown domain %q", row.RowNumber, row.Domain))
	}

	var pt model.PageType
	ptOK := false
	if domainOK {
		pt, ptOK = n.catalog.MatchPageType(domain.Name, row.PageType)
	}
	switch {
	case row.PageType == "":
		errs = append(errs, fmt.Sprintf("row %d: page type is required", row.RowNumber))
	case domainOK && !ptOK:
		errs = append(errs, fmt.Sprintf("row %d: unknown page type %q for domain %q", row.RowNumber, row.PageType, row.Domain))
	}

	catOK := false
	if ptOK {
		_, catOK = n.catalog.MatchCategory(pt.ID, row.Category)
	}
	switch {
	case row.Category == "":
		errs = append(errs, fmt.Sprintf("row %d: category is required", row.RowNumber))
	case ptOK && !catOK:
		errs = append(errs, fmt.Sprintf("row %d: unknown category %q for page type %q", row.RowNumber, row.Category, row.PageType))
	}

	return errs
}
