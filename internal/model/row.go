package model

// RawRow is one unprocessed input row as parsed from CSV, XLSX, or pasted text.
// All fields are free text; RowNumber is 1-based and refers to the original
// input, header excluded.
type RawRow struct {
	RowNumber int    `json:"row_number"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	PageType  string `json:"page_type"`
	Category  string `json:"category"`
}

// Empty reports whether every field of the row is blank. Fully empty rows are
// skipped silently during validation rather than reported as errors.
func (r RawRow) Empty() bool {
	return r.Domain == "" && r.Path == "" && r.PageType == "" && r.Category == ""
}

// NormalizedRow is a row whose fields resolved against the live taxonomy.
// Domain/PageType/Category hold canonical identifiers; RowNumber is carried
// through from the raw input, so gaps are expected when invalid rows are
// dropped.
type NormalizedRow struct {
	RowNumber int    `json:"row_number"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	PageType  string `json:"page_type"`
	Category  string `json:"category"`
}
