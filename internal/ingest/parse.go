// Package ingest turns raw batch input (CSV, XLSX, pasted text) into
// normalized, taxonomy-validated rows ready for a run.
package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/schema-cli/internal/model"
)

// columnOrder is the assumed layout when no header row names the columns.
var columnOrder = []string{"domain", "path", "page_type", "category"}

// knownColumns are the header names a delimited file may declare.
var knownColumns = map[string]bool{
	"domain": true, "path": true, "page_type": true, "category": true,
}

// ParseCSV reads comma-delimited rows. The first line may be a header naming
// columns among domain/path/page_type/category; without one, columns are
// assumed in that order. Row numbers are 1-based over data rows.
func ParseCSV(r io.Reader) ([]model.RawRow, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv")
	}
	if len(records) == 0 {
		return nil, eris.New("ingest: csv is empty")
	}

	colIdx, hasHeader := detectHeader(records[0])
	data := records
	if hasHeader {
		data = records[1:]
	}

	rows := make([]model.RawRow, 0, len(data))
	for i, record := range data {
		rows = append(rows, rowFromRecord(i+1, record, colIdx))
	}
	return rows, nil
}

// ParsePaste reads the tab-delimited paste format: 1–4 columns in the order
// path, domain, page_type, category.
func ParsePaste(text string) []model.RawRow {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var rows []model.RawRow
	num := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" && num == 0 && len(rows) == 0 {
			continue
		}
		num++
		cols := strings.Split(line, "\t")
		row := model.RawRow{RowNumber: num}
		if len(cols) > 0 {
			row.Path = strings.TrimSpace(cols[0])
		}
		if len(cols) > 1 {
			row.Domain = strings.TrimSpace(cols[1])
		}
		if len(cols) > 2 {
			row.PageType = strings.TrimSpace(cols[2])
		}
		if len(cols) > 3 {
			row.Category = strings.TrimSpace(cols[3])
		}
		rows = append(rows, row)
	}

	// Drop trailing all-empty rows left by a final newline.
	for len(rows) > 0 && rows[len(rows)-1].Empty() {
		rows = rows[:len(rows)-1]
	}
	return rows
}

// ParseXLSX reads the first sheet of a workbook with the same column
// conventions as ParseCSV.
func ParseXLSX(path string) ([]model.RawRow, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}
	sheet := wb.Sheets[0]

	var records [][]string
	for _, xr := range sheet.Rows {
		record := make([]string, 0, len(xr.Cells))
		for _, cell := range xr.Cells {
			record = append(record, cell.String())
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, eris.New("ingest: sheet is empty")
	}

	colIdx, hasHeader := detectHeader(records[0])
	data := records
	if hasHeader {
		data = records[1:]
	}

	rows := make([]model.RawRow, 0, len(data))
	for i, record := range data {
		rows = append(rows, rowFromRecord(i+1, record, colIdx))
	}
	return rows, nil
}

// detectHeader reports whether the first record is a header row and returns
// the column index mapping to use for data rows.
func detectHeader(first []string) (map[string]int, bool) {
	named := 0
	colIdx := make(map[string]int, len(first))
	for i, col := range first {
		name := strings.ToLower(strings.TrimSpace(col))
		if knownColumns[name] {
			colIdx[name] = i
			named++
		}
	}
	if named > 0 {
		return colIdx, true
	}

	// No header: assume the default column order.
	colIdx = make(map[string]int, len(columnOrder))
	for i, name := range columnOrder {
		colIdx[name] = i
	}
	return colIdx, false
}

func rowFromRecord(num int, record []string, colIdx map[string]int) model.RawRow {
	get := func(name string) string {
		idx, ok := colIdx[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	return model.RawRow{
		RowNumber: num,
		Domain:    get("domain"),
		Path:      get("path"),
		PageType:  get("page_type"),
		Category:  get("category"),
	}
}
