package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schema-cli/internal/model"
)

func TestParseCSV_WithHeader(t *testing.T) {
	input := strings.Join([]string{
		"domain,path,page_type,category",
		"Beer,/beers/spitfire,Beers,Drink Brands",
		"Corporate,/news/agm,News,Community",
	}, "\n")

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, model.RawRow{
		RowNumber: 1,
		Domain:    "Beer",
		Path:      "/beers/spitfire",
		PageType:  "Beers",
		Category:  "Drink Brands",
	}, rows[0])
	assert.Equal(t, 2, rows[1].RowNumber)
	assert.Equal(t, "Corporate", rows[1].Domain)
}

func TestParseCSV_HeaderReordersColumns(t *testing.T) {
	input := "path,domain\n/beers/spitfire,Beer\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Beer", rows[0].Domain)
	assert.Equal(t, "/beers/spitfire", rows[0].Path)
	assert.Empty(t, rows[0].PageType)
	assert.Empty(t, rows[0].Category)
}

func TestParseCSV_NoHeaderAssumesDefaultOrder(t *testing.T) {
	input := "Beer,/beers/spitfire,Beers,Drink Brands\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.Equal(t, "Beer", rows[0].Domain)
	assert.Equal(t, "/beers/spitfire", rows[0].Path)
	assert.Equal(t, "Beers", rows[0].PageType)
	assert.Equal(t, "Drink Brands", rows[0].Category)
}

func TestParseCSV_RaggedRows(t *testing.T) {
	input := "Beer,/beers/spitfire\nCorporate,/news/agm,News,Community\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].PageType)
	assert.Equal(t, "News", rows[1].PageType)
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParsePaste_ColumnOrder(t *testing.T) {
	text := "/beers/spitfire\tBeer\tBeers\tDrink Brands\n/news/agm\tCorporate\n"

	rows := ParsePaste(text)
	require.Len(t, rows, 2)
	assert.Equal(t, model.RawRow{
		RowNumber: 1,
		Domain:    "Beer",
		Path:      "/beers/spitfire",
		PageType:  "Beers",
		Category:  "Drink Brands",
	}, rows[0])
	assert.Equal(t, "/news/agm", rows[1].Path)
	assert.Equal(t, "Corporate", rows[1].Domain)
	assert.Empty(t, rows[1].PageType)
}

func TestParsePaste_KeepsInteriorBlankRowNumbers(t *testing.T) {
	text := "/a\tBeer\n\n/c\tBeer\n"

	rows := ParsePaste(text)
	require.Len(t, rows, 3)
	assert.True(t, rows[1].Empty())
	assert.Equal(t, 3, rows[2].RowNumber)
}

func TestParsePaste_WindowsLineEndings(t *testing.T) {
	rows := ParsePaste("/a\tBeer\r\n/b\tPub\r\n")
	require.Len(t, rows, 2)
	assert.Equal(t, "/b", rows[1].Path)
	assert.Equal(t, "Pub", rows[1].Domain)
}
