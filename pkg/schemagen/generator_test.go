package schemagen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			in:   `{"@type":"Product","name":"Spitfire"}`,
			want: `{"@type":"Product","name":"Spitfire"}`,
		},
		{
			name: "fenced with language tag",
			in:   "Here is the schema:\n```json\n{\"@type\":\"Product\"}\n```\n",
			want: `{"@type":"Product"}`,
		},
		{
			name: "fenced without language tag",
			in:   "```\n{\"@type\":\"Product\"}\n```",
			want: `{"@type":"Product"}`,
		},
		{
			name: "leading prose",
			in:   `Sure. {"@type":"Product"}`,
			want: `{"@type":"Product"}`,
		},
		{
			name: "array graph",
			in:   `[{"@type":"Product"},{"@type":"BreadcrumbList"}]`,
			want: `[{"@type":"Product"},{"@type":"BreadcrumbList"}]`,
		},
		{
			name:    "no json at all",
			in:      "I could not generate a schema for this page.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			in:      `{"@type":"Product"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Request{
		Domain:   "Beer",
		Path:     "/beers/spitfire",
		PageType: "beers",
		Category: "drink-brands",
		HTML:     "<html><h1>Spitfire</h1></html>",
	})

	assert.Contains(t, p, "Page: Beer/beers/spitfire")
	assert.Contains(t, p, "Page type: beers")
	assert.Contains(t, p, "Category: drink-brands")
	assert.Contains(t, p, "<h1>Spitfire</h1>")
}

func TestBuildPrompt_OmitsEmptyCategory(t *testing.T) {
	p := BuildPrompt(Request{Domain: "Pub", Path: "/find-a-pub", PageType: "pubs"})
	assert.NotContains(t, p, "Category:")
}
