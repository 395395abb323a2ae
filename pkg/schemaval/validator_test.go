package schemaval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValidator(t *testing.T, schemaJSON string) Validator {
	t.Helper()
	v, err := New(schemaJSON)
	require.NoError(t, err)
	return v
}

func TestValidate_WellFormedDocument(t *testing.T) {
	v := mustValidator(t, "")

	report, err := v.Validate(context.Background(),
		`{"@context":"https://schema.org","@type":"Product","name":"Spitfire"}`)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Warnings)
}

func TestValidate_MalformedJSON(t *testing.T) {
	v := mustValidator(t, "")

	report, err := v.Validate(context.Background(), `{"@type":`)
	require.NoError(t, err)
	assert.False(t, report.Valid())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "not valid JSON")
}

func TestValidate_MissingRequiredKeys(t *testing.T) {
	v := mustValidator(t, "")

	report, err := v.Validate(context.Background(), `{"name":"Spitfire"}`)
	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors, "missing @type")
	assert.Contains(t, report.Errors, "missing @context")
}

func TestValidate_MissingNameIsWarningOnly(t *testing.T) {
	v := mustValidator(t, "")

	report, err := v.Validate(context.Background(),
		`{"@context":"https://schema.org","@type":"WebPage"}`)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Contains(t, report.Warnings, "missing name property")
}

func TestValidate_ArrayGraph(t *testing.T) {
	v := mustValidator(t, "")

	report, err := v.Validate(context.Background(),
		`[{"@context":"https://schema.org","@type":"Product","name":"a"},{"@type":"BreadcrumbList","name":"b"}]`)
	require.NoError(t, err)
	assert.True(t, report.Valid(), "errors: %v", report.Errors)
}

func TestValidate_AgainstJSONSchema(t *testing.T) {
	const schema = `{
		"type": "object",
		"required": ["@type", "name", "description"],
		"properties": {
			"description": {"type": "string", "minLength": 10}
		}
	}`
	v := mustValidator(t, schema)

	report, err := v.Validate(context.Background(),
		`{"@context":"https://schema.org","@type":"Product","name":"Spitfire","description":"short"}`)
	require.NoError(t, err)
	assert.False(t, report.Valid())
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[len(report.Errors)-1], "description")
}

func TestNew_BadSchema(t *testing.T) {
	_, err := New(`{"type": 42}`)
	assert.Error(t, err)
}
