package rules

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st)
}

func TestService_UpdateRotatesBackups(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, "global", "v1", model.RuleKey{}, false)
	require.NoError(t, err)

	for _, body := range []string{"v2", "v3", "v4", "v5"} {
		_, err = svc.Update(ctx, rule.ID, "global", body)
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "v5", got.Body)
	require.Len(t, got.Backups, model.MaxRuleBackups)
	assert.Equal(t, "v4", got.Backups[0].Content)
	assert.Equal(t, "v3", got.Backups[1].Content)
	assert.Equal(t, "v2", got.Backups[2].Content)
}

func TestService_UpdateSameBodyDoesNotRotate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, "r", "body", model.RuleKey{}, false)
	require.NoError(t, err)

	// Only the name changes, so no backup entry is added.
	got, err := svc.Update(ctx, rule.ID, "renamed", "body")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Empty(t, got.Backups)
}

func TestService_Restore(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, "r", "v1", model.RuleKey{}, false)
	require.NoError(t, err)
	_, err = svc.Update(ctx, rule.ID, "r", "v2")
	require.NoError(t, err)

	restored, err := svc.Restore(ctx, rule.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "v1", restored.Body)

	// The restored entry stays on the list, and the pre-restore body
	// rotated in at the front.
	assert.Equal(t, "v2", restored.Backups[0].Content)
	assert.Equal(t, "v1", restored.Backups[1].Content)
}

func TestService_RestoreIndexOutOfRange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, "r", "v1", model.RuleKey{}, false)
	require.NoError(t, err)

	_, err = svc.Restore(ctx, rule.ID, 0)
	assert.Error(t, err)
}

func TestService_CreateActiveClaimsScope(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	beer := "Beer"
	key := model.RuleKey{Domain: &beer}

	first, err := svc.Create(ctx, "first", "a", key, true)
	require.NoError(t, err)

	second, err := svc.Create(ctx, "second", "b", key, true)
	require.NoError(t, err)

	gotFirst, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, gotFirst.IsActive)

	gotSecond, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, gotSecond.IsActive)
}

func TestService_YAMLRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := `
- name: global default
  body: Generate Organization schema.
  active: true
- name: beer pages
  body: Generate Product schema for beers.
  domain: Beer
  page_type: beers
  active: true
`
	n, err := svc.ImportYAML(ctx, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportYAML(ctx, &buf))
	out := buf.String()
	assert.Contains(t, out, "global default")
	assert.Contains(t, out, "beer pages")
	assert.Contains(t, out, "page_type: beers")
}

func TestService_ImportYAMLRejectsMissingFields(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ImportYAML(context.Background(), strings.NewReader("- name: only-name\n  body: \"\"\n"))
	assert.Error(t, err)
}
