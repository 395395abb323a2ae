// Package store provides persistence for taxonomy, generation rules, and
// batch runs, with SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schema-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrActiveRuleConflict is returned when activating a rule would leave two
// active rules on the same (domain, page_type, category) triple. The losing
// request fails; it is never allowed to half-apply.
var ErrActiveRuleConflict = eris.New("store: another rule is already active for this scope")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Label        string          `json:"label,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the schema admin engine.
// The taxonomy methods double as the read-only taxonomy provider contract.
type Store interface {
	// Taxonomy
	ListDomains(ctx context.Context) ([]model.Domain, error)
	ListPageTypes(ctx context.Context, activeOnly bool) ([]model.PageType, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
	ReplaceTaxonomy(ctx context.Context, domains []model.Domain, pageTypes []model.PageType, categories []model.Category) error

	// Rules
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	UpdateRule(ctx context.Context, id, name, body string, backups []model.RuleBackup) error
	// ActivateRule atomically deactivates every other rule sharing the
	// target's scope triple, then activates the target.
	ActivateRule(ctx context.Context, id string) error
	DeactivateRule(ctx context.Context, id string) error
	DeleteRule(ctx context.Context, id string) error
	// FindActiveRule returns the single active rule for an exact scope
	// triple, or ErrNotFound.
	FindActiveRule(ctx context.Context, key model.RuleKey) (*model.Rule, error)

	// Runs
	// CreateRun persists the run and one item per row as a single unit.
	CreateRun(ctx context.Context, label string, rows []model.NormalizedRow) (*model.Run, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// DeleteRun removes the run and cascades to its items.
	DeleteRun(ctx context.Context, runID string) error

	// Run items
	ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error)
	UpdateItemResult(ctx context.Context, itemID string, result model.ItemResult, pageID, errorMessage string) error
	UpdateItemHTMLStatus(ctx context.Context, itemID string, status model.StepStatus) error
	UpdateItemSchemaStatus(ctx context.Context, itemID string, status model.StepStatus) error
	UpdateItemValidation(ctx context.Context, itemID string, report model.ValidationReport) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
