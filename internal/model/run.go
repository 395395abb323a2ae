package model

import "time"

// RunStatus represents the lifecycle state of a batch run.
// Transitions are monotonic: pending → running → complete|failed.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ItemResult is the outcome of the page-upsert step for one row.
type ItemResult string

const (
	ItemResultPending          ItemResult = "pending"
	ItemResultCreated          ItemResult = "created"
	ItemResultUpdated          ItemResult = "updated"
	ItemResultSkippedDuplicate ItemResult = "skipped_duplicate"
	ItemResultError            ItemResult = "error"
)

// StepStatus tracks an individual async sub-step (HTML fetch, schema generation).
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// ValidationStatus is the outcome of schema validation for one row.
type ValidationStatus string

const (
	ValidationStatusPending ValidationStatus = "pending"
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusInvalid ValidationStatus = "invalid"
	ValidationStatusSkipped ValidationStatus = "skipped"
	ValidationStatusError   ValidationStatus = "error"
)

// Run is a batch job created from one submission of validated rows.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	TotalRows int       `json:"total_rows"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunItem is the per-row record and status tracker within a run. Each status
// field transitions independently from pending to a terminal value as the
// corresponding sub-step completes, in the fixed order
// page → html → schema → validation.
type RunItem struct {
	ID               string           `json:"id"`
	RunID            string           `json:"run_id"`
	RowNumber        int              `json:"row_number"`
	Domain           string           `json:"domain"`
	Path             string           `json:"path"`
	PageType         string           `json:"page_type"`
	Category         string           `json:"category"`
	PageID           string           `json:"page_id,omitempty"`
	Result           ItemResult       `json:"result"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	HTMLStatus       StepStatus       `json:"html_status"`
	SchemaStatus     StepStatus       `json:"schema_status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationErrors int              `json:"validation_error_count"`
	ValidationWarns  int              `json:"validation_warning_count"`
	ValidationIssues []string         `json:"validation_issues,omitempty"`
}

// ValidationReport is the outcome of the schema-validation collaborator for
// one page.
type ValidationReport struct {
	Status       ValidationStatus `json:"status"`
	ErrorCount   int              `json:"error_count"`
	WarningCount int              `json:"warning_count"`
	Issues       []string         `json:"issues,omitempty"`
}

// Terminal reports whether the item has fully left the pending state:
// the page step concluded and, when it succeeded, all downstream steps did too.
func (it *RunItem) Terminal() bool {
	if it.Result == ItemResultPending {
		return false
	}
	if it.Result == ItemResultError || it.Result == ItemResultSkippedDuplicate {
		return true
	}
	return it.HTMLStatus != StepStatusPending &&
		it.SchemaStatus != StepStatusPending &&
		it.ValidationStatus != ValidationStatusPending
}
