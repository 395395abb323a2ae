// Package progress aggregates run-item statuses into run-level counters and
// estimates remaining time from observed throughput.
package progress

import (
	"time"

	"github.com/sells-group/schema-cli/internal/model"
)

// Summary is an aggregate view over a run's items.
type Summary struct {
	Total            int `json:"total"`
	Completed        int `json:"completed"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Errors           int `json:"errors"`
	HTMLSuccess      int `json:"html_success"`
	HTMLFailed       int `json:"html_failed"`
	SchemaSuccess    int `json:"schema_success"`
	SchemaFailed     int `json:"schema_failed"`
	Valid            int `json:"valid"`
	Invalid          int `json:"invalid"`
}

// Summarize recomputes counters from the full item set. An item counts as
// completed once every status field it will ever advance has left pending.
func Summarize(items []model.RunItem) Summary {
	s := Summary{Total: len(items)}
	for i := range items {
		it := &items[i]
		if it.Terminal() {
			s.Completed++
		}
		switch it.Result {
		case model.ItemResultCreated:
			s.Created++
		case model.ItemResultUpdated:
			s.Updated++
		case model.ItemResultSkippedDuplicate:
			s.SkippedDuplicate++
		case model.ItemResultError:
			s.Errors++
		}
		switch it.HTMLStatus {
		case model.StepStatusSuccess:
			s.HTMLSuccess++
		case model.StepStatusFailed:
			s.HTMLFailed++
		}
		switch it.SchemaStatus {
		case model.StepStatusSuccess:
			s.SchemaSuccess++
		case model.StepStatusFailed:
			s.SchemaFailed++
		}
		switch it.ValidationStatus {
		case model.ValidationStatusValid:
			s.Valid++
		case model.ValidationStatusInvalid:
			s.Invalid++
		}
	}
	return s
}

// Estimate is a linear projection of time left on a run.
type Estimate struct {
	Completed int           `json:"completed"`
	AvgPerRow time.Duration `json:"avg_per_row"`
	Remaining time.Duration `json:"remaining"`
}

// EstimateRemaining projects time left from average per-row duration so far.
// It returns nil until at least one row has completed; with zero observations
// there is no defensible estimate.
func EstimateRemaining(s Summary, startedAt, now time.Time) *Estimate {
	if s.Completed < 1 {
		return nil
	}
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	est := &Estimate{
		Completed: s.Completed,
		AvgPerRow: elapsed / time.Duration(s.Completed),
	}
	if remaining := s.Total - s.Completed; remaining > 0 {
		est.Remaining = est.AvgPerRow * time.Duration(remaining)
	}
	return est
}
