// Package pipeline drives batch runs: it creates a run from validated rows
// and pushes every row through page upsert, HTML fetch, schema generation,
// and schema validation, publishing each status change as it lands.
package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/schema-cli/internal/config"
	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/notify"
	"github.com/sells-group/schema-cli/internal/resilience"
	"github.com/sells-group/schema-cli/internal/rules"
	"github.com/sells-group/schema-cli/internal/store"
	"github.com/sells-group/schema-cli/pkg/htmlfetch"
	"github.com/sells-group/schema-cli/pkg/pages"
	"github.com/sells-group/schema-cli/pkg/schemagen"
	"github.com/sells-group/schema-cli/pkg/schemaval"
)

// Options tune per-run behavior.
type Options struct {
	// Overwrite upserts over an existing page instead of skipping the row.
	Overwrite bool
	// Concurrency bounds how many rows process at once; <= 0 means 1.
	Concurrency int
}

// Orchestrator owns the run state machine.
type Orchestrator struct {
	store     store.Store
	resolver  *rules.Resolver
	pages     pages.Client
	fetcher   htmlfetch.Fetcher
	generator schemagen.Generator
	validator schemaval.Validator
	broker    *notify.Broker
	sites     config.SitesConfig
	retry     resilience.RetryConfig
	breakers  *resilience.ServiceBreakers
}

// New wires an orchestrator from its collaborators.
func New(
	st store.Store,
	resolver *rules.Resolver,
	pagesClient pages.Client,
	fetcher htmlfetch.Fetcher,
	generator schemagen.Generator,
	validator schemaval.Validator,
	broker *notify.Broker,
	sites config.SitesConfig,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		resolver:  resolver,
		pages:     pagesClient,
		fetcher:   fetcher,
		generator: generator,
		validator: validator,
		broker:    broker,
		sites:     sites,
		retry:     resilience.DefaultRetryConfig(),
		breakers:  resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
}

// SetRetry overrides the retry policy used around collaborator calls.
func (o *Orchestrator) SetRetry(cfg resilience.RetryConfig) {
	o.retry = cfg
}

// SetBreakerConfig overrides the circuit breaker policy. It resets any
// breakers already tripped.
func (o *Orchestrator) SetBreakerConfig(cfg resilience.CircuitBreakerConfig) {
	o.breakers = resilience.NewServiceBreakers(cfg)
}

// CreateRun persists a run with one pending item per validated row. Creation
// is a single unit in the store: a run never claims a row count inconsistent
// with its items.
func (o *Orchestrator) CreateRun(ctx context.Context, label string, rows []model.NormalizedRow) (*model.Run, error) {
	if len(rows) == 0 {
		return nil, eris.New("pipeline: no valid rows to run")
	}
	run, err := o.store.CreateRun(ctx, label, rows)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	zap.L().Info("run created",
		zap.String("run_id", run.ID),
		zap.String("label", run.Label),
		zap.Int("total_rows", run.TotalRows))
	return run, nil
}

// Process drives every item of a run to a terminal state. Row failures are
// recorded on their items and never abort the run; only cancellation of ctx
// fails the run itself. Cancellation stops scheduling unstarted rows while
// in-flight rows finish on their own.
func (o *Orchestrator) Process(ctx context.Context, runID string, opts Options) error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	items, err := o.store.ListRunItems(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: list run items")
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RowNumber < items[j].RowNumber })

	if err := o.setRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		return err
	}

	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := items[i]
		if item.Terminal() {
			continue
		}
		g.Go(func() error {
			o.processItem(ctx, &item, opts)
			return nil // row failures never abort the batch
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// Status writes must outlive the caller's cancellation.
		if err := o.setRunStatus(context.WithoutCancel(ctx), runID, model.RunStatusFailed); err != nil {
			return err
		}
		return eris.Wrap(ctx.Err(), "pipeline: run aborted")
	}

	final := model.RunStatusComplete
	items, err = o.store.ListRunItems(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: reload run items")
	}
	for i := range items {
		if !items[i].Terminal() {
			final = model.RunStatusFailed
			break
		}
	}
	return o.setRunStatus(ctx, runID, final)
}

func (o *Orchestrator) setRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	if err := o.store.UpdateRunStatus(ctx, runID, status); err != nil {
		return eris.Wrapf(err, "pipeline: set run %s to %s", runID, status)
	}
	o.broker.PublishRun(runID, status)
	return nil
}

// processItem walks one row through the fixed step order page → html →
// schema → validation. Each step's outcome is persisted and published before
// the next step starts.
func (o *Orchestrator) processItem(ctx context.Context, item *model.RunItem, opts Options) {
	log := zap.L().With(
		zap.String("run_id", item.RunID),
		zap.Int("row", item.RowNumber),
		zap.String("path", item.Path))

	if !o.upsertPage(ctx, item, opts, log) {
		return
	}
	html, ok := o.fetchHTML(ctx, item, log)
	jsonld := ""
	if ok {
		jsonld, ok = o.generateSchema(ctx, item, html, log)
	} else {
		// Generation depends on fetched HTML; the step fails with it.
		o.saveSchemaStatus(ctx, item, model.StepStatusFailed, "")
	}
	o.validateSchema(ctx, item, jsonld, ok, log)
}

// upsertPage runs the page step. It reports whether downstream steps should
// run: false on row error and on duplicates skipped without overwrite.
func (o *Orchestrator) upsertPage(ctx context.Context, item *model.RunItem, opts Options, log *zap.Logger) bool {
	retry := o.retry
	retry.OnRetry = resilience.RetryLogger("pages", "upsert")
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*pages.UpsertResponse, error) {
		return o.pages.Upsert(ctx, pages.UpsertRequest{
			Domain:    item.Domain,
			Path:      item.Path,
			PageType:  item.PageType,
			Category:  item.Category,
			Overwrite: opts.Overwrite,
		})
	})
	if err != nil {
		log.Warn("page upsert failed", zap.Error(err))
		o.saveResult(ctx, item, model.ItemResultError, "", err.Error())
		return false
	}

	switch resp.Outcome {
	case pages.OutcomeCreated:
		o.saveResult(ctx, item, model.ItemResultCreated, resp.ID, "")
	case pages.OutcomeUpdated:
		o.saveResult(ctx, item, model.ItemResultUpdated, resp.ID, "")
	case pages.OutcomeSkipped:
		o.saveResult(ctx, item, model.ItemResultSkippedDuplicate, resp.ID, "")
		return false
	default:
		o.saveResult(ctx, item, model.ItemResultError, resp.ID,
			"unexpected upsert outcome: "+string(resp.Outcome))
		return false
	}
	return true
}

func (o *Orchestrator) fetchHTML(ctx context.Context, item *model.RunItem, log *zap.Logger) (string, bool) {
	base := o.sites.BaseURL(item.Domain)
	if base == "" {
		log.Warn("no site base url for domain", zap.String("domain", item.Domain))
		o.saveHTMLStatus(ctx, item, model.StepStatusFailed)
		return "", false
	}

	// One breaker per domain: when a site keeps failing its remaining rows
	// fail fast instead of waiting out retries.
	breaker := o.breakers.Get("site:" + item.Domain)
	retry := o.retry
	retry.OnRetry = resilience.RetryLogger("site", "fetch")
	res, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*htmlfetch.Result, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*htmlfetch.Result, error) {
			return o.fetcher.Fetch(ctx, base+item.Path)
		})
	})
	if err != nil {
		log.Warn("html fetch failed", zap.Error(err))
		o.saveHTMLStatus(ctx, item, model.StepStatusFailed)
		return "", false
	}

	if res.JSONLDBlocks > 0 {
		log.Debug("page already carries ld+json", zap.Int("blocks", res.JSONLDBlocks))
	}
	o.saveHTMLStatus(ctx, item, model.StepStatusSuccess)
	return res.HTML, true
}

func (o *Orchestrator) generateSchema(ctx context.Context, item *model.RunItem, html string, log *zap.Logger) (string, bool) {
	rule, err := o.resolver.Resolve(ctx, item.Domain, item.PageType, item.Category)
	if err != nil {
		// A missing rule is a configuration gap the operator must fix,
		// not a transient failure.
		log.Warn("no generation rule for row", zap.Error(err))
		o.saveSchemaStatus(ctx, item, model.StepStatusFailed, "no active rule for page scope")
		return "", false
	}

	breaker := o.breakers.Get("generator")
	retry := o.retry
	retry.OnRetry = resilience.RetryLogger("anthropic", "generate")
	result, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*schemagen.Result, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*schemagen.Result, error) {
			return o.generator.Generate(ctx, schemagen.Request{
				RuleBody: rule.Body,
				HTML:     html,
				Domain:   item.Domain,
				Path:     item.Path,
				PageType: item.PageType,
				Category: item.Category,
			})
		})
	})
	if err != nil {
		log.Warn("schema generation failed", zap.Error(err))
		o.saveSchemaStatus(ctx, item, model.StepStatusFailed, err.Error())
		return "", false
	}
	o.saveSchemaStatus(ctx, item, model.StepStatusSuccess, "")
	return result.JSONLD, true
}

// validateSchema runs the last step. When generation never produced a
// document the validation is recorded as skipped, keeping the item terminal.
func (o *Orchestrator) validateSchema(ctx context.Context, item *model.RunItem, jsonld string, generated bool, log *zap.Logger) {
	if !generated {
		o.saveValidation(ctx, item, model.ValidationReport{Status: model.ValidationStatusSkipped})
		return
	}

	report, err := o.validator.Validate(ctx, jsonld)
	if err != nil {
		log.Warn("schema validation errored", zap.Error(err))
		o.saveValidation(ctx, item, model.ValidationReport{
			Status: model.ValidationStatusError,
			Issues: []string{err.Error()},
		})
		return
	}

	status := model.ValidationStatusValid
	if !report.Valid() {
		status = model.ValidationStatusInvalid
	}
	o.saveValidation(ctx, item, model.ValidationReport{
		Status:       status,
		ErrorCount:   len(report.Errors),
		WarningCount: len(report.Warnings),
		Issues:       append(append([]string{}, report.Errors...), report.Warnings...),
	})
}

// The save helpers persist one field transition, mirror it on the local item,
// and publish the delta. Persistence errors are logged, not propagated; the
// database is the source of truth and the next observer read will reconcile.

func (o *Orchestrator) saveResult(ctx context.Context, item *model.RunItem, result model.ItemResult, pageID, errMsg string) {
	if err := o.store.UpdateItemResult(context.WithoutCancel(ctx), item.ID, result, pageID, errMsg); err != nil {
		zap.L().Error("persist item result", zap.String("item_id", item.ID), zap.Error(err))
	}
	item.Result = result
	item.PageID = pageID
	item.ErrorMessage = errMsg
	o.broker.PublishItem(item.RunID, *item)
}

func (o *Orchestrator) saveHTMLStatus(ctx context.Context, item *model.RunItem, status model.StepStatus) {
	if err := o.store.UpdateItemHTMLStatus(context.WithoutCancel(ctx), item.ID, status); err != nil {
		zap.L().Error("persist html status", zap.String("item_id", item.ID), zap.Error(err))
	}
	item.HTMLStatus = status
	o.broker.PublishItem(item.RunID, *item)
}

func (o *Orchestrator) saveSchemaStatus(ctx context.Context, item *model.RunItem, status model.StepStatus, errMsg string) {
	if err := o.store.UpdateItemSchemaStatus(context.WithoutCancel(ctx), item.ID, status); err != nil {
		zap.L().Error("persist schema status", zap.String("item_id", item.ID), zap.Error(err))
	}
	item.SchemaStatus = status
	if errMsg != "" && item.ErrorMessage == "" {
		item.ErrorMessage = errMsg
		if err := o.store.UpdateItemResult(context.WithoutCancel(ctx), item.ID, item.Result, item.PageID, errMsg); err != nil {
			zap.L().Error("persist item error message", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	o.broker.PublishItem(item.RunID, *item)
}

func (o *Orchestrator) saveValidation(ctx context.Context, item *model.RunItem, report model.ValidationReport) {
	if err := o.store.UpdateItemValidation(context.WithoutCancel(ctx), item.ID, report); err != nil {
		zap.L().Error("persist validation", zap.String("item_id", item.ID), zap.Error(err))
	}
	item.ValidationStatus = report.Status
	item.ValidationErrors = report.ErrorCount
	item.ValidationWarns = report.WarningCount
	item.ValidationIssues = report.Issues
	o.broker.PublishItem(item.RunID, *item)
}
