package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/schema-cli/internal/db"
	"github.com/sells-group/schema-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS domains (
	name   TEXT PRIMARY KEY,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS page_types (
	id     TEXT PRIMARY KEY,
	label  TEXT NOT NULL,
	domain TEXT NOT NULL REFERENCES domains(name),
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS categories (
	id           TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	page_type_id TEXT NOT NULL REFERENCES page_types(id),
	active       BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	body       TEXT NOT NULL,
	domain     TEXT,
	page_type  TEXT,
	category   TEXT,
	is_active  BOOLEAN NOT NULL DEFAULT false,
	backups    JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_active_scope
	ON rules (coalesce(domain,''), coalesce(page_type,''), coalesce(category,''))
	WHERE is_active;

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	label      TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_items (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id                   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_number               INTEGER NOT NULL,
	domain                   TEXT NOT NULL,
	path                     TEXT NOT NULL,
	page_type                TEXT NOT NULL,
	category                 TEXT NOT NULL,
	page_id                  TEXT,
	result                   TEXT NOT NULL DEFAULT 'pending',
	error_message            TEXT,
	html_status              TEXT NOT NULL DEFAULT 'pending',
	schema_status            TEXT NOT NULL DEFAULT 'pending',
	validation_status        TEXT NOT NULL DEFAULT 'pending',
	validation_error_count   INTEGER NOT NULL DEFAULT 0,
	validation_warning_count INTEGER NOT NULL DEFAULT 0,
	validation_issues        JSONB
);

CREATE INDEX IF NOT EXISTS idx_rules_scope ON rules(domain, page_type, category);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// --- Taxonomy ---

func (s *PostgresStore) ListDomains(ctx context.Context) ([]model.Domain, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, active FROM domains ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list domains")
	}
	defer rows.Close()

	var domains []model.Domain
	for rows.Next() {
		var d model.Domain
		if err := rows.Scan(&d.Name, &d.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan domain")
		}
		domains = append(domains, d)
	}
	return domains, eris.Wrap(rows.Err(), "postgres: list domains iterate")
}

func (s *PostgresStore) ListPageTypes(ctx context.Context, activeOnly bool) ([]model.PageType, error) {
	query := `SELECT id, label, domain, active FROM page_types`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY domain, label`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list page types")
	}
	defer rows.Close()

	var pageTypes []model.PageType
	for rows.Next() {
		var pt model.PageType
		if err := rows.Scan(&pt.ID, &pt.Label, &pt.Domain, &pt.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page type")
		}
		pageTypes = append(pageTypes, pt)
	}
	return pageTypes, eris.Wrap(rows.Err(), "postgres: list page types iterate")
}

func (s *PostgresStore) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	query := `SELECT id, label, page_type_id, active FROM categories`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY page_type_id, label`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Label, &c.PageTypeID, &c.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		categories = append(categories, c)
	}
	return categories, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) ReplaceTaxonomy(ctx context.Context, domains []model.Domain, pageTypes []model.PageType, categories []model.Category) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace taxonomy")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM categories`, `DELETE FROM page_types`, `DELETE FROM domains`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: clear taxonomy")
		}
	}

	domainRows := make([][]any, 0, len(domains))
	for _, d := range domains {
		domainRows = append(domainRows, []any{d.Name, d.Active})
	}
	if _, err := db.CopyFrom(ctx, tx, "domains", []string{"name", "active"}, domainRows); err != nil {
		return err
	}

	ptRows := make([][]any, 0, len(pageTypes))
	for _, pt := range pageTypes {
		ptRows = append(ptRows, []any{pt.ID, pt.Label, pt.Domain, pt.Active})
	}
	if _, err := db.CopyFrom(ctx, tx, "page_types", []string{"id", "label", "domain", "active"}, ptRows); err != nil {
		return err
	}

	catRows := make([][]any, 0, len(categories))
	for _, c := range categories {
		catRows = append(catRows, []any{c.ID, c.Label, c.PageTypeID, c.Active})
	}
	if _, err := db.CopyFrom(ctx, tx, "categories", []string{"id", "label", "page_type_id", "active"}, catRows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace taxonomy")
}

// --- Rules ---

func (s *PostgresStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	backupsJSON, err := json.Marshal(rule.Backups)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal backups")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rules (id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rule.ID, rule.Name, rule.Body, rule.Domain, rule.PageType, rule.Category,
		rule.IsActive, backupsJSON, now, now,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrap(err, "postgres: insert rule")
	}
	return nil
}

const pgSelectRule = `SELECT id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at FROM rules`

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	row := s.pool.QueryRow(ctx, pgSelectRule+` WHERE id = $1`, id)
	return scanPgRule(row)
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx, pgSelectRule+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		r, err := scanPgRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

func (s *PostgresStore) UpdateRule(ctx context.Context, id, name, body string, backups []model.RuleBackup) error {
	backupsJSON, err := json.Marshal(backups)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal backups")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET name = $1, body = $2, backups = $3, updated_at = $4 WHERE id = $5`,
		name, body, backupsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update rule %s", id)
	}
	return checkTag(tag, "rule", id)
}

func (s *PostgresStore) ActivateRule(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin activate")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var domain, pageType, category *string
	err = tx.QueryRow(ctx,
		`SELECT domain, page_type, category FROM rules WHERE id = $1 FOR UPDATE`, id,
	).Scan(&domain, &pageType, &category)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load rule scope %s", id)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE rules SET is_active = false, updated_at = $1
		 WHERE id != $2 AND is_active
		   AND coalesce(domain,'') = $3 AND coalesce(page_type,'') = $4 AND coalesce(category,'') = $5`,
		now, id, derefOrEmpty(domain), derefOrEmpty(pageType), derefOrEmpty(category),
	); err != nil {
		return eris.Wrapf(err, "postgres: deactivate peers of %s", id)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rules SET is_active = true, updated_at = $1 WHERE id = $2`, now, id,
	); err != nil {
		if isPgUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrapf(err, "postgres: activate rule %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrap(err, "postgres: commit activate")
	}
	return nil
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET is_active = false, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate rule %s", id)
	}
	return checkTag(tag, "rule", id)
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete rule %s", id)
	}
	return checkTag(tag, "rule", id)
}

func (s *PostgresStore) FindActiveRule(ctx context.Context, key model.RuleKey) (*model.Rule, error) {
	row := s.pool.QueryRow(ctx,
		pgSelectRule+` WHERE is_active
		   AND coalesce(domain,'') = $1 AND coalesce(page_type,'') = $2 AND coalesce(category,'') = $3`,
		derefOrEmpty(key.Domain), derefOrEmpty(key.PageType), derefOrEmpty(key.Category),
	)
	return scanPgRule(row)
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, label string, rows []model.NormalizedRow) (*model.Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	run := &model.Run{
		ID:        uuid.New().String(),
		Label:     label,
		TotalRows: len(rows),
		Status:    model.RunStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO runs (id, label, total_rows, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Label, run.TotalRows, string(run.Status), run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	itemRows := make([][]any, 0, len(rows))
	for _, r := range rows {
		itemRows = append(itemRows, []any{
			uuid.New().String(), run.ID, r.RowNumber, r.Domain, r.Path, r.PageType, r.Category,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "run_items",
		[]string{"id", "run_id", "row_number", "domain", "path", "page_type", "category"},
		itemRows,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create run")
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, label, total_rows, status, created_at, updated_at FROM runs WHERE id = $1`, id)

	var r model.Run
	err := row.Scan(&r.ID, &r.Label, &r.TotalRows, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, label, total_rows, status, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Label != "" {
		args = append(args, filter.Label)
		query += ` AND label = $` + strconv.Itoa(len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		query += ` AND created_at > $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Label, &r.TotalRows, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

// --- Run items ---

func (s *PostgresStore) ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, row_number, domain, path, page_type, category, page_id,
		        result, error_message, html_status, schema_status,
		        validation_status, validation_error_count, validation_warning_count, validation_issues
		 FROM run_items WHERE run_id = $1 ORDER BY row_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items for run %s", runID)
	}
	defer rows.Close()

	var items []model.RunItem
	for rows.Next() {
		it, err := scanPgRunItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) UpdateItemResult(ctx context.Context, itemID string, result model.ItemResult, pageID, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET result = $1, page_id = nullif($2, ''), error_message = nullif($3, '') WHERE id = $4`,
		string(result), pageID, errorMessage, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item result %s", itemID)
	}
	return checkTag(tag, "run item", itemID)
}

func (s *PostgresStore) UpdateItemHTMLStatus(ctx context.Context, itemID string, status model.StepStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET html_status = $1 WHERE id = $2`, string(status), itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item html status %s", itemID)
	}
	return checkTag(tag, "run item", itemID)
}

func (s *PostgresStore) UpdateItemSchemaStatus(ctx context.Context, itemID string, status model.StepStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET schema_status = $1 WHERE id = $2`, string(status), itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item schema status %s", itemID)
	}
	return checkTag(tag, "run item", itemID)
}

func (s *PostgresStore) UpdateItemValidation(ctx context.Context, itemID string, report model.ValidationReport) error {
	issuesJSON, err := json.Marshal(report.Issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation issues")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET validation_status = $1, validation_error_count = $2,
		        validation_warning_count = $3, validation_issues = $4
		 WHERE id = $5`,
		string(report.Status), report.ErrorCount, report.WarningCount, issuesJSON, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item validation %s", itemID)
	}
	return checkTag(tag, "run item", itemID)
}

// --- helpers ---

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgRule(row pgScannable) (*model.Rule, error) {
	var r model.Rule
	var backupsJSON []byte

	err := row.Scan(&r.ID, &r.Name, &r.Body, &r.Domain, &r.PageType, &r.Category,
		&r.IsActive, &backupsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan rule")
	}

	if len(backupsJSON) > 0 {
		if err := json.Unmarshal(backupsJSON, &r.Backups); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal rule backups")
		}
	}
	return &r, nil
}

func scanPgRunItem(row pgScannable) (*model.RunItem, error) {
	var it model.RunItem
	var pageID, errMsg *string
	var issuesJSON []byte

	err := row.Scan(&it.ID, &it.RunID, &it.RowNumber, &it.Domain, &it.Path, &it.PageType, &it.Category,
		&pageID, &it.Result, &errMsg, &it.HTMLStatus, &it.SchemaStatus,
		&it.ValidationStatus, &it.ValidationErrors, &it.ValidationWarns, &issuesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run item")
	}

	if pageID != nil {
		it.PageID = *pageID
	}
	if errMsg != nil {
		it.ErrorMessage = *errMsg
	}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &it.ValidationIssues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal validation issues")
		}
	}
	return &it, nil
}
