package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/schema-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS domains (
	name   TEXT PRIMARY KEY,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS page_types (
	id     TEXT PRIMARY KEY,
	label  TEXT NOT NULL,
	domain TEXT NOT NULL REFERENCES domains(name),
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS categories (
	id           TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	page_type_id TEXT NOT NULL REFERENCES page_types(id),
	active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	body       TEXT NOT NULL,
	domain     TEXT,
	page_type  TEXT,
	category   TEXT,
	is_active  INTEGER NOT NULL DEFAULT 0,
	backups    TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_active_scope
	ON rules (coalesce(domain,''), coalesce(page_type,''), coalesce(category,''))
	WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_items (
	id                       TEXT PRIMARY KEY,
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
	validation_issues        TEXT
);

CREATE INDEX IF NOT EXISTS idx_rules_scope ON rules(domain, page_type, category);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
CREATE INDEX IF NOT EXISTS idx_page_types_domain ON page_types(domain);
CREATE INDEX IF NOT EXISTS idx_categories_page_type ON categories(page_type_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Taxonomy ---

func (s *SQLiteStore) ListDomains(ctx context.Context) ([]model.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, active FROM domains ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list domains")
	}
	defer rows.Close()

	var domains []model.Domain
	for rows.Next() {
		var d model.Domain
		if err := rows.Scan(&d.Name, &d.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain")
		}
		domains = append(domains, d)
	}
	return domains, eris.Wrap(rows.Err(), "sqlite: list domains iterate")
}

func (s *SQLiteStore) ListPageTypes(ctx context.Context, activeOnly bool) ([]model.PageType, error) {
	query := `SELECT id, label, domain, active FROM page_types`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY domain, label`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list page types")
	}
	defer rows.Close()

	var pageTypes []model.PageType
	for rows.Next() {
		var pt model.PageType
		if err := rows.Scan(&pt.ID, &pt.Label, &pt.Domain, &pt.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page type")
		}
		pageTypes = append(pageTypes, pt)
	}
	return pageTypes, eris.Wrap(rows.Err(), "sqlite: list page types iterate")
}

func (s *SQLiteStore) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	query := `SELECT id, label, page_type_id, active FROM categories`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY page_type_id, label`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Label, &c.PageTypeID, &c.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		categories = append(categories, c)
	}
	return categories, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

func (s *SQLiteStore) ReplaceTaxonomy(ctx context.Context, domains []model.Domain, pageTypes []model.PageType, categories []model.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace taxonomy")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM categories`, `DELETE FROM page_types`, `DELETE FROM domains`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: clear taxonomy")
		}
	}

	for _, d := range domains {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO domains (name, active) VALUES (?, ?)`, d.Name, d.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert domain %s", d.Name)
		}
	}
	for _, pt := range pageTypes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO page_types (id, label, domain, active) VALUES (?, ?, ?, ?)`,
			pt.ID, pt.Label, pt.Domain, pt.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert page type %s", pt.ID)
		}
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, label, page_type_id, active) VALUES (?, ?, ?, ?)`,
			c.ID, c.Label, c.PageTypeID, c.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert category %s", c.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace taxonomy")
}

// --- Rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	backupsJSON, err := json.Marshal(rule.Backups)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal backups")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Body,
		nullable(rule.Domain), nullable(rule.PageType), nullable(rule.Category),
		rule.IsActive, string(backupsJSON), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrap(err, "sqlite: insert rule")
	}
	return nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at
		 FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at
		 FROM rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, id, name, body string, backups []model.RuleBackup) error {
	backupsJSON, err := json.Marshal(backups)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal backups")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET name = ?, body = ?, backups = ?, updated_at = ? WHERE id = ?`,
		name, body, string(backupsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) ActivateRule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin activate")
	}
	defer tx.Rollback() //nolint:errcheck

	var domain, pageType, category sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT domain, page_type, category FROM rules WHERE id = ?`, id,
	).Scan(&domain, &pageType, &category)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load rule scope %s", id)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE rules SET is_active = 0, updated_at = ?
		 WHERE id != ? AND is_active = 1
		   AND coalesce(domain,'') = ? AND coalesce(page_type,'') = ? AND coalesce(category,'') = ?`,
		now, id, domain.String, pageType.String, category.String,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate peers of %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rules SET is_active = 1, updated_at = ? WHERE id = ?`, now, id,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrapf(err, "sqlite: activate rule %s", id)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveRuleConflict
		}
		return eris.Wrap(err, "sqlite: commit activate")
	}
	return nil
}

func (s *SQLiteStore) DeactivateRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) FindActiveRule(ctx context.Context, key model.RuleKey) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, body, domain, page_type, category, is_active, backups, created_at, updated_at
		 FROM rules
		 WHERE is_active = 1
		   AND coalesce(domain,'') = ? AND coalesce(page_type,'') = ? AND coalesce(category,'') = ?`,
		deref(key.Domain), deref(key.PageType), deref(key.Category),
	)
	return scanRule(row)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, label string, rows []model.NormalizedRow) (*model.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create run")
	}
	defer tx.Rollback() //nolint:errcheck

	run := &model.Run{
		ID:        uuid.New().String(),
		Label:     label,
		TotalRows: len(rows),
		Status:    model.RunStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, label, total_rows, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.TotalRows, string(run.Status), run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_items (id, run_id, row_number, domain, path, page_type, category)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), run.ID, r.RowNumber, r.Domain, r.Path, r.PageType, r.Category,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert run item row %d", r.RowNumber)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create run")
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, total_rows, status, created_at, updated_at FROM runs WHERE id = ?`, id)

	var r model.Run
	err := row.Scan(&r.ID, &r.Label, &r.TotalRows, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, label, total_rows, status, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, filter.Label)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Label, &r.TotalRows, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// --- Run items ---

func (s *SQLiteStore) ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, row_number, domain, path, page_type, category, page_id,
		        result, error_message, html_status, schema_status,
		        validation_status, validation_error_count, validation_warning_count, validation_issues
		 FROM run_items WHERE run_id = ? ORDER BY row_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items for run %s", runID)
	}
	defer rows.Close()

	var items []model.RunItem
	for rows.Next() {
		it, err := scanRunItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateItemResult(ctx context.Context, itemID string, result model.ItemResult, pageID, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET result = ?, page_id = ?, error_message = ? WHERE id = ?`,
		string(result), nullString(pageID), nullString(errorMessage), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item result %s", itemID)
	}
	return checkRowsAffected(res, "run item", itemID)
}

func (s *SQLiteStore) UpdateItemHTMLStatus(ctx context.Context, itemID string, status model.StepStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET html_status = ? WHERE id = ?`, string(status), itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item html status %s", itemID)
	}
	return checkRowsAffected(res, "run item", itemID)
}

func (s *SQLiteStore) UpdateItemSchemaStatus(ctx context.Context, itemID string, status model.StepStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET schema_status = ? WHERE id = ?`, string(status), itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item schema status %s", itemID)
	}
	return checkRowsAffected(res, "run item", itemID)
}

func (s *SQLiteStore) UpdateItemValidation(ctx context.Context, itemID string, report model.ValidationReport) error {
	issuesJSON, err := json.Marshal(report.Issues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation issues")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET validation_status = ?, validation_error_count = ?,
		        validation_warning_count = ?, validation_issues = ?
		 WHERE id = ?`,
		string(report.Status), report.ErrorCount, report.WarningCount, string(issuesJSON), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item validation %s", itemID)
	}
	return checkRowsAffected(res, "run item", itemID)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRule(row scannable) (*model.Rule, error) {
	var r model.Rule
	var domain, pageType, category sql.NullString
	var backupsJSON string

	err := row.Scan(&r.ID, &r.Name, &r.Body, &domain, &pageType, &category,
		&r.IsActive, &backupsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan rule")
	}

	if domain.Valid {
		r.Domain = &domain.String
	}
	if pageType.Valid {
		r.PageType = &pageType.String
	}
	if category.Valid {
		r.Category = &category.String
	}
	if err := json.Unmarshal([]byte(backupsJSON), &r.Backups); err != nil {
		return nil, eris.Wrap(err, "unmarshal rule backups")
	}
	return &r, nil
}

func scanRunItem(row scannable) (*model.RunItem, error) {
	var it model.RunItem
	var pageID, errMsg, issuesJSON sql.NullString

	err := row.Scan(&it.ID, &it.RunID, &it.RowNumber, &it.Domain, &it.Path, &it.PageType, &it.Category,
		&pageID, &it.Result, &errMsg, &it.HTMLStatus, &it.SchemaStatus,
		&it.ValidationStatus, &it.ValidationErrors, &it.ValidationWarns, &issuesJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run item")
	}

	it.PageID = pageID.String
	it.ErrorMessage = errMsg.String
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &it.ValidationIssues); err != nil {
			return nil, eris.Wrap(err, "unmarshal validation issues")
		}
	}
	return &it, nil
}
