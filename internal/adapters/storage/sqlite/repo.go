package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository stores projects, work item types, work items, and the copy activity ledger.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db, now: time.Now}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db, now: time.Now}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS work_item_types (
			project TEXT NOT NULL COLLATE NOCASE,
			name TEXT NOT NULL COLLATE NOCASE,
			fields_json TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY(project, name),
			FOREIGN KEY(project) REFERENCES projects(name) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rev INTEGER NOT NULL DEFAULT 1,
			project TEXT NOT NULL COLLATE NOCASE,
			type TEXT NOT NULL COLLATE NOCASE,
			fields_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(project) REFERENCES projects(name) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project, id);`,
		`CREATE TABLE IF NOT EXISTS copy_activity (
			id TEXT PRIMARY KEY,
			notification_id TEXT NOT NULL DEFAULT '',
			source_project TEXT NOT NULL DEFAULT '',
			source_id INTEGER NOT NULL DEFAULT 0,
			target_project TEXT NOT NULL DEFAULT '',
			target_id INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			skipped_fields_json TEXT NOT NULL DEFAULT '[]',
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_copy_activity_occurred ON copy_activity(occurred_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// UpsertProject creates a project or refreshes its description.
func (r *Repository) UpsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects(name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description, updated_at = excluded.updated_at
	`, p.Name, p.Description, ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

// GetProject returns project.
func (r *Repository) GetProject(ctx context.Context, name string) (domain.Project, error) {
	return getProject(ctx, r.db, name)
}

// ListProjects lists projects.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, description, created_at, updated_at
		FROM projects
		ORDER BY name COLLATE NOCASE ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertWorkItemType creates or replaces one type definition.
func (r *Repository) UpsertWorkItemType(ctx context.Context, wt domain.WorkItemType) error {
	fieldsJSON, err := json.Marshal(wt.Fields)
	if err != nil {
		return fmt.Errorf("encode work item type fields: %w", err)
	}
	if _, err := getProject(ctx, r.db, wt.Project); err != nil {
		return fmt.Errorf("get project %q: %w", wt.Project, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO work_item_types(project, name, fields_json)
		VALUES (?, ?, ?)
		ON CONFLICT(project, name) DO UPDATE SET fields_json = excluded.fields_json
	`, wt.Project, wt.Name, string(fieldsJSON))
	return err
}

// ListWorkItemTypes lists the types of one project.
func (r *Repository) ListWorkItemTypes(ctx context.Context, project string) ([]domain.WorkItemType, error) {
	p, err := getProject(ctx, r.db, project)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT project, name, fields_json
		FROM work_item_types
		WHERE project = ?
		ORDER BY name COLLATE NOCASE ASC
	`, p.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorkItemType{}
	for rows.Next() {
		wt, err := scanWorkItemType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

// GetWorkItem returns one work item by id.
func (r *Repository) GetWorkItem(ctx context.Context, id int) (domain.WorkItem, error) {
	return getWorkItem(ctx, r.db, id)
}

// SaveWorkItem inserts a new item or updates an existing one, bumping its revision.
// Fields must be defined by the item's type.
func (r *Repository) SaveWorkItem(ctx context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("begin save work item: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	wt, err := getWorkItemType(ctx, tx, item.Project, item.Type)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("get work item type %q in %q: %w", item.Type, item.Project, err)
	}
	for _, f := range item.Fields {
		if !wt.HasField(f.ReferenceName) {
			return domain.WorkItem{}, fmt.Errorf("field %q is not defined by %s/%s", f.ReferenceName, wt.Project, wt.Name)
		}
	}
	item.Project = wt.Project
	item.Type = wt.Name
	now := ts(r.now())

	if item.IsNew() {
		item.Rev = 1
		fieldsJSON, err := encodeFields(item.Fields)
		if err != nil {
			return domain.WorkItem{}, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_items(rev, project, type, fields_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.Rev, item.Project, item.Type, fieldsJSON, now, now)
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("insert work item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("read work item id: %w", err)
		}
		item.ID = int(id)
	} else {
		current, err := getWorkItem(ctx, tx, item.ID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		item.Rev = current.Rev + 1
		fieldsJSON, err := encodeFields(item.Fields)
		if err != nil {
			return domain.WorkItem{}, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE work_items
			SET rev = ?, project = ?, type = ?, fields_json = ?, updated_at = ?
			WHERE id = ?
		`, item.Rev, item.Project, item.Type, fieldsJSON, now, item.ID)
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("update work item: %w", err)
		}
		if err := translateNoRows(res); err != nil {
			return domain.WorkItem{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, fmt.Errorf("commit work item: %w", err)
	}
	return item, nil
}

// PutWorkItem writes an item under its own id, used by snapshot import.
func (r *Repository) PutWorkItem(ctx context.Context, item domain.WorkItem) error {
	if item.ID <= 0 {
		return domain.ErrInvalidID
	}
	if item.Rev <= 0 {
		item.Rev = 1
	}
	fieldsJSON, err := encodeFields(item.Fields)
	if err != nil {
		return err
	}
	now := ts(r.now())
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO work_items(id, rev, project, type, fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			project = excluded.project,
			type = excluded.type,
			fields_json = excluded.fields_json,
			updated_at = excluded.updated_at
	`, item.ID, item.Rev, item.Project, item.Type, fieldsJSON, now, now)
	return err
}

// ListWorkItems lists the items of one project ordered by id.
func (r *Repository) ListWorkItems(ctx context.Context, project string) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rev, project, type, fields_json
		FROM work_items
		WHERE project = ?
		ORDER BY id ASC
	`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// RecordCopyActivity appends one ledger entry.
func (r *Repository) RecordCopyActivity(ctx context.Context, a domain.CopyActivity) error {
	skipped := a.SkippedFields
	if skipped == nil {
		skipped = []string{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("encode skipped fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO copy_activity(id, notification_id, source_project, source_id, target_project, target_id, outcome, reason, error, skipped_fields_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.NotificationID,
		a.SourceProject,
		a.SourceID,
		a.TargetProject,
		a.TargetID,
		string(a.Outcome),
		a.Reason,
		a.Error,
		string(skippedJSON),
		ts(a.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert copy activity: %w", err)
	}
	return nil
}

// ListCopyActivity lists recent ledger entries, newest first.
func (r *Repository) ListCopyActivity(ctx context.Context, limit int) ([]domain.CopyActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, notification_id, source_project, source_id, target_project, target_id, outcome, reason, error, skipped_fields_json, occurred_at
		FROM copy_activity
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CopyActivity, 0)
	for rows.Next() {
		var (
			a           domain.CopyActivity
			outcomeRaw  string
			skippedRaw  string
			occurredRaw string
		)
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.SourceProject, &a.SourceID, &a.TargetProject, &a.TargetID, &outcomeRaw, &a.Reason, &a.Error, &skippedRaw, &occurredRaw); err != nil {
			return nil, err
		}
		a.Outcome = domain.CopyOutcome(outcomeRaw)
		a.OccurredAt = parseTS(occurredRaw)
		if strings.TrimSpace(skippedRaw) != "" {
			if err := json.Unmarshal([]byte(skippedRaw), &a.SkippedFields); err != nil {
				return nil, fmt.Errorf("decode copy_activity.skipped_fields_json: %w", err)
			}
		}
		if len(a.SkippedFields) == 0 {
			a.SkippedFields = nil
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// getProject returns one project through a DB or Tx.
func getProject(ctx context.Context, q queryRower, name string) (domain.Project, error) {
	row := q.QueryRowContext(ctx, `
		SELECT name, description, created_at, updated_at
		FROM projects
		WHERE name = ?
	`, strings.TrimSpace(name))
	return scanProject(row)
}

// getWorkItemType returns one type through a DB or Tx.
func getWorkItemType(ctx context.Context, q queryRower, project, name string) (domain.WorkItemType, error) {
	row := q.QueryRowContext(ctx, `
		SELECT project, name, fields_json
		FROM work_item_types
		WHERE project = ? AND name = ?
	`, strings.TrimSpace(project), strings.TrimSpace(name))
	return scanWorkItemType(row)
}

// getWorkItem returns one item through a DB or Tx.
func getWorkItem(ctx context.Context, q queryRower, id int) (domain.WorkItem, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rev, project, type, fields_json
		FROM work_items
		WHERE id = ?
	`, id)
	return scanWorkItem(row)
}

// scanProject handles scan project.
func scanProject(s scanner) (domain.Project, error) {
	var (
		p          domain.Project
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&p.Name, &p.Description, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Project{}, app.ErrNotFound
		}
		return domain.Project{}, err
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	return p, nil
}

// scanWorkItemType handles scan work item type.
func scanWorkItemType(s scanner) (domain.WorkItemType, error) {
	var (
		wt        domain.WorkItemType
		fieldsRaw string
	)
	if err := s.Scan(&wt.Project, &wt.Name, &fieldsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItemType{}, app.ErrNotFound
		}
		return domain.WorkItemType{}, err
	}
	if strings.TrimSpace(fieldsRaw) == "" {
		fieldsRaw = "[]"
	}
	if err := json.Unmarshal([]byte(fieldsRaw), &wt.Fields); err != nil {
		return domain.WorkItemType{}, fmt.Errorf("decode work_item_types.fields_json: %w", err)
	}
	return wt, nil
}

// scanWorkItem handles scan work item.
func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		item      domain.WorkItem
		fieldsRaw string
	)
	if err := s.Scan(&item.ID, &item.Rev, &item.Project, &item.Type, &fieldsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, app.ErrNotFound
		}
		return domain.WorkItem{}, err
	}
	fields, err := decodeFields(fieldsRaw)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Fields = fields
	return item, nil
}

// encodeFields serializes item fields for fields_json.
func encodeFields(fields []domain.Field) (string, error) {
	if fields == nil {
		fields = []domain.Field{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode work item fields: %w", err)
	}
	return string(raw), nil
}

// decodeFields parses fields_json keeping integral numbers as ints.
func decodeFields(raw string) ([]domain.Field, error) {
	if strings.TrimSpace(raw) == "" {
		return []domain.Field{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var fields []domain.Field
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode work_items.fields_json: %w", err)
	}
	for i := range fields {
		fields[i].Value = domain.NormalizeFieldValue(fields[i].Value)
	}
	if fields == nil {
		fields = []domain.Field{}
	}
	return fields, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
