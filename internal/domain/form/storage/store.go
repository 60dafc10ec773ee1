// Package storage persists non-temp forms and keeps an in-memory index of
// them for the form service.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
)

// ErrNotFound is returned when a form has no stored row.
var ErrNotFound = errors.New("form not stored")

// Store is the sqlite-backed form table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// LoadForms returns every stored form ordered by id.
func (s *Store) LoadForms(ctx context.Context) ([]form.DBInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT form_id, user_id, form_name, bundle_name, module_name, ability_name, user_uids
FROM forms ORDER BY form_id`)
	if err != nil {
		return nil, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []form.DBInfo
	for rows.Next() {
		info, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return out, nil
}

// GetForm returns one stored form.
func (s *Store) GetForm(ctx context.Context, formID int64) (form.DBInfo, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT form_id, user_id, form_name, bundle_name, module_name, ability_name, user_uids
FROM forms WHERE form_id = ?`, formID)
	info, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return form.DBInfo{}, ErrNotFound
	}
	return info, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(row scanner) (form.DBInfo, error) {
	var (
		info form.DBInfo
		uids string
	)
	if err := row.Scan(&info.FormID, &info.UserID, &info.FormName, &info.BundleName, &info.ModuleName, &info.AbilityName, &uids); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return form.DBInfo{}, err
		}
		return form.DBInfo{}, fmt.Errorf("scan form: %w", err)
	}
	if err := sonic.UnmarshalString(uids, &info.UserUIDs); err != nil {
		return form.DBInfo{}, fmt.Errorf("decode user uids of form %d: %w", info.FormID, err)
	}
	return info, nil
}

// UpsertForm inserts or replaces a stored form.
func (s *Store) UpsertForm(ctx context.Context, info form.DBInfo) error {
	uids := info.UserUIDs
	if uids == nil {
		uids = []int32{}
	}
	raw, err := sonic.MarshalString(uids)
	if err != nil {
		return fmt.Errorf("encode user uids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO forms(form_id, user_id, form_name, bundle_name, module_name, ability_name, user_uids, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(form_id) DO UPDATE SET
	user_id=excluded.user_id,
	form_name=excluded.form_name,
	bundle_name=excluded.bundle_name,
	module_name=excluded.module_name,
	ability_name=excluded.ability_name,
	user_uids=excluded.user_uids,
	updated_at=excluded.updated_at
`, info.FormID, info.UserID, info.FormName, info.BundleName, info.ModuleName, info.AbilityName, raw, ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert form %d: %w", info.FormID, err)
	}
	return nil
}

// DeleteForm removes a stored form. Missing rows are not an error.
func (s *Store) DeleteForm(ctx context.Context, formID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("delete form %d: %w", formID, err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
