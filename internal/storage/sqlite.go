package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"pivotflow/internal/model"
	logx "pivotflow/pkg/logx"
)

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type notificationRow struct {
	ID           string         `db:"id"`
	Position     int            `db:"position"`
	CategoryMain string         `db:"category_main"`
	CategorySub  string         `db:"category_sub"`
	Title        string         `db:"title"`
	Message      string         `db:"message"`
	CreatedAt    string         `db:"created_at"`
	Read         bool           `db:"read"`
	Priority     string         `db:"priority"`
	ActionLabel  sql.NullString `db:"action_label"`
	ActionURL    sql.NullString `db:"action_url"`
	GroupID      string         `db:"group_id"`
	ExpiresAt    sql.NullString `db:"expires_at"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	current := 0
	var tables int
	if err := s.db.GetContext(ctx, &tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM notifications ORDER BY position ASC"); err != nil {
		return nil, fmt.Errorf("loading notifications: %w", err)
	}
	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			s.log.Warn("skipping unreadable notification row", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *sqliteStore) SaveNotifications(ctx context.Context, items []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clearing notifications: %w", err)
	}
	if len(items) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO notifications (id, position, category_main, category_sub, title, message, created_at,
				read, priority, action_label, action_url, group_id, expires_at)
			VALUES (:id, :position, :category_main, :category_sub, :title, :message, :created_at,
				:read, :priority, :action_label, :action_url, :group_id, :expires_at)`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for i, n := range items {
			if _, err := stmt.ExecContext(ctx, rowFromModel(i, n)); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return fmt.Errorf("saving notification %s: %w", n.ID, err)
			}
		}
		_ = stmt.Close()
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSoundEnabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, "SELECT value FROM settings WHERE key = ?", soundKey)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return parseSoundValue(v), nil
}

func (s *sqliteStore) SaveSoundEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		soundKey, formatSoundValue(enabled),
	)
	return err
}

func rowFromModel(pos int, n model.Notification) notificationRow {
	r := notificationRow{
		ID:           n.ID,
		Position:     pos,
		CategoryMain: string(n.Category.Main),
		CategorySub:  n.Category.Sub,
		Title:        n.Title,
		Message:      n.Message,
		CreatedAt:    n.Timestamp.UTC().Format(time.RFC3339Nano),
		Read:         n.Read,
		Priority:     string(n.Priority),
		GroupID:      n.GroupID,
	}
	if n.Action != nil {
		r.ActionLabel = sql.NullString{String: n.Action.Label, Valid: true}
		r.ActionURL = sql.NullString{String: n.Action.URL, Valid: true}
	}
	if n.ExpiresAt != nil {
		r.ExpiresAt = sql.NullString{String: n.ExpiresAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return r
}

func (r notificationRow) toModel() (model.Notification, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("created_at: %w", err)
	}
	n := model.Notification{
		ID:        r.ID,
		Category:  model.Category{Main: model.MainCategory(r.CategoryMain), Sub: r.CategorySub},
		Title:     r.Title,
		Message:   r.Message,
		Timestamp: ts,
		Read:      r.Read,
		Priority:  model.Priority(r.Priority),
		GroupID:   r.GroupID,
	}
	if r.ActionURL.Valid {
		n.Action = &model.Action{Label: r.ActionLabel.String, URL: r.ActionURL.String}
	}
	if r.ExpiresAt.Valid {
		exp, err := time.Parse(time.RFC3339Nano, r.ExpiresAt.String)
		if err != nil {
			return model.Notification{}, fmt.Errorf("expires_at: %w", err)
		}
		n.ExpiresAt = &exp
	}
	return n, nil
}
