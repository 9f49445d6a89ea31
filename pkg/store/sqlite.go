package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at dbPath and applies migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, backendErr("open", fmt.Errorf("ensure directory: %w", err))
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, backendErr("open", fmt.Errorf("open sqlite db: %w", err))
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, backendErr("open", fmt.Errorf("apply pragma %q: %w", pragma, execErr))
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, backendErr("migrate", err)
	}
	logger.Info("SQLite store initialized at: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		for _, stmt := range m.statements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec models.TournamentRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO records (id, name, date, level, region, lat, lon, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            date = excluded.date,
            level = excluded.level,
            region = excluded.region,
            lat = excluded.lat,
            lon = excluded.lon,
            updated_at = excluded.updated_at`,
		rec.ID,
		rec.Name,
		rec.Date.Format(dateLayout),
		rec.Level.Letter(),
		rec.Region,
		rec.Position.Lat,
		rec.Position.Lon,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return backendErr("upsert record", err)
}

// recordQuery builds the WHERE clause shared by the SQL backends. placeholder
// renders the n-th (1-based) bind parameter.
func recordQuery(f RecordFilter, placeholder func(n int) string, date func(time.Time) any) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if f.Region != "" {
		where = append(where, "region = "+bind(f.Region))
	}
	if !f.Levels.Empty() {
		var ph []string
		for _, l := range f.Levels.Levels() {
			ph = append(ph, bind(l.Letter()))
		}
		where = append(where, "level IN ("+strings.Join(ph, ", ")+")")
	}
	if !f.From.IsZero() {
		where = append(where, "date >= "+bind(date(models.DateOnly(f.From))))
	}

	q := "SELECT id, name, date, level, region, lat, lon FROM records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}
	return q, args
}

func (s *SQLiteStore) Records(ctx context.Context, f RecordFilter) ([]models.TournamentRecord, error) {
	q, args := recordQuery(f,
		func(int) string { return "?" },
		func(t time.Time) any { return t.Format(dateLayout) },
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backendErr("read records", err)
	}
	defer rows.Close()

	var out []models.TournamentRecord
	for rows.Next() {
		var (
			rec   models.TournamentRecord
			date  string
			level string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &date, &level, &rec.Region, &rec.Position.Lat, &rec.Position.Lon); err != nil {
			return nil, backendErr("read records", err)
		}
		if rec.Date, err = time.Parse(dateLayout, date); err != nil {
			logger.Error("Skipping record %d with bad date %q: %v", rec.ID, date, err)
			continue
		}
		if rec.Level, err = models.ParseLevel(level); err != nil {
			logger.Error("Skipping record %d with bad level %q: %v", rec.ID, level, err)
			continue
		}
		out = append(out, rec)
	}
	return out, backendErr("read records", rows.Err())
}

func (s *SQLiteStore) LoadCursor(ctx context.Context) (int, error) {
	return sqlCursor(ctx, s.db, "load cursor")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqlCursor(ctx context.Context, q queryRower, op string) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'cursor'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(op)
	}
	if err != nil {
		return 0, backendErr(op, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, corrupt(op, raw)
	}
	return n, nil
}

func (s *SQLiteStore) AdvanceCursor(ctx context.Context, n int) (int, error) {
	const op = "advance cursor"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, backendErr(op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stored := n
	old, err := sqlCursor(ctx, tx, op)
	switch {
	case err == nil:
		stored = max(old, n)
	case isKind(err, KindCorrupt):
		logger.Warn("Overwriting corrupt cursor: %v", err)
	case !isKind(err, KindNotFound):
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('cursor', ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(stored),
	)
	if err != nil {
		return 0, backendErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, backendErr(op, err)
	}
	return stored, nil
}

func (s *SQLiteStore) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM subscriptions ORDER BY owner_email, id")
	if err != nil {
		return nil, backendErr("read subscriptions", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, backendErr("read subscriptions", err)
		}
		var sub models.Subscription
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			logger.Error("Failed to unmarshal subscription: %v", err)
			continue
		}
		out = append(out, sub)
	}
	return out, backendErr("read subscriptions", rows.Err())
}

func (s *SQLiteStore) PutSubscription(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	const op = "put subscription"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if sub.ID == 0 {
		row := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM subscriptions WHERE owner_email = ?", sub.OwnerEmail)
		if err := row.Scan(&sub.ID); err != nil {
			return models.Subscription{}, backendErr(op, err)
		}
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (owner_email, id, payload) VALUES (?, ?, ?)
        ON CONFLICT (owner_email, id) DO UPDATE SET payload = excluded.payload`,
		sub.OwnerEmail, sub.ID, string(payload),
	)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	return sub, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
