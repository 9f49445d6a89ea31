package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, backendErr("open", fmt.Errorf("parse dsn: %w", err))
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, backendErr("open", fmt.Errorf("connect: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, backendErr("open", fmt.Errorf("ping: %w", err))
	}

	s := &PostgresStore{pool: pool}
	if err := s.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, backendErr("migrate", err)
	}
	logger.Info("PostgreSQL store connected")
	return s, nil
}

func (s *PostgresStore) applyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := tx.QueryRow(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = $1", m.version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		for _, stmt := range m.statements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec models.TournamentRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (id, name, date, level, region, lat, lon, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			date = EXCLUDED.date,
			level = EXCLUDED.level,
			region = EXCLUDED.region,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			updated_at = now()`,
		rec.ID, rec.Name, models.DateOnly(rec.Date), rec.Level.Letter(), rec.Region, rec.Position.Lat, rec.Position.Lon,
	)
	return backendErr("upsert record", err)
}

func (s *PostgresStore) Records(ctx context.Context, f RecordFilter) ([]models.TournamentRecord, error) {
	q, args := recordQuery(f,
		func(n int) string { return "$" + strconv.Itoa(n) },
		func(t time.Time) any { return t },
	)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, backendErr("read records", err)
	}
	defer rows.Close()

	var out []models.TournamentRecord
	for rows.Next() {
		var (
			rec   models.TournamentRecord
			level string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Date, &level, &rec.Region, &rec.Position.Lat, &rec.Position.Lon); err != nil {
			return nil, backendErr("read records", err)
		}
		if rec.Level, err = models.ParseLevel(level); err != nil {
			logger.Error("Skipping record %d with bad level %q: %v", rec.ID, level, err)
			continue
		}
		rec.Date = models.DateOnly(rec.Date)
		out = append(out, rec)
	}
	return out, backendErr("read records", rows.Err())
}

func pgCursor(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, op, suffix string) (int, error) {
	var raw string
	err := q.QueryRow(ctx, "SELECT value FROM meta WHERE key = 'cursor'"+suffix).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) LoadCursor(ctx context.Context) (int, error) {
	return pgCursor(ctx, s.pool, "load cursor", "")
}

func (s *PostgresStore) AdvanceCursor(ctx context.Context, n int) (int, error) {
	const op = "advance cursor"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, backendErr(op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	stored := n
	old, err := pgCursor(ctx, tx, op, " FOR UPDATE")
	switch {
	case err == nil:
		stored = max(old, n)
	case isKind(err, KindCorrupt):
		logger.Warn("Overwriting corrupt cursor: %v", err)
	case !isKind(err, KindNotFound):
		return 0, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO meta (key, value) VALUES ('cursor', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		strconv.Itoa(stored),
	)
	if err != nil {
		return 0, backendErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, backendErr(op, err)
	}
	return stored, nil
}

func (s *PostgresStore) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, "SELECT payload FROM subscriptions ORDER BY owner_email, id")
	if err != nil {
		return nil, backendErr("read subscriptions", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, backendErr("read subscriptions", err)
		}
		var sub models.Subscription
		if err := json.Unmarshal(payload, &sub); err != nil {
			logger.Error("Failed to unmarshal subscription: %v", err)
			continue
		}
		out = append(out, sub)
	}
	return out, backendErr("read subscriptions", rows.Err())
}

func (s *PostgresStore) PutSubscription(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	const op = "put subscription"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if sub.ID == 0 {
		// Serialize id assignment per owner.
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", sub.OwnerEmail); err != nil {
			return models.Subscription{}, backendErr(op, err)
		}
		row := tx.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM subscriptions WHERE owner_email = $1", sub.OwnerEmail)
		if err := row.Scan(&sub.ID); err != nil {
			return models.Subscription{}, backendErr(op, err)
		}
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (owner_email, id, payload) VALUES ($1, $2, $3)
		ON CONFLICT (owner_email, id) DO UPDATE SET payload = EXCLUDED.payload`,
		sub.OwnerEmail, sub.ID, payload,
	)
	if err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Subscription{}, backendErr(op, err)
	}
	return sub, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
