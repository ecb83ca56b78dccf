package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

var ensureSchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS readings (
        id         BIGSERIAL PRIMARY KEY,
        ts         TIMESTAMPTZ NOT NULL,
        price      NUMERIC(20,8) NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS readings_ts_idx ON readings (ts);`,
	`CREATE TABLE IF NOT EXISTS settings (
        id                    SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
        notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
        recipient             TEXT NOT NULL DEFAULT '',
        last_notified_at      TIMESTAMPTZ,
        updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

const (
	insertReadingSQL = `INSERT INTO readings (ts, price)
    VALUES ($1, $2)
    RETURNING id;`

	minPriceBetweenSQL = `SELECT MIN(price)::text
    FROM readings
    WHERE ts >= $1
      AND ts < $2;`

	listReadingsBetweenSQL = `SELECT id, ts, price::text
    FROM readings
    WHERE ts >= $1
      AND ts < $2
    ORDER BY ts, id;`

	listRecentReadingsSQL = `SELECT id, ts, price::text
    FROM readings
    ORDER BY ts DESC, id DESC
    LIMIT $1;`

	getSettingsSQL = `SELECT notifications_enabled, recipient, last_notified_at, updated_at
    FROM settings
    WHERE id = 1;`

	upsertSettingsSQL = `INSERT INTO settings (id, notifications_enabled, recipient, updated_at)
    VALUES (1, $1, $2, now())
    ON CONFLICT (id) DO UPDATE
    SET notifications_enabled = EXCLUDED.notifications_enabled,
        recipient             = EXCLUDED.recipient,
        updated_at            = EXCLUDED.updated_at;`

	markNotifiedSQL = `INSERT INTO settings (id, last_notified_at, updated_at)
    VALUES (1, $1, now())
    ON CONFLICT (id) DO UPDATE
    SET last_notified_at = EXCLUDED.last_notified_at,
        updated_at       = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore defines operations for price reading persistence.
type ReadingStore interface {
	AppendReading(ctx context.Context, reading Reading) (Reading, error)
	// MinPriceBetween returns nil when no reading falls in [from, to).
	MinPriceBetween(ctx context.Context, from, to time.Time) (*decimal.Decimal, error)
	ListReadingsBetween(ctx context.Context, from, to time.Time) ([]Reading, error)
	ListRecentReadings(ctx context.Context, limit int) ([]Reading, error)
}

// SettingsStore defines operations on the singleton settings record.
type SettingsStore interface {
	// GetSettings returns the zero value when no record exists yet.
	GetSettings(ctx context.Context) (Settings, error)
	// PutSettings upserts the form fields; LastNotifiedAt is ignored.
	PutSettings(ctx context.Context, settings Settings) error
	MarkNotified(ctx context.Context, at time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to readings and settings on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range ensureSchemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also dies with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendReading inserts a new reading and returns it with its id.
func (s *Store) AppendReading(ctx context.Context, reading Reading) (Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return Reading{}, err
	}

	if err := pool.QueryRow(ctx, insertReadingSQL, reading.Timestamp, reading.Price.String()).Scan(&reading.ID); err != nil {
		return Reading{}, fmt.Errorf("append reading: %w", err)
	}
	return reading, nil
}

// MinPriceBetween returns the lowest price recorded in [from, to).
func (s *Store) MinPriceBetween(ctx context.Context, from, to time.Time) (*decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var minStr sql.NullString
	if err := pool.QueryRow(ctx, minPriceBetweenSQL, from, to).Scan(&minStr); err != nil {
		return nil, fmt.Errorf("min price between: %w", err)
	}
	if !minStr.Valid {
		return nil, nil
	}

	min, err := decimal.NewFromString(minStr.String)
	if err != nil {
		return nil, fmt.Errorf("parse min price: %w", err)
	}
	return &min, nil
}

// ListReadingsBetween lists readings within a time window in chronological order.
func (s *Store) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings between: %w", queryErr)
	}
	return collectReadings(rows, 0)
}

// ListRecentReadings lists the most recent readings, newest first.
func (s *Store) ListRecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	return collectReadings(rows, limit)
}

// GetSettings loads the singleton settings record.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	pool, err := s.getPool()
	if err != nil {
		return Settings{}, err
	}

	var (
		settings     Settings
		lastNotified sql.NullTime
	)
	scanErr := pool.QueryRow(ctx, getSettingsSQL).Scan(
		&settings.NotificationsEnabled,
		&settings.Recipient,
		&lastNotified,
		&settings.UpdatedAt,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	if scanErr != nil {
		return Settings{}, fmt.Errorf("get settings: %w", scanErr)
	}
	if lastNotified.Valid {
		at := lastNotified.Time
		settings.LastNotifiedAt = &at
	}
	return settings, nil
}

// PutSettings upserts the notification preferences.
func (s *Store) PutSettings(ctx context.Context, settings Settings) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSettingsSQL, settings.NotificationsEnabled, settings.Recipient); execErr != nil {
		return fmt.Errorf("put settings: %w", execErr)
	}
	return nil
}

// MarkNotified records the time of the last delivered notification.
func (s *Store) MarkNotified(ctx context.Context, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markNotifiedSQL, at); execErr != nil {
		return fmt.Errorf("mark notified: %w", execErr)
	}
	return nil
}

func collectReadings(rows pgx.Rows, capacity int) ([]Reading, error) {
	defer rows.Close()

	readings := make([]Reading, 0, capacity)
	for rows.Next() {
		var (
			reading  Reading
			priceStr string
		)
		if err := rows.Scan(&reading.ID, &reading.Timestamp, &priceStr); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		reading.Price = price
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
