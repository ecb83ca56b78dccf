package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"goldwatch/internal/config"
)

const settingsRowID = 1

type readingRow struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time       `gorm:"column:ts;not null;index:idx_readings_ts"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	CreatedAt time.Time
}

func (readingRow) TableName() string { return "readings" }

type settingsRow struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement:false"`
	NotificationsEnabled bool   `gorm:"not null"`
	Recipient            string `gorm:"type:varchar(320);not null"`
	LastNotifiedAt       *time.Time
	UpdatedAt            time.Time
}

func (settingsRow) TableName() string { return "settings" }

// GormStore persists readings and settings on MySQL through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a MySQL connection and tunes its pool.
func NewGormStore(cfg config.DatabaseConfig) (*GormStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewGormStoreFromDB(db), nil
}

// NewGormStoreFromDB wraps an existing gorm handle.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// EnsureSchema creates the tables when they are missing.
func (s *GormStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&readingRow{}, &settingsRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connections.
func (s *GormStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// AppendReading inserts a new reading.
func (s *GormStore) AppendReading(ctx context.Context, reading Reading) (Reading, error) {
	row := readingRow{Timestamp: reading.Timestamp, Price: reading.Price}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Reading{}, fmt.Errorf("append reading: %w", err)
	}
	reading.ID = row.ID
	return reading, nil
}

// MinPriceBetween returns the lowest price recorded in [from, to).
func (s *GormStore) MinPriceBetween(ctx context.Context, from, to time.Time) (*decimal.Decimal, error) {
	var min decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&readingRow{}).
		Select("MIN(price)").
		Where("ts >= ? AND ts < ?", from, to).
		Row().
		Scan(&min)
	if err != nil {
		return nil, fmt.Errorf("min price between: %w", err)
	}
	if !min.Valid {
		return nil, nil
	}
	return &min.Decimal, nil
}

// ListReadingsBetween lists readings within a time window in chronological order.
func (s *GormStore) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("ts >= ? AND ts < ?", from, to).
		Order("ts, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list readings between: %w", err)
	}
	return toReadings(rows), nil
}

// ListRecentReadings lists the most recent readings, newest first.
func (s *GormStore) ListRecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Order("ts DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recent readings: %w", err)
	}
	return toReadings(rows), nil
}

// GetSettings loads the singleton settings record.
func (s *GormStore) GetSettings(ctx context.Context) (Settings, error) {
	var row settingsRow
	err := s.db.WithContext(ctx).Where("id = ?", settingsRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return Settings{
		NotificationsEnabled: row.NotificationsEnabled,
		Recipient:            row.Recipient,
		LastNotifiedAt:       row.LastNotifiedAt,
		UpdatedAt:            row.UpdatedAt,
	}, nil
}

// PutSettings upserts the notification preferences.
func (s *GormStore) PutSettings(ctx context.Context, settings Settings) error {
	row := settingsRow{
		ID:                   settingsRowID,
		NotificationsEnabled: settings.NotificationsEnabled,
		Recipient:            settings.Recipient,
		UpdatedAt:            time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"notifications_enabled", "recipient", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

// MarkNotified records the time of the last delivered notification.
func (s *GormStore) MarkNotified(ctx context.Context, at time.Time) error {
	row := settingsRow{
		ID:             settingsRowID,
		LastNotifiedAt: &at,
		UpdatedAt:      time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_notified_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func toReadings(rows []readingRow) []Reading {
	readings := make([]Reading, 0, len(rows))
	for _, row := range rows {
		readings = append(readings, Reading{ID: row.ID, Timestamp: row.Timestamp, Price: row.Price})
	}
	return readings
}

var _ Repository = (*GormStore)(nil)
