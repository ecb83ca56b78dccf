package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"goldwatch/internal/config"
)

// exerciseRepository runs the shared read/write contract against a backend.
// Readings land on a synthetic day so reruns against a live database do not collide.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	day := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano()%100000) * 24 * time.Hour)
	next := day.AddDate(0, 0, 1)

	for i, p := range []string{"81.12345678", "80.5", "80.75"} {
		r, err := repo.AppendReading(ctx, Reading{Timestamp: day.Add(time.Duration(i) * time.Minute), Price: decimal.RequireFromString(p)})
		require.NoError(t, err)
		require.NotZero(t, r.ID)
	}

	low, err := repo.MinPriceBetween(ctx, day, next)
	require.NoError(t, err)
	require.NotNil(t, low)
	require.True(t, decimal.RequireFromString("80.5").Equal(*low), "min %s", low)

	none, err := repo.MinPriceBetween(ctx, next, next.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Nil(t, none)

	readings, err := repo.ListReadingsBetween(ctx, day, next)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	require.True(t, decimal.RequireFromString("81.12345678").Equal(readings[0].Price))

	form := Settings{NotificationsEnabled: true, Recipient: "owner@example.com"}
	require.NoError(t, repo.PutSettings(ctx, form))
	require.NoError(t, repo.PutSettings(ctx, form))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkNotified(ctx, at))
	require.NoError(t, repo.PutSettings(ctx, form))

	got, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	require.True(t, got.CanNotify())
	require.NotNil(t, got.LastNotifiedAt)
	require.True(t, got.LastNotifiedAt.Equal(at))

	require.NoError(t, repo.PutSettings(ctx, Settings{NotificationsEnabled: false, Recipient: "owner@example.com"}))
	got, err = repo.GetSettings(ctx)
	require.NoError(t, err)
	require.False(t, got.NotificationsEnabled)
	require.False(t, got.CanNotify())
	require.Equal(t, "owner@example.com", got.Recipient)
	require.NotNil(t, got.LastNotifiedAt)
}

func TestMemoryRepositoryContract(t *testing.T) {
	exerciseRepository(t, NewMemoryStore())
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("GOLDWATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("GOLDWATCH_TEST_DSN not set")
	}

	repo, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverPostgres, DSN: dsn, MaxOpenConns: 4, EnsureSchema: true})
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)

	locker, ok := repo.(AdvisoryLocker)
	require.True(t, ok)
	unlock, acquired, err := locker.TryAdvisoryLock(context.Background(), 0x676f6c64+1)
	require.NoError(t, err)
	require.True(t, acquired)
	unlock()
}

func TestMySQLRepository(t *testing.T) {
	dsn := os.Getenv("GOLDWATCH_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("GOLDWATCH_TEST_MYSQL_DSN not set")
	}

	repo, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverMySQL, DSN: dsn, MaxOpenConns: 4, EnsureSchema: true})
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)
}
