package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMemoryReadings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	low, err := store.MinPriceBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Nil(t, low)

	for i, p := range []string{"10", "9.5", "9.8"} {
		r, err := store.AppendReading(ctx, Reading{Timestamp: day.Add(time.Duration(i) * time.Hour), Price: decimal.RequireFromString(p)})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), r.ID)
	}
	_, err = store.AppendReading(ctx, Reading{Timestamp: day.AddDate(0, 0, 1), Price: decimal.RequireFromString("1")})
	require.NoError(t, err)

	low, err = store.MinPriceBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, "9.5", low.String())

	between, err := store.ListReadingsBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, between, 3, "upper bound is exclusive")
	require.True(t, between[0].Timestamp.Before(between[2].Timestamp))

	recent, err := store.ListRecentReadings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "1", recent[0].Price.String())
}

func TestMemorySettingsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	empty, err := store.GetSettings(ctx)
	require.NoError(t, err)
	require.False(t, empty.CanNotify())

	form := Settings{NotificationsEnabled: true, Recipient: "owner@example.com"}
	require.NoError(t, store.PutSettings(ctx, form))
	require.NoError(t, store.PutSettings(ctx, form))

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	require.True(t, got.CanNotify())
	require.Equal(t, "owner@example.com", got.Recipient)
	require.Nil(t, got.LastNotifiedAt)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkNotified(ctx, at))

	// the form never clears the notification timestamp
	stale := at.Add(-time.Hour)
	require.NoError(t, store.PutSettings(ctx, Settings{NotificationsEnabled: false, Recipient: "other@example.com", LastNotifiedAt: &stale}))

	got, err = store.GetSettings(ctx)
	require.NoError(t, err)
	require.False(t, got.NotificationsEnabled)
	require.Equal(t, "other@example.com", got.Recipient)
	require.NotNil(t, got.LastNotifiedAt)
	require.True(t, got.LastNotifiedAt.Equal(at))
}
