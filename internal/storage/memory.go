package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps readings and settings in process memory. It backs the
// "memory" driver and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []Reading
	settings *Settings
	nextID   int64
}

// NewMemoryStore returns an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// AppendReading stores a reading and assigns it an id.
func (m *MemoryStore) AppendReading(_ context.Context, reading Reading) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	reading.ID = m.nextID
	m.readings = append(m.readings, reading)
	return reading, nil
}

// MinPriceBetween returns the lowest price recorded in [from, to).
func (m *MemoryStore) MinPriceBetween(_ context.Context, from, to time.Time) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var min *decimal.Decimal
	for i := range m.readings {
		r := m.readings[i]
		if !inRange(r.Timestamp, from, to) {
			continue
		}
		if min == nil || r.Price.LessThan(*min) {
			price := r.Price
			min = &price
		}
	}
	return min, nil
}

// ListReadingsBetween lists readings within a time window in chronological order.
func (m *MemoryStore) ListReadingsBetween(_ context.Context, from, to time.Time) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reading, 0)
	for _, r := range m.readings {
		if inRange(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListRecentReadings lists the most recent readings, newest first.
func (m *MemoryStore) ListRecentReadings(_ context.Context, limit int) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reading, len(m.readings))
	copy(out, m.readings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetSettings returns a copy of the singleton settings record.
func (m *MemoryStore) GetSettings(_ context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return Settings{}, nil
	}
	out := *m.settings
	if out.LastNotifiedAt != nil {
		at := *out.LastNotifiedAt
		out.LastNotifiedAt = &at
	}
	return out, nil
}

// PutSettings upserts the notification preferences.
func (m *MemoryStore) PutSettings(_ context.Context, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings == nil {
		m.settings = &Settings{}
	}
	m.settings.NotificationsEnabled = settings.NotificationsEnabled
	m.settings.Recipient = settings.Recipient
	m.settings.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkNotified records the time of the last delivered notification.
func (m *MemoryStore) MarkNotified(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings == nil {
		m.settings = &Settings{}
	}
	m.settings.LastNotifiedAt = &at
	m.settings.UpdatedAt = time.Now().UTC()
	return nil
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

var _ Repository = (*MemoryStore)(nil)
