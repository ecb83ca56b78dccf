package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reading is one timestamped price sample. Readings are append-only.
type Reading struct {
	ID        int64
	Timestamp time.Time
	Price     decimal.Decimal
}

// Settings is the singleton notification configuration.
type Settings struct {
	NotificationsEnabled bool
	Recipient            string
	LastNotifiedAt       *time.Time
	UpdatedAt            time.Time
}

// CanNotify reports whether a notification may be delivered at all.
func (s Settings) CanNotify() bool {
	return s.NotificationsEnabled && s.Recipient != ""
}
