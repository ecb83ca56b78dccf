package app

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"goldwatch/internal/storage"
)

// SettingsUpdate carries optional changes; nil fields keep their stored value.
type SettingsUpdate struct {
	Enabled   *bool
	Recipient *string
}

// ShowSettings prints the stored notification settings.
func (a *App) ShowSettings(ctx context.Context, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	printSettings(out, settings)
	return nil
}

// UpdateSettings applies the update the same way the settings form does.
func (a *App) UpdateSettings(ctx context.Context, out io.Writer, update SettingsUpdate) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if update.Enabled != nil {
		settings.NotificationsEnabled = *update.Enabled
	}
	if update.Recipient != nil {
		recipient := strings.TrimSpace(*update.Recipient)
		if recipient != "" {
			addr, err := mail.ParseAddress(recipient)
			if err != nil {
				return fmt.Errorf("invalid recipient: %w", err)
			}
			recipient = addr.Address
		}
		settings.Recipient = recipient
	}
	if settings.NotificationsEnabled && settings.Recipient == "" {
		return fmt.Errorf("a recipient is required when notifications are enabled")
	}

	if err := store.PutSettings(ctx, settings); err != nil {
		return err
	}
	saved, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	printSettings(out, saved)
	return nil
}

func printSettings(out io.Writer, s storage.Settings) {
	last := "never"
	if s.LastNotifiedAt != nil {
		last = s.LastNotifiedAt.UTC().Format(time.RFC3339)
	}
	recipient := s.Recipient
	if recipient == "" {
		recipient = "(none)"
	}
	fmt.Fprintf(out, "notifications_enabled: %t\nrecipient: %s\nlast_notified_at: %s\n", s.NotificationsEnabled, recipient, last)
}
