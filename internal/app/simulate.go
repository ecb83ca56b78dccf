package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"goldwatch/internal/alerting"
)

// SimulateAlert 通过给定价格直接发送一次告警, 不写库也不受频控限制。
// An empty recipient falls back to the stored settings.
func (a *App) SimulateAlert(ctx context.Context, price decimal.Decimal, recipient string) error {
	if !price.IsPositive() {
		return errors.New("price must be greater than zero")
	}

	if recipient == "" {
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		settings, err := store.GetSettings(ctx)
		store.Close()
		if err != nil {
			return err
		}
		recipient = settings.Recipient
	}
	if recipient == "" {
		return errors.New("no recipient: pass --to or save one via settings set")
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()

	return notifier.Notify(ctx, alerting.Notification{
		Recipient: recipient,
		Subject:   a.Config.Mail.Subject,
		Price:     price,
		Currency:  a.Config.Alert.Currency,
		Unit:      a.Config.Source.Unit,
		At:        time.Now().UTC(),
	})
}
