package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装新低告警上下文。
type Notification struct {
	Recipient   string
	Subject     string
	Price       decimal.Decimal
	PreviousLow *decimal.Decimal
	Currency    string
	Unit        string
	At          time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier only writes the alert to the log. Useful without a mail relay.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("recipient", note.Recipient).
		Str("price", note.Price.StringFixed(2)).
		Msg(renderMessage(note))
	return nil
}

func subjectOf(note Notification) string {
	if note.Subject != "" {
		return note.Subject
	}
	return "Gold Price Alert"
}

func renderMessage(note Notification) string {
	currency := note.Currency
	if currency == "" {
		currency = "€"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("The gold price is now %s %s, which is a new low.\n", note.Price.StringFixed(2), currency))
	if note.Unit != "" {
		builder.WriteString(fmt.Sprintf("Unit: per %s\n", note.Unit))
	}
	if note.PreviousLow != nil {
		builder.WriteString(fmt.Sprintf("Previous low: %s %s\n", note.PreviousLow.StringFixed(2), currency))
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*LogNotifier)(nil)
