package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// SMTPOptions describe an authenticated STARTTLS relay.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier 通过 SMTP 发送邮件告警。
type SMTPNotifier struct {
	opts   SMTPOptions
	logger zerolog.Logger
	send   func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPNotifier 构造 SMTP 告警器。
func NewSMTPNotifier(opts SMTPOptions, logger zerolog.Logger) *SMTPNotifier {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.From == "" {
		opts.From = opts.Username
	}

	n := &SMTPNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_smtp").Logger(),
	}
	n.send = n.dialAndSend
	return n
}

// Notify renders the alert and hands it to the relay.
func (n *SMTPNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Recipient == "" {
		return errors.New("smtp: recipient is empty")
	}

	msg := mail.NewMsg()
	if err := msg.From(n.opts.From); err != nil {
		return fmt.Errorf("smtp from address: %w", err)
	}
	if err := msg.To(note.Recipient); err != nil {
		return fmt.Errorf("smtp recipient address: %w", err)
	}
	msg.Subject(subjectOf(note))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, renderMessage(note))

	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("send smtp message: %w", err)
	}

	n.logger.Info().Str("recipient", note.Recipient).
		Str("price", note.Price.StringFixed(2)).
		Msg("告警已发送 (SMTP)")
	return nil
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	options := []mail.Option{
		mail.WithPort(n.opts.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(n.opts.Timeout),
	}
	if n.opts.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.opts.Username),
			mail.WithPassword(n.opts.Password),
		)
	}

	client, err := mail.NewClient(n.opts.Host, options...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

var _ Notifier = (*SMTPNotifier)(nil)
