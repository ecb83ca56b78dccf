// Package events fans poll results out to NATS subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"goldwatch/internal/metrics"
)

// Subjects relative to the configured prefix.
const (
	SubjectReading = "reading"
	SubjectAlert   = "alert"
)

// ReadingEvent is published after every stored reading.
type ReadingEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Price     string    `json:"price"`
	TodayMin  string    `json:"today_min,omitempty"`
	NewLow    bool      `json:"new_low"`
}

// AlertEvent is published once a notification was delivered.
type AlertEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Price     string    `json:"price"`
	Recipient string    `json:"recipient"`
}

// Publisher 发布领域事件。
type Publisher interface {
	PublishReading(ctx context.Context, ev ReadingEvent) error
	PublishAlert(ctx context.Context, ev AlertEvent) error
	Close()
}

// NATSPublisher NATS 发布者
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher 连接 NATS 并创建发布者
func NewNATSPublisher(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "events").Logger()
	conn, err := nats.Connect(url,
		nats.Name("goldwatch"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSPublisherFromConn(conn, prefix, logger), nil
}

// NewNATSPublisherFromConn wraps an existing connection.
func NewNATSPublisherFromConn(conn *nats.Conn, prefix string, logger zerolog.Logger) *NATSPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "goldwatch"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger.With().Str("component", "events").Logger()}
}

// Subject returns the fully qualified subject for name.
func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + "." + name
}

// PublishReading 发布读数事件
func (p *NATSPublisher) PublishReading(_ context.Context, ev ReadingEvent) error {
	return p.publish(p.Subject(SubjectReading), ev)
}

// PublishAlert 发布告警事件
func (p *NATSPublisher) PublishAlert(_ context.Context, ev AlertEvent) error {
	return p.publish(p.Subject(SubjectAlert), ev)
}

func (p *NATSPublisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(subject, "failed").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(subject, "success").Inc()
	return nil
}

// Close 刷新并关闭连接
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Debug().Err(err).Msg("nats drain failed")
		p.conn.Close()
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishReading(context.Context, ReadingEvent) error { return nil }
func (Nop) PublishAlert(context.Context, AlertEvent) error     { return nil }
func (Nop) Close()                                             {}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)
