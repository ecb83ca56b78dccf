package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"goldwatch/internal/alerting"
	"goldwatch/internal/config"
	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/metrics"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/storage"
)

// Stage errors. Wrapped errors keep the underlying cause reachable via errors.Is/As.
var (
	ErrFetch        = errors.New("fetch price")
	ErrPersistence  = errors.New("persistence")
	ErrNotification = errors.New("notification")
)

// Store is the persistence the poll loop needs.
type Store interface {
	storage.ReadingStore
	storage.SettingsStore
}

// Outcome describes one completed poll cycle.
type Outcome struct {
	Reading      storage.Reading
	TodayMin     *decimal.Decimal
	YesterdayMin *decimal.Decimal
	NewLow       bool
	Notified     bool
	// Reason explains why a triggered cycle did not notify.
	Reason string
}

// Reasons a new low was not turned into a notification.
const (
	ReasonDisabled    = "disabled"
	ReasonNoRecipient = "no_recipient"
	ReasonRateLimited = "rate_limited"
	ReasonLocked      = "locked"
)

// Service orchestrates fetching, persistence, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.PriceSource
	store     Store
	notifier  alerting.Notifier
	publisher events.Publisher
	logger    zerolog.Logger

	policy   string
	window   time.Duration
	location *time.Location
	currency string
	unit     string
	subject  string
	locker   storage.AdvisoryLocker
	lockKey  int64
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	group singleflight.Group
}

// New constructs the poll-and-alert service.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.PriceSource, store Store, notifier alerting.Notifier, publisher events.Publisher, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Service{
		scheduler: sched,
		source:    source,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger.With().Str("component", "service").Logger(),
		policy:    cfg.Alert.Policy,
		window:    cfg.Alert.RateLimitWindow,
		location:  cfg.Location(),
		currency:  cfg.Alert.Currency,
		unit:      cfg.Source.Unit,
		subject:   cfg.Mail.Subject,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		timeout:   cfg.Scheduler.CycleTimeout,
		now:       time.Now,
	}
}

// Run begins the periodic poll loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick adapts RunCycle to the scheduler callback.
func (s *Service) ProcessTick(ctx context.Context, _ time.Time) error {
	_, err := s.RunCycle(ctx)
	return err
}

// RunCycle 执行一次轮询 (取价, 落库, 判定新低, 按频控告警), 并发调用方共享同一轮, 调用方取消不会中断已开始的一轮。
func (s *Service) RunCycle(ctx context.Context) (Outcome, error) {
	v, err, shared := s.group.Do("poll", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		cycleCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			cycleCtx, cancel = context.WithTimeout(cycleCtx, s.timeout)
			defer cancel()
		}
		return s.guardedCycle(cycleCtx)
	})
	if shared {
		s.logger.Debug().Msg("joined in-flight poll cycle")
	}
	outcome, _ := v.(Outcome)
	return outcome, err
}

func (s *Service) guardedCycle(ctx context.Context) (Outcome, error) {
	start := time.Now()
	defer func() { metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("persistence_error").Inc()
		return Outcome{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		metrics.PollCyclesTotal.WithLabelValues("skipped").Inc()
		return Outcome{Reason: ReasonLocked}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	outcome, err := s.executeCycle(ctx)
	metrics.PollCyclesTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return outcome, err
}

func (s *Service) executeCycle(ctx context.Context) (Outcome, error) {
	var outcome Outcome

	price, err := s.source.FetchPrice(ctx)
	if err != nil {
		return outcome, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if !price.IsPositive() {
		return outcome, fmt.Errorf("%w: non-positive price %s", ErrFetch, price)
	}

	now := s.now()
	dayStart, dayEnd := s.dayBounds(now)

	outcome.TodayMin, err = s.store.MinPriceBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return outcome, fmt.Errorf("%w: query today min: %w", ErrPersistence, err)
	}
	if s.policy == config.PolicyTodayOrYesterday {
		outcome.YesterdayMin, err = s.store.MinPriceBetween(ctx, dayStart.AddDate(0, 0, -1), dayStart)
		if err != nil {
			return outcome, fmt.Errorf("%w: query yesterday min: %w", ErrPersistence, err)
		}
	}

	outcome.Reading, err = s.store.AppendReading(ctx, storage.Reading{Timestamp: now.UTC(), Price: price})
	if err != nil {
		return outcome, fmt.Errorf("%w: append reading: %w", ErrPersistence, err)
	}

	metrics.LatestPrice.Set(price.InexactFloat64())
	outcome.NewLow = isNewLow(price, outcome.TodayMin, outcome.YesterdayMin)

	log := s.logger.With().Str("price", price.StringFixed(2)).Bool("new_low", outcome.NewLow).Logger()
	if outcome.TodayMin != nil {
		log = log.With().Str("today_min", outcome.TodayMin.StringFixed(2)).Logger()
	}
	log.Info().Msg("reading recorded")

	s.publishReading(ctx, outcome)

	if !outcome.NewLow {
		return outcome, nil
	}
	return s.maybeNotify(ctx, now, outcome)
}

func (s *Service) maybeNotify(ctx context.Context, now time.Time, outcome Outcome) (Outcome, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return outcome, fmt.Errorf("%w: load settings: %w", ErrPersistence, err)
	}

	switch {
	case !settings.NotificationsEnabled:
		outcome.Reason = ReasonDisabled
	case settings.Recipient == "":
		outcome.Reason = ReasonNoRecipient
	case !windowElapsed(settings.LastNotifiedAt, now, s.window):
		outcome.Reason = ReasonRateLimited
	}
	if outcome.Reason != "" {
		metrics.AlertsTotal.WithLabelValues(outcome.Reason).Inc()
		s.logger.Debug().Str("reason", outcome.Reason).Msg("new low not notified")
		return outcome, nil
	}
	if s.notifier == nil {
		return outcome, fmt.Errorf("%w: notifier not configured", ErrNotification)
	}

	previous := outcome.TodayMin
	if previous == nil {
		previous = outcome.YesterdayMin
	}
	note := alerting.Notification{
		Recipient:   settings.Recipient,
		Subject:     s.subject,
		Price:       outcome.Reading.Price,
		PreviousLow: previous,
		Currency:    s.currency,
		Unit:        s.unit,
		At:          now,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		return outcome, fmt.Errorf("%w: %w", ErrNotification, err)
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	outcome.Notified = true

	if err := s.store.MarkNotified(ctx, now.UTC()); err != nil {
		return outcome, fmt.Errorf("%w: mark notified: %w", ErrPersistence, err)
	}

	if err := s.publisher.PublishAlert(ctx, events.AlertEvent{
		Timestamp: now.UTC(),
		Price:     outcome.Reading.Price.String(),
		Recipient: settings.Recipient,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish alert event")
	}

	s.logger.Info().Str("recipient", settings.Recipient).
		Str("price", outcome.Reading.Price.StringFixed(2)).
		Msg("new low notification sent")
	return outcome, nil
}

func (s *Service) publishReading(ctx context.Context, outcome Outcome) {
	ev := events.ReadingEvent{
		ID:        outcome.Reading.ID,
		Timestamp: outcome.Reading.Timestamp,
		Price:     outcome.Reading.Price.String(),
		NewLow:    outcome.NewLow,
	}
	if outcome.TodayMin != nil {
		ev.TodayMin = outcome.TodayMin.String()
	}
	if err := s.publisher.PublishReading(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish reading event")
	}
}

// TodayReadings returns the readings of the current calendar day in ascending order.
func (s *Service) TodayReadings(ctx context.Context) ([]storage.Reading, error) {
	from, to := s.dayBounds(s.now())
	readings, err := s.store.ListReadingsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: list today: %w", ErrPersistence, err)
	}
	return readings, nil
}

// Location is the zone used for calendar day boundaries.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) dayBounds(now time.Time) (time.Time, time.Time) {
	loc := s.location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func isNewLow(price decimal.Decimal, todayMin, yesterdayMin *decimal.Decimal) bool {
	if todayMin == nil || price.LessThan(*todayMin) {
		return true
	}
	return yesterdayMin != nil && price.LessThan(*yesterdayMin)
}

func windowElapsed(last *time.Time, now time.Time, window time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) > window
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	case errors.Is(err, ErrNotification):
		return "notification_error"
	default:
		return "persistence_error"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
