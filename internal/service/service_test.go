package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"goldwatch/internal/alerting"
	"goldwatch/internal/config"
	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/storage"
)

type scriptedSource struct {
	mu     sync.Mutex
	prices []string
	err    error
}

func (s *scriptedSource) FetchPrice(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	if len(s.prices) == 0 {
		return decimal.Decimal{}, errors.New("no scripted price left")
	}
	next := s.prices[0]
	s.prices = s.prices[1:]
	return decimal.RequireFromString(next), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []alerting.Notification
	err   error
	block chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	events.Nop
	readings []events.ReadingEvent
	alerts   []events.AlertEvent
}

func (p *recordingPublisher) PublishReading(_ context.Context, ev events.ReadingEvent) error {
	p.readings = append(p.readings, ev)
	return nil
}

func (p *recordingPublisher) PublishAlert(_ context.Context, ev events.AlertEvent) error {
	p.alerts = append(p.alerts, ev)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc      *Service
	store    *storage.MemoryStore
	source   *scriptedSource
	notifier *recordingNotifier
	clock    *clock
}

func newFixture(t *testing.T, policy string, window time.Duration, prices ...string) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Alert.Policy = policy
	cfg.Alert.RateLimitWindow = window
	cfg.Alert.Currency = "€"
	cfg.Source.Unit = "gram"

	f := &fixture{
		store:    storage.NewMemoryStore(),
		source:   &scriptedSource{prices: prices},
		notifier: &recordingNotifier{},
		clock:    &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = New(cfg, nil, f.source, f.store, f.notifier, nil, zerolog.Nop())
	f.svc.now = f.clock.now
	return f
}

func (f *fixture) enable(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.PutSettings(context.Background(), storage.Settings{NotificationsEnabled: true, Recipient: "owner@example.com"}))
}

func TestNewLowScenario(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10.0", "9.5", "9.8")
	ctx := context.Background()

	first, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, first.NewLow, "first reading of the day has no prior minimum")
	require.Nil(t, first.TodayMin)

	f.clock.advance(90 * time.Second)
	second, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, second.NewLow)
	require.Equal(t, "10", second.TodayMin.String())

	f.clock.advance(90 * time.Second)
	third, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.False(t, third.NewLow)
	require.Equal(t, "9.5", third.TodayMin.String())
}

func TestNotifiesOnNewLowAndRecordsTimestamp(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10.0", "9.5")
	f.enable(t)
	ctx := context.Background()

	out, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, out.Notified)
	require.Equal(t, 1, f.notifier.count())
	require.Equal(t, "owner@example.com", f.notifier.sent[0].Recipient)
	require.Equal(t, "10", f.notifier.sent[0].Price.String())

	settings, err := f.store.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings.LastNotifiedAt)
	require.True(t, settings.LastNotifiedAt.Equal(f.clock.t))
}

func TestDisabledNeverSends(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10", "9", "8", "7")
	require.NoError(t, f.store.PutSettings(context.Background(), storage.Settings{NotificationsEnabled: false, Recipient: "owner@example.com"}))

	for i := 0; i < 4; i++ {
		out, err := f.svc.RunCycle(context.Background())
		require.NoError(t, err)
		require.True(t, out.NewLow)
		require.Equal(t, ReasonDisabled, out.Reason)
		f.clock.advance(2 * time.Hour)
	}
	require.Equal(t, 0, f.notifier.count())
}

func TestMissingRecipientNeverSends(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10")
	require.NoError(t, f.store.PutSettings(context.Background(), storage.Settings{NotificationsEnabled: true}))

	out, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonNoRecipient, out.Reason)
	require.Equal(t, 0, f.notifier.count())
}

func TestRateLimitWindow(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10", "9", "8", "7")
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.notifier.count())

	f.clock.advance(10 * time.Minute)
	out, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, out.NewLow)
	require.Equal(t, ReasonRateLimited, out.Reason)
	require.Equal(t, 1, f.notifier.count())

	// exactly one window later is still throttled
	f.clock.advance(50 * time.Minute)
	out, err = f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, ReasonRateLimited, out.Reason)

	f.clock.advance(time.Second)
	out, err = f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, out.Notified)
	require.Equal(t, 2, f.notifier.count())
}

func TestYesterdayPolicy(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		policy  string
		wantLow bool
	}{
		{config.PolicyToday, false},
		{config.PolicyTodayOrYesterday, true},
	} {
		t.Run(tc.policy, func(t *testing.T) {
			f := newFixture(t, tc.policy, time.Hour, "9.0", "8.0", "8.5")

			_, err := f.svc.RunCycle(ctx) // yesterday 9.0
			require.NoError(t, err)
			f.clock.advance(24 * time.Hour)
			_, err = f.svc.RunCycle(ctx) // today 8.0
			require.NoError(t, err)
			f.clock.advance(time.Minute)

			// 8.5 is above today's 8.0 and below yesterday's 9.0
			out, err := f.svc.RunCycle(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.wantLow, out.NewLow)
		})
	}
}

func TestDayBoundaryUsesLocation(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10", "11")
	loc := time.FixedZone("UTC+2", 2*3600)
	f.svc.location = loc
	f.clock.t = time.Date(2025, 3, 1, 21, 30, 0, 0, time.UTC) // 23:30 local

	_, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)

	f.clock.advance(time.Hour) // 00:30 local next day
	out, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Nil(t, out.TodayMin)
	require.True(t, out.NewLow)
}

func TestNotificationFailureKeepsTimestamp(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10", "9")
	f.enable(t)
	f.notifier.err = errors.New("relay down")
	ctx := context.Background()

	out, err := f.svc.RunCycle(ctx)
	require.ErrorIs(t, err, ErrNotification)
	require.False(t, out.Notified)

	settings, err := f.store.GetSettings(ctx)
	require.NoError(t, err)
	require.Nil(t, settings.LastNotifiedAt)

	readings, err := f.store.ListRecentReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1, "reading is kept even when the alert fails")

	// next cycle retries once delivery works again
	f.notifier.err = nil
	f.clock.advance(90 * time.Second)
	out, err = f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, out.Notified)
}

func TestFetchFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour)
	f.enable(t)
	f.source.err = errors.New("timeout")
	ctx := context.Background()

	_, err := f.svc.RunCycle(ctx)
	require.ErrorIs(t, err, ErrFetch)

	readings, err := f.store.ListRecentReadings(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, readings)
	require.Equal(t, 0, f.notifier.count())
}

func TestNonPositivePriceIsFetchError(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "0")
	_, err := f.svc.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrFetch)
}

func TestTodayMinNeverIncreases(t *testing.T) {
	prices := []string{"12", "11.5", "13", "11", "11.2", "10.9", "15"}
	f := newFixture(t, config.PolicyToday, time.Hour, prices...)
	ctx := context.Background()

	var last *decimal.Decimal
	for range prices {
		_, err := f.svc.RunCycle(ctx)
		require.NoError(t, err)
		f.clock.advance(time.Minute)

		from, to := f.svc.dayBounds(f.clock.t)
		low, err := f.store.MinPriceBetween(ctx, from, to)
		require.NoError(t, err)
		require.NotNil(t, low)
		if last != nil {
			require.False(t, low.GreaterThan(*last), "min rose from %s to %s", last, low)
		}
		last = low
	}
	require.Equal(t, "10.9", last.String())
}

func TestPublishesEvents(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10")
	f.enable(t)
	pub := &recordingPublisher{}
	f.svc.publisher = pub

	_, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.readings, 1)
	require.True(t, pub.readings[0].NewLow)
	require.Len(t, pub.alerts, 1)
	require.Equal(t, "owner@example.com", pub.alerts[0].Recipient)
}

func TestConcurrentCyclesShareFlight(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10", "9", "8", "7")
	f.enable(t)
	f.notifier.block = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RunCycle(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(f.notifier.block)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	readings, err := f.store.ListRecentReadings(context.Background(), 10)
	require.NoError(t, err)
	require.Less(t, len(readings), len(errs))
	require.Equal(t, 1, f.notifier.count(), "notifications never overlap the rate-limit window")
}

type fakeLocker struct {
	acquired bool
	unlocked bool
}

func (l *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked = true }, true, nil
}

func TestAdvisoryLockSkipsCycle(t *testing.T) {
	f := newFixture(t, config.PolicyToday, time.Hour, "10")
	locker := &fakeLocker{}
	f.svc.locker = locker
	f.svc.lockKey = 42

	out, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonLocked, out.Reason)

	locker.acquired = true
	out, err = f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, out.NewLow)
	require.True(t, locker.unlocked)
}

type ctxNotifier struct {
	recordingNotifier
}

func (n *ctxNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.recordingNotifier.Notify(ctx, note)
}

func TestCallerCancelDoesNotAbortCycle(t *testing.T) {
	cfg := &config.Config{}
	cfg.Alert.Policy = config.PolicyToday
	cfg.Alert.RateLimitWindow = time.Hour
	cfg.Scheduler.CycleTimeout = time.Minute

	store := storage.NewMemoryStore()
	require.NoError(t, store.PutSettings(context.Background(), storage.Settings{NotificationsEnabled: true, Recipient: "owner@example.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := fetcher.PriceFunc(func(context.Context) (decimal.Decimal, error) {
		// the caller hangs up once the price is in hand
		cancel()
		return decimal.RequireFromString("9.5"), nil
	})
	notifier := &ctxNotifier{}

	svc := New(cfg, nil, source, store, notifier, nil, zerolog.Nop())
	outcome, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, outcome.NewLow)
	require.True(t, outcome.Notified)
	require.Equal(t, 1, notifier.count())

	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, settings.LastNotifiedAt)
}
