package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"goldwatch/internal/alerting"
	"goldwatch/internal/auth"
	"goldwatch/internal/config"
	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/service"
	"goldwatch/internal/storage"
	"goldwatch/internal/version"
	"goldwatch/internal/web"
)

// App is the process context: configuration plus the shared dependencies
// built once at startup and handed to the commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime owns the dependencies of one command invocation.
type runtime struct {
	store     storage.Repository
	source    fetcher.PriceSource
	notifier  alerting.Notifier
	publisher events.Publisher
	service   *service.Service
	closers   []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.Database.Driver, err)
	}
	if a.Config.Database.Driver == config.DriverMemory {
		a.Logger.Warn().Msg("database.driver is memory; readings are lost on exit")
	}
	return store, nil
}

func (a *App) newSpotFetcher() fetcher.SpotFetcher {
	src := a.Config.Source
	switch src.Provider {
	case config.SourceChainlink:
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:      src.Chainlink.RPCURL,
			FeedAddress: src.Chainlink.FeedAddress,
			Timeout:     src.RequestTimeout,
		}, a.Logger)
	default:
		userAgent := src.UserAgent
		if userAgent == "" {
			userAgent = version.UserAgent()
		}
		return fetcher.NewGoldAPI(fetcher.GoldAPIOptions{
			BaseURL:   src.GoldAPI.BaseURL,
			Symbol:    src.GoldAPI.Symbol,
			Timeout:   src.RequestTimeout,
			UserAgent: userAgent,
		}, a.Logger)
	}
}

func (a *App) newRateProvider() fetcher.RateProvider {
	fx := a.Config.FX
	static := fetcher.StaticRate(decimal.NewFromFloat(fx.StaticRate))
	if fx.Provider != config.FXAlphaVantage {
		return static
	}
	return fetcher.NewAlphaVantage(fetcher.AlphaVantageOptions{
		BaseURL:  fx.BaseURL,
		APIKey:   fx.APIKey,
		From:     fx.From,
		To:       fx.To,
		CacheTTL: fx.CacheTTL,
		Timeout:  fx.RequestTimeout,
		Fallback: decimal.NewFromFloat(fx.StaticRate),
	}, a.Logger)
}

func (a *App) newPriceSource() (fetcher.PriceSource, error) {
	return fetcher.NewConverter(a.newSpotFetcher(), a.newRateProvider(), a.Config.Source.Unit)
}

func (a *App) newTokenCache(ctx context.Context) (auth.TokenCache, func(), error) {
	cfg := a.Config.Auth
	if cfg.TokenCache != config.TokenCacheRedis {
		return auth.NewMemoryTokenCache(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis token cache %s: %w", cfg.Redis.Addr, err)
	}
	cache := auth.NewRedisTokenCache(client, cfg.CacheKey)
	return cache, func() { _ = cache.Close() }, nil
}

func (a *App) newTokenProvider(ctx context.Context) (*auth.TokenProvider, func(), error) {
	cache, closeCache, err := a.newTokenCache(ctx)
	if err != nil {
		return nil, nil, err
	}

	graph := a.Config.Mail.Graph
	provider := auth.NewTokenProvider(auth.ProviderOptions{
		TenantID:     graph.TenantID,
		ClientID:     graph.ClientID,
		ClientSecret: graph.ClientSecret,
		Scopes:       graph.Scopes,
		Timeout:      graph.Timeout,
	}, cache, a.Logger)

	if graph.RefreshToken != "" {
		cached, err := cache.Get(ctx)
		if err != nil {
			closeCache()
			return nil, nil, err
		}
		if cached == nil || cached.RefreshToken == "" {
			if err := provider.Seed(ctx, graph.RefreshToken); err != nil {
				closeCache()
				return nil, nil, err
			}
			a.Logger.Info().Msg("token cache seeded from mail.graph.refresh_token")
		}
	}
	return provider, closeCache, nil
}

func (a *App) newNotifier(ctx context.Context) (alerting.Notifier, func(), error) {
	mail := a.Config.Mail
	switch mail.Provider {
	case config.MailGraph:
		tokens, closeTokens, err := a.newTokenProvider(ctx)
		if err != nil {
			return nil, nil, err
		}
		return alerting.NewGraphNotifier(alerting.GraphOptions{
			BaseURL:         mail.Graph.BaseURL,
			SaveToSentItems: mail.Graph.SaveToSentItems,
			Timeout:         mail.Graph.Timeout,
		}, tokens, a.Logger), closeTokens, nil
	case config.MailLog:
		return alerting.NewLogNotifier(a.Logger), func() {}, nil
	default:
		return alerting.NewSMTPNotifier(alerting.SMTPOptions{
			Host:     mail.SMTP.Host,
			Port:     mail.SMTP.Port,
			Username: mail.SMTP.Username,
			Password: mail.SMTP.Password,
			From:     mail.From,
			Timeout:  mail.SMTP.Timeout,
		}, a.Logger), func() {}, nil
	}
}

func (a *App) newPublisher() events.Publisher {
	if a.Config.Events.NATSURL == "" {
		return events.Nop{}
	}
	pub, err := events.NewNATSPublisher(a.Config.Events.NATSURL, a.Config.Events.SubjectPrefix, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("events disabled; nats unavailable")
		return events.Nop{}
	}
	return pub
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)
}

// build wires store, price source, notifier, and events into a poll service.
func (a *App) build(ctx context.Context, sched *scheduler.Scheduler) (*runtime, error) {
	rt := &runtime{}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	rt.source, err = a.newPriceSource()
	if err != nil {
		rt.close()
		return nil, err
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.notifier = notifier
	rt.closers = append(rt.closers, closeNotifier)

	rt.publisher = a.newPublisher()
	rt.closers = append(rt.closers, rt.publisher.Close)

	rt.service = service.New(a.Config, sched, rt.source, rt.store, rt.notifier, rt.publisher, a.Logger)
	return rt, nil
}

// Run executes the long-running poll loop and, when enabled, the HTTP server.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, a.newScheduler())
	if err != nil {
		return err
	}
	defer rt.close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting poll loop")
		return rt.service.Run(groupCtx)
	})

	if a.Config.HTTP.Enabled {
		srv := web.NewServer(a.Config.HTTP, rt.service, rt.store, a.Config.Alert.Currency, a.Config.Source.Unit, a.Logger)
		group.Go(func() error {
			return srv.Run(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("goldwatch stopped")
	return nil
}

// PollOnce runs a single poll cycle outside the scheduler.
func (a *App) PollOnce(ctx context.Context) (service.Outcome, error) {
	rt, err := a.build(ctx, nil)
	if err != nil {
		return service.Outcome{}, err
	}
	defer rt.close()

	return rt.service.RunCycle(ctx)
}

// ExportOptions hold parameters for exporting historical readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// Today restricts the window to the current calendar day.
	Today bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Today bool
}

// todayWindow is the [start, end) range of the calendar day containing now.
func (a *App) todayWindow(now time.Time) (time.Time, time.Time) {
	loc := a.Config.Location()
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
