package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"goldwatch/internal/logging"
)

// Supported values for enumerated settings.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"

	SourceGoldAPI   = "gold-api"
	SourceChainlink = "chainlink"

	FXStatic       = "static"
	FXAlphaVantage = "alphavantage"

	PolicyToday            = "today"
	PolicyTodayOrYesterday = "today_or_yesterday"

	MailSMTP  = "smtp"
	MailGraph = "graph"
	MailLog   = "log"

	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	FX        FXConfig        `mapstructure:"fx"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Mail      MailConfig      `mapstructure:"mail"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Events    EventsConfig    `mapstructure:"events"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the reading/settings backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// SourceConfig describes where the spot price comes from.
type SourceConfig struct {
	Provider       string          `mapstructure:"provider"`
	Unit           string          `mapstructure:"unit"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	UserAgent      string          `mapstructure:"user_agent"`
	GoldAPI        GoldAPIConfig   `mapstructure:"gold_api"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
}

// GoldAPIConfig points at the gold-api.com compatible endpoint.
type GoldAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Symbol  string `mapstructure:"symbol"`
}

// ChainlinkConfig covers on-chain price feed access.
type ChainlinkConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	FeedAddress string `mapstructure:"feed_address"`
}

// FXConfig controls the USD to target currency conversion.
type FXConfig struct {
	Provider       string        `mapstructure:"provider"`
	StaticRate     float64       `mapstructure:"static_rate"`
	From           string        `mapstructure:"from"`
	To             string        `mapstructure:"to"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertConfig defines the new-low policy and throttling.
type AlertConfig struct {
	Policy          string        `mapstructure:"policy"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	Timezone        string        `mapstructure:"timezone"`
	Currency        string        `mapstructure:"currency_symbol"`
}

// MailConfig selects the notification transport.
type MailConfig struct {
	Provider string      `mapstructure:"provider"`
	From     string      `mapstructure:"from"`
	Subject  string      `mapstructure:"subject"`
	SMTP     SMTPConfig  `mapstructure:"smtp"`
	Graph    GraphConfig `mapstructure:"graph"`
}

// SMTPConfig describes an authenticated STARTTLS relay.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GraphConfig describes Microsoft Graph delegated mail sending.
type GraphConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	TenantID        string        `mapstructure:"tenant_id"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	Scopes          []string      `mapstructure:"scopes"`
	RefreshToken    string        `mapstructure:"refresh_token"`
	SaveToSentItems bool          `mapstructure:"save_to_sent_items"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// AuthConfig selects the token cache used by delegated mail providers.
type AuthConfig struct {
	TokenCache string      `mapstructure:"token_cache"`
	CacheKey   string      `mapstructure:"cache_key"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis connectivity.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig enables NATS fan-out of readings and alerts.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// HTTPConfig configures the settings/data web server.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOLDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goldwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("scheduler.interval", "90s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x676f6c64))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.cycle_timeout", "2m")

	v.SetDefault("source.provider", SourceGoldAPI)
	v.SetDefault("source.unit", "gram")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.gold_api.base_url", "https://api.gold-api.com")
	v.SetDefault("source.gold_api.symbol", "XAU")
	v.SetDefault("source.chainlink.feed_address", "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6")

	v.SetDefault("fx.provider", FXStatic)
	v.SetDefault("fx.static_rate", 0.87777)
	v.SetDefault("fx.from", "USD")
	v.SetDefault("fx.to", "EUR")
	v.SetDefault("fx.base_url", "https://www.alphavantage.co")
	v.SetDefault("fx.cache_ttl", "1h")
	v.SetDefault("fx.request_timeout", "10s")

	v.SetDefault("alert.policy", PolicyToday)
	v.SetDefault("alert.rate_limit_window", "1h")
	v.SetDefault("alert.timezone", "UTC")
	v.SetDefault("alert.currency_symbol", "€")

	v.SetDefault("mail.provider", MailSMTP)
	v.SetDefault("mail.subject", "Gold Price Alert")
	v.SetDefault("mail.smtp.host", "smtp-mail.outlook.com")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.timeout", "15s")
	v.SetDefault("mail.graph.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mail.graph.scopes", []string{
		"https://graph.microsoft.com/Mail.Send",
		"https://graph.microsoft.com/User.Read",
		"offline_access",
	})
	v.SetDefault("mail.graph.save_to_sent_items", true)
	v.SetDefault("mail.graph.timeout", "15s")

	v.SetDefault("auth.token_cache", TokenCacheMemory)
	v.SetDefault("auth.cache_key", "goldwatch:graph:token")
	v.SetDefault("auth.redis.addr", "localhost:6379")

	v.SetDefault("events.subject_prefix", "goldwatch")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.CycleTimeout < 0 {
		return fmt.Errorf("scheduler.cycle_timeout must not be negative")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Source.Provider {
	case SourceGoldAPI:
	case SourceChainlink:
		if c.Source.Chainlink.RPCURL == "" {
			return fmt.Errorf("source.chainlink.rpc_url must be set for the chainlink provider")
		}
	default:
		return fmt.Errorf("source.provider %q is not supported", c.Source.Provider)
	}
	switch c.FX.Provider {
	case FXStatic:
	case FXAlphaVantage:
		if c.FX.APIKey == "" {
			return fmt.Errorf("fx.api_key must be set for the alphavantage provider")
		}
	default:
		return fmt.Errorf("fx.provider %q is not supported", c.FX.Provider)
	}
	if c.FX.StaticRate <= 0 {
		return fmt.Errorf("fx.static_rate must be greater than zero")
	}
	switch c.Alert.Policy {
	case PolicyToday, PolicyTodayOrYesterday:
	default:
		return fmt.Errorf("alert.policy %q is not supported", c.Alert.Policy)
	}
	if c.Alert.RateLimitWindow < 0 {
		return fmt.Errorf("alert.rate_limit_window cannot be negative")
	}
	if _, err := time.LoadLocation(c.Alert.Timezone); err != nil {
		return fmt.Errorf("alert.timezone: %w", err)
	}
	switch c.Mail.Provider {
	case MailLog:
	case MailSMTP:
		if c.Mail.SMTP.Host == "" || c.Mail.SMTP.Port <= 0 {
			return fmt.Errorf("mail.smtp.host and mail.smtp.port must be set")
		}
	case MailGraph:
		if c.Mail.Graph.ClientID == "" || c.Mail.Graph.TenantID == "" {
			return fmt.Errorf("mail.graph.client_id and mail.graph.tenant_id must be set")
		}
	default:
		return fmt.Errorf("mail.provider %q is not supported", c.Mail.Provider)
	}
	if c.Mail.From != "" {
		if _, err := mail.ParseAddress(c.Mail.From); err != nil {
			return fmt.Errorf("mail.from: %w", err)
		}
	}
	switch c.Auth.TokenCache {
	case TokenCacheMemory, TokenCacheRedis:
	default:
		return fmt.Errorf("auth.token_cache %q is not supported", c.Auth.TokenCache)
	}
	return nil
}

// Location resolves the time zone that defines a calendar day for alerting.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Alert.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
