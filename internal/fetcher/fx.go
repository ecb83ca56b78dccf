package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StaticRate always returns the configured exchange rate.
type StaticRate decimal.Decimal

// Rate returns the fixed rate.
func (s StaticRate) Rate(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(s), nil
}

// AlphaVantageOptions parameterise the Alpha Vantage FX provider.
type AlphaVantageOptions struct {
	BaseURL  string
	APIKey   string
	From     string
	To       string
	CacheTTL time.Duration
	Timeout  time.Duration
	Fallback decimal.Decimal
}

// AlphaVantage reads CURRENCY_EXCHANGE_RATE and caches it for CacheTTL.
// When the API fails it serves the last good rate, then the fallback.
type AlphaVantage struct {
	opts   AlphaVantageOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

// NewAlphaVantage constructs the FX provider.
func NewAlphaVantage(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantage {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.alphavantage.co"
	}
	return &AlphaVantage{
		opts:   opts,
		logger: logger.With().Str("component", "fx_alphavantage").Logger(),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Rate returns the cached or freshly fetched exchange rate.
func (a *AlphaVantage) Rate(ctx context.Context) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cached.IsZero() && a.opts.CacheTTL > 0 && a.now().Sub(a.fetchedAt) < a.opts.CacheTTL {
		return a.cached, nil
	}

	rate, err := a.fetch(ctx)
	if err == nil {
		a.cached = rate
		a.fetchedAt = a.now()
		return rate, nil
	}

	switch {
	case !a.cached.IsZero():
		a.logger.Warn().Err(err).Str("rate", a.cached.String()).Msg("fx fetch failed, using last known rate")
		return a.cached, nil
	case a.opts.Fallback.IsPositive():
		a.logger.Warn().Err(err).Str("rate", a.opts.Fallback.String()).Msg("fx fetch failed, using static fallback")
		return a.opts.Fallback, nil
	default:
		return decimal.Decimal{}, err
	}
}

func (a *AlphaVantage) fetch(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("function", "CURRENCY_EXCHANGE_RATE")
	query.Set("from_currency", a.opts.From)
	query.Set("to_currency", a.opts.To)
	query.Set("apikey", a.opts.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+"/query?"+query.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body fxResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode fx response: %w", err)
	}
	if msg := body.problem(); msg != "" {
		return decimal.Decimal{}, fmt.Errorf("alphavantage: %s", msg)
	}
	if body.Rate.Value == "" {
		return decimal.Decimal{}, errors.New("alphavantage: exchange rate missing")
	}

	rate, err := decimal.NewFromString(body.Rate.Value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse exchange rate: %w", err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("alphavantage returned non-positive rate %s", rate)
	}
	return rate, nil
}

type fxResponse struct {
	Rate struct {
		Value string `json:"5. Exchange Rate"`
	} `json:"Realtime Currency Exchange Rate"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (r fxResponse) problem() string {
	switch {
	case r.ErrorMessage != "":
		return r.ErrorMessage
	case r.Note != "":
		return r.Note
	case r.Information != "":
		return r.Information
	}
	return ""
}

var (
	_ RateProvider = StaticRate{}
	_ RateProvider = (*AlphaVantage)(nil)
)
