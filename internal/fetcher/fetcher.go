package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource returns the current price in the configured unit and currency.
type PriceSource interface {
	FetchPrice(ctx context.Context) (decimal.Decimal, error)
}

// SpotFetcher retrieves the spot price in USD per troy ounce.
type SpotFetcher interface {
	FetchSpot(ctx context.Context) (decimal.Decimal, error)
}

// RateProvider returns the exchange rate used to convert USD into the target currency.
type RateProvider interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// PriceFunc adapts a plain function into a PriceSource.
type PriceFunc func(ctx context.Context) (decimal.Decimal, error)

// FetchPrice calls f.
func (f PriceFunc) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	return f(ctx)
}
