package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GramsPerTroyOunce converts troy ounces to grams.
var GramsPerTroyOunce = decimal.RequireFromString("31.1034768")

// Units understood by Converter.
const (
	UnitOunce    = "ounce"
	UnitGram     = "gram"
	UnitKilogram = "kilogram"
)

// Converter turns a USD/oz spot quote into the target currency and unit.
type Converter struct {
	spot    SpotFetcher
	fx      RateProvider
	divisor decimal.Decimal
}

// NewConverter validates the unit and builds a PriceSource.
func NewConverter(spot SpotFetcher, fx RateProvider, unit string) (*Converter, error) {
	divisor, err := unitDivisor(unit)
	if err != nil {
		return nil, err
	}
	if fx == nil {
		fx = StaticRate(decimal.NewFromInt(1))
	}
	return &Converter{spot: spot, fx: fx, divisor: divisor}, nil
}

// FetchPrice returns spot * rate / ounces-per-unit.
func (c *Converter) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	spot, err := c.spot.FetchSpot(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("spot: %w", err)
	}
	rate, err := c.fx.Rate(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fx rate: %w", err)
	}
	return spot.Mul(rate).DivRound(c.divisor, 8), nil
}

func unitDivisor(unit string) (decimal.Decimal, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case UnitOunce, "oz", "":
		return decimal.NewFromInt(1), nil
	case UnitGram, "g":
		return GramsPerTroyOunce, nil
	case UnitKilogram, "kg":
		return GramsPerTroyOunce.DivRound(decimal.NewFromInt(1000), 16), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported unit %q", unit)
	}
}

var _ PriceSource = (*Converter)(nil)
