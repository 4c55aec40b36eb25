// Package oracle supplies fiat conversion rates for payment currencies.
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// RateOracle returns fiat units per one unit of a currency.
type RateOracle interface {
	Rate(ctx context.Context, currency domain.Currency) (decimal.Decimal, error)
}

// StaticOracle serves fixed rates, typically from configuration.
type StaticOracle struct {
	rates map[domain.Currency]decimal.Decimal
}

// NewStaticOracle parses rate strings keyed by currency.
func NewStaticOracle(rates map[domain.Currency]string) (*StaticOracle, error) {
	o := &StaticOracle{rates: make(map[domain.Currency]decimal.Decimal, len(rates))}
	for cur, s := range rates {
		if s == "" {
			continue
		}
		r, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", cur, err)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", cur, s)
		}
		o.rates[cur] = r
	}
	return o, nil
}

func (o *StaticOracle) Rate(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	r, ok := o.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s: %w", currency, domain.ErrUnsupportedCurrency)
	}
	return r, nil
}
