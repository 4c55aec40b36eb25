package oracle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

func TestStaticOracle(t *testing.T) {
	o, err := NewStaticOracle(map[domain.Currency]string{
		domain.CurrencyETH:  "2000",
		domain.CurrencyUSDC: "1.00",
		domain.CurrencyBTC:  "",
	})
	require.NoError(t, err)

	r, err := o.Rate(context.Background(), domain.CurrencyETH)
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(2000)))

	_, err = o.Rate(context.Background(), domain.CurrencyBTC)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}

func TestStaticOracle_RejectsBadRates(t *testing.T) {
	_, err := NewStaticOracle(map[domain.Currency]string{domain.CurrencyETH: "abc"})
	assert.Error(t, err)

	_, err = NewStaticOracle(map[domain.Currency]string{domain.CurrencyETH: "-1"})
	assert.Error(t, err)
}
