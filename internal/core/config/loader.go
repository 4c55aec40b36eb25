package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Fallback fiat rates for the static oracle.
var defaultRates = map[domain.Currency]string{
	domain.CurrencyETH:  "2000",
	domain.CurrencyUSDT: "1",
	domain.CurrencyUSDC: "1",
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	l := &c.Ledger
	if l.RequestTimeout == 0 {
		l.RequestTimeout = 10 * time.Second
	}
	if l.RequestsPerSecond == 0 {
		l.RequestsPerSecond = 20
	}
	if l.Burst == 0 {
		l.Burst = 5
	}
	if l.InclusionTimeout == 0 {
		l.InclusionTimeout = 2 * time.Minute
	}
	if l.PollInterval == 0 {
		l.PollInterval = 2 * time.Second
	}
	if l.TransferGasLimit == 0 {
		l.TransferGasLimit = 21000
	}
	if l.ContractGasLimit == 0 {
		l.ContractGasLimit = 200000
	}

	if c.Contracts.LoyaltyDecimals == 0 {
		c.Contracts.LoyaltyDecimals = 18
	}
	if c.Rewards.UnitValue == 0 {
		c.Rewards.UnitValue = 10
	}

	if len(c.Currencies) == 0 {
		c.Currencies = map[domain.Currency]CurrencyConfig{
			domain.CurrencyETH: {Native: true},
		}
	}
	for code, cur := range c.Currencies {
		if cur.Decimals == 0 {
			cur.Decimals = 18
		}
		if cur.Finality == 0 {
			cur.Finality = 12
		}
		if cur.Rate == "" {
			cur.Rate = defaultRates[code]
		}
		c.Currencies[code] = cur
	}

	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = 15 * time.Second
	}
	if c.Reconciler.BatchSize == 0 {
		c.Reconciler.BatchSize = 100
	}
	if c.Reconciler.Concurrency == 0 {
		c.Reconciler.Concurrency = 4
	}

	// The submission lock must outlive one full inclusion wait.
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = l.InclusionTimeout + 30*time.Second
	}
}

// Validate checks settings required to serve requests.
func (c *AppConfig) Validate() error {
	if len(c.Ledger.Providers) == 0 {
		return fmt.Errorf("ledger.providers: at least one provider is required")
	}
	for i, p := range c.Ledger.Providers {
		if p.URL == "" {
			return fmt.Errorf("ledger.providers[%d]: url is required", i)
		}
	}
	for code, cur := range c.Currencies {
		if _, ok := domain.ParseCurrency(string(code)); !ok {
			return fmt.Errorf("currencies: unknown currency %q", code)
		}
		if !cur.Native && cur.Contract == "" {
			return fmt.Errorf("currencies.%s: contract is required for token currencies", code)
		}
	}
	return nil
}

// MaxFinality returns the largest finality threshold across currencies.
func (c *AppConfig) MaxFinality() uint64 {
	var max uint64
	for _, cur := range c.Currencies {
		if cur.Finality > max {
			max = cur.Finality
		}
	}
	return max
}
