package config

import (
	"time"

	"github.com/vietddude/w3bpay/internal/core/domain"
	redisclient "github.com/vietddude/w3bpay/internal/infra/redis"
	"github.com/vietddude/w3bpay/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig                       `yaml:"server"`
	Logging    LoggingConfig                      `yaml:"logging"`
	Ledger     LedgerConfig                       `yaml:"ledger"`
	Contracts  ContractsConfig                    `yaml:"contracts"`
	Rewards    RewardsConfig                      `yaml:"rewards"`
	Currencies map[domain.Currency]CurrencyConfig `yaml:"currencies"`
	Reconciler ReconcilerConfig                   `yaml:"reconciler"`
	Redis      redisclient.Config                 `yaml:"redis"`
	Database   postgres.Config                    `yaml:"database"`
	Seed       SeedConfig                         `yaml:"seed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LedgerConfig holds settings for the ledger node connection.
type LedgerConfig struct {
	ChainID           string           `yaml:"chain_id"`
	Providers         []ProviderConfig `yaml:"providers"`
	RequestTimeout    time.Duration    `yaml:"request_timeout"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	Burst             int              `yaml:"burst"`
	InclusionTimeout  time.Duration    `yaml:"inclusion_timeout"`
	PollInterval      time.Duration    `yaml:"poll_interval"`
	TransferGasLimit  uint64           `yaml:"transfer_gas_limit"`
	ContractGasLimit  uint64           `yaml:"contract_gas_limit"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ContractsConfig names the on-chain accounts the store operates with.
type ContractsConfig struct {
	Receipt         string `yaml:"receipt"`  // ERC-721 receipt contract
	Loyalty         string `yaml:"loyalty"`  // ERC-20 loyalty token
	Minter          string `yaml:"minter"`   // account that signs mint calls
	Treasury        string `yaml:"treasury"` // store account receiving payments
	LoyaltyDecimals int32  `yaml:"loyalty_decimals"`
}

// RewardsConfig holds the loyalty issuance policy.
type RewardsConfig struct {
	UnitValue int64 `yaml:"unit_value"` // fiat units per loyalty token
}

// CurrencyConfig describes how a payment currency settles.
type CurrencyConfig struct {
	Native   bool   `yaml:"native"`   // plain value transfer
	Contract string `yaml:"contract"` // token contract for non-native currencies
	Decimals int32  `yaml:"decimals"`
	Finality uint64 `yaml:"finality"` // confirmations considered final
	Rate     string `yaml:"rate"`     // static fiat rate for the config oracle
}

// ReconcilerConfig controls the pending-payment recovery worker.
type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

// SeedConfig lists customers and sales created at startup when missing.
// The customer directory and sales store are owned by the store front;
// seeding exists for local runs and demos.
type SeedConfig struct {
	Customers []SeedCustomer `yaml:"customers"`
	Sales     []SeedSale     `yaml:"sales"`
}

type SeedCustomer struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedSale struct {
	ID          string `yaml:"id"`
	CustomerID  string `yaml:"customer_id"`
	ProductName string `yaml:"product_name"`
	Amount      string `yaml:"amount"`
}
