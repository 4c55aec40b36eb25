package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the asset a crypto payment was made in.
type Currency string

const (
	CurrencyETH   Currency = "ETH"
	CurrencyUSDT  Currency = "USDT"
	CurrencyUSDC  Currency = "USDC"
	CurrencyBTC   Currency = "BTC"
	CurrencyOther Currency = "OTHER"
)

// ParseCurrency validates a currency code. Empty input defaults to ETH.
func ParseCurrency(s string) (Currency, bool) {
	switch Currency(s) {
	case "":
		return CurrencyETH, true
	case CurrencyETH, CurrencyUSDT, CurrencyUSDC, CurrencyBTC, CurrencyOther:
		return Currency(s), true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// PaymentRecord tracks a single crypto payment against a sale.
// Sale and customer are referenced by id only.
type PaymentRecord struct {
	ID                string          `json:"id"                 db:"id"`
	SaleID            string          `json:"sale_id"            db:"sale_id"`
	CustomerID        string          `json:"customer_id"        db:"customer_id"`
	Address           string          `json:"address"            db:"address"`
	Currency          Currency        `json:"currency"           db:"currency"`
	SubmittedAmount   decimal.Decimal `json:"submitted_amount"   db:"submitted_amount"`
	ConvertedFiat     decimal.Decimal `json:"converted_fiat"     db:"converted_fiat"`
	ConversionRate    decimal.Decimal `json:"conversion_rate"    db:"conversion_rate"`
	TransactionID     *string         `json:"transaction_id"     db:"tx_hash"`
	BlockNumber       *uint64         `json:"block_number"       db:"block_number"`
	Status            PaymentStatus   `json:"status"             db:"status"`
	ConfirmationCount uint64          `json:"confirmation_count" db:"confirmations"`
	Error             string          `json:"error,omitempty"    db:"last_error"`
	PaidCredited      bool            `json:"-"                  db:"paid_credited"`
	CreatedAt         time.Time       `json:"created_at"         db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"         db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at"       db:"completed_at"`
}

// TxHash returns the transaction id or an empty string when not yet submitted.
func (p *PaymentRecord) TxHash() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}

// Sale is the slice of the external sale record the core reads and credits.
type Sale struct {
	ID          string          `json:"id"           db:"id"`
	CustomerID  string          `json:"customer_id"  db:"customer_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Amount      decimal.Decimal `json:"amount"       db:"amount"`
	Paid        decimal.Decimal `json:"paid"         db:"paid"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
}
