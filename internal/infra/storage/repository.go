package storage

import (
	"context"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// Lookups return (nil, nil) when the row does not exist.

// CustomerRepository is the read side of the external customer directory.
type CustomerRepository interface {
	// Exists reports whether the customer is known
	Exists(ctx context.Context, customerID string) (bool, error)
}

// BindingRepository handles address binding storage.
type BindingRepository interface {
	// Get retrieves the binding of a customer with its receipt records
	Get(ctx context.Context, customerID string) (*domain.AddressBinding, error)

	// GetByAddress retrieves a binding by address, case-insensitive
	GetByAddress(ctx context.Context, address string) (*domain.AddressBinding, error)

	// Upsert creates or rebinds. Returns domain.ErrAddressInUse when the
	// address belongs to another customer.
	Upsert(ctx context.Context, binding *domain.AddressBinding) error

	// AddReward atomically increases the reward balance and returns the new value
	AddReward(ctx context.Context, customerID string, tokens int64) (int64, error)

	// AddReceipt appends a receipt record or replaces the pending one of the
	// same sale. Returns domain.ErrDuplicateReceipt when the sale already has
	// a minted receipt.
	AddReceipt(ctx context.Context, customerID string, receipt domain.ReceiptRecord) error
}

// PaymentRepository handles payment record storage.
type PaymentRepository interface {
	// Create inserts a new payment record
	Create(ctx context.Context, payment *domain.PaymentRecord) error

	// Get retrieves a payment by id
	Get(ctx context.Context, id string) (*domain.PaymentRecord, error)

	// SetTxHash stores the submission hash as soon as it is known
	SetTxHash(ctx context.Context, id, txHash string) error

	// Update persists status, block, confirmations and error fields.
	// Returns domain.ErrPaymentFinalized when the stored payment is completed
	// or failed and the status would change.
	Update(ctx context.Context, payment *domain.PaymentRecord) error

	// Complete marks the payment completed and credits the sale's paid
	// amount exactly once. Returns whether this call did the crediting.
	// A failed payment is never completed: domain.ErrPaymentFinalized.
	Complete(ctx context.Context, payment *domain.PaymentRecord) (bool, error)

	// ListInFlight returns payments still worth polling: pending with a tx
	// hash, and completed below maxConfirmations. Oldest first.
	ListInFlight(ctx context.Context, maxConfirmations uint64, limit int) ([]*domain.PaymentRecord, error)

	// ListBySale retrieves all payments made against a sale
	ListBySale(ctx context.Context, saleID string) ([]*domain.PaymentRecord, error)
}

// SaleRepository is the slice of the sales store the core reads and credits.
type SaleRepository interface {
	// Get retrieves a sale
	Get(ctx context.Context, saleID string) (*domain.Sale, error)

	// Save creates or replaces a sale
	Save(ctx context.Context, sale *domain.Sale) error
}
