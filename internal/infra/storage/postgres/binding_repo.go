package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// BindingRepo implements storage.BindingRepository using PostgreSQL.
type BindingRepo struct {
	db *DB
}

// NewBindingRepo creates a new PostgreSQL binding repository.
func NewBindingRepo(db *DB) *BindingRepo {
	return &BindingRepo{db: db}
}

const bindingColumns = `customer_id, address, kind, reward_balance, created_at, updated_at`

// Get retrieves a binding with its receipt records.
func (r *BindingRepo) Get(ctx context.Context, customerID string) (*domain.AddressBinding, error) {
	var b domain.AddressBinding
	err := r.db.GetContext(ctx, &b,
		`SELECT `+bindingColumns+` FROM address_bindings WHERE customer_id = $1`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	if err := r.loadReceipts(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByAddress retrieves a binding by address, case-insensitive.
func (r *BindingRepo) GetByAddress(ctx context.Context, address string) (*domain.AddressBinding, error) {
	var b domain.AddressBinding
	err := r.db.GetContext(ctx, &b,
		`SELECT `+bindingColumns+` FROM address_bindings WHERE lower(address) = lower($1)`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding by address: %w", err)
	}

	if err := r.loadReceipts(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BindingRepo) loadReceipts(ctx context.Context, b *domain.AddressBinding) error {
	var receipts []domain.ReceiptRecord
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT token_id, sale_id, tx_hash, pending, created_at FROM receipt_records
		 WHERE customer_id = $1 ORDER BY created_at`, b.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load receipts: %w", err)
	}
	b.ReceiptRecords = receipts
	return nil
}

// Upsert creates a binding or rebinds an existing one. Reward balance and
// receipts are never touched by a rebind.
func (r *BindingRepo) Upsert(ctx context.Context, b *domain.AddressBinding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO address_bindings (customer_id, address, kind, reward_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (customer_id) DO UPDATE
		SET address = EXCLUDED.address, kind = EXCLUDED.kind, updated_at = EXCLUDED.updated_at`,
		b.CustomerID, b.Address, string(b.Kind), b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAddressInUse
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("customer %s: %w", b.CustomerID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save binding: %w", err)
	}
	return nil
}

// AddReward atomically increases the reward balance.
func (r *BindingRepo) AddReward(ctx context.Context, customerID string, tokens int64) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance, `
		UPDATE address_bindings
		SET reward_balance = reward_balance + $2, updated_at = now()
		WHERE customer_id = $1
		RETURNING reward_balance`, customerID, tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("binding %s: %w", customerID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add reward: %w", err)
	}
	return balance, nil
}

// AddReceipt appends a receipt record; (customer, sale) is unique. Only a
// pending row is overwritten.
func (r *BindingRepo) AddReceipt(ctx context.Context, customerID string, receipt domain.ReceiptRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO receipt_records (customer_id, sale_id, token_id, tx_hash, pending, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (customer_id, sale_id) DO UPDATE
		SET token_id = EXCLUDED.token_id, tx_hash = EXCLUDED.tx_hash,
			pending = EXCLUDED.pending, created_at = EXCLUDED.created_at
		WHERE receipt_records.pending`,
		customerID, receipt.SaleID, receipt.TokenID, receipt.TransactionID, receipt.Pending, receipt.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateReceipt
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("binding %s: %w", customerID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to add receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrDuplicateReceipt
	}
	return nil
}
