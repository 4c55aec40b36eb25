package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// SaleRepo implements storage.SaleRepository using PostgreSQL.
type SaleRepo struct {
	db *DB
}

// NewSaleRepo creates a new PostgreSQL sale repository.
func NewSaleRepo(db *DB) *SaleRepo {
	return &SaleRepo{db: db}
}

// Get retrieves a sale by id.
func (r *SaleRepo) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	var s domain.Sale
	err := r.db.GetContext(ctx, &s,
		`SELECT id, customer_id, product_name, amount, paid, created_at FROM sales WHERE id = $1`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return &s, nil
}

// Save creates or replaces a sale.
func (r *SaleRepo) Save(ctx context.Context, s *domain.Sale) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sales (id, customer_id, product_name, amount, paid, created_at)
		VALUES (:id, :customer_id, :product_name, :amount, :paid, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			product_name = EXCLUDED.product_name,
			amount = EXCLUDED.amount,
			paid = EXCLUDED.paid`, s)
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}
