package postgres

import (
	"context"
	"fmt"
)

// CustomerRepo implements storage.CustomerRepository using PostgreSQL.
type CustomerRepo struct {
	db *DB
}

// NewCustomerRepo creates a new PostgreSQL customer repository.
func NewCustomerRepo(db *DB) *CustomerRepo {
	return &CustomerRepo{db: db}
}

// Exists reports whether the customer is in the directory.
func (r *CustomerRepo) Exists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to check customer: %w", err)
	}
	return exists, nil
}

// Add inserts a customer, ignoring ones that already exist.
func (r *CustomerRepo) Add(ctx context.Context, customerID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		customerID, name)
	if err != nil {
		return fmt.Errorf("failed to add customer: %w", err)
	}
	return nil
}
