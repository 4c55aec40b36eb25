package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

// PaymentRepo implements storage.PaymentRepository using PostgreSQL.
type PaymentRepo struct {
	db *DB
}

// NewPaymentRepo creates a new PostgreSQL payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const paymentColumns = `id, sale_id, customer_id, address, currency, submitted_amount, converted_fiat,
	conversion_rate, tx_hash, block_number, status, confirmations, last_error, paid_credited,
	created_at, updated_at, completed_at`

// Create inserts a new payment record.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.PaymentRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:id, :sale_id, :customer_id, :address, :currency, :submitted_amount, :converted_fiat,
			:conversion_rate, :tx_hash, :block_number, :status, :confirmations, :last_error, :paid_credited,
			:created_at, :updated_at, :completed_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// Get retrieves a payment by id.
func (r *PaymentRepo) Get(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// SetTxHash stores the submission hash.
func (r *PaymentRepo) SetTxHash(ctx context.Context, id, txHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET tx_hash = $2, updated_at = now() WHERE id = $1`, id, txHash)
	if err != nil {
		return fmt.Errorf("failed to set tx hash: %w", err)
	}
	return expectOneRow(res, id)
}

// Update persists the mutable lifecycle fields. The paid_credited flag is
// owned by Complete and is not written here. Only a pending payment may
// change status.
func (r *PaymentRepo) Update(ctx context.Context, p *domain.PaymentRecord) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE payments SET
			tx_hash = :tx_hash,
			block_number = :block_number,
			status = :status,
			confirmations = :confirmations,
			last_error = :last_error,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id AND (status = 'pending' OR status = :status)`, p)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status domain.PaymentStatus
	err = r.db.GetContext(ctx, &status, `SELECT status FROM payments WHERE id = $1`, p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get payment status: %w", err)
	}
	return fmt.Errorf("payment %s is %s: %w", p.ID, status, domain.ErrPaymentFinalized)
}

// Complete marks the payment completed and credits the sale once, in one transaction.
func (r *PaymentRepo) Complete(ctx context.Context, p *domain.PaymentRecord) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current struct {
		Credited bool                 `db:"paid_credited"`
		Status   domain.PaymentStatus `db:"status"`
	}
	err = tx.GetContext(ctx, &current,
		`SELECT paid_credited, status FROM payments WHERE id = $1 FOR UPDATE`, p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock payment: %w", err)
	}
	if current.Status == domain.PaymentStatusFailed {
		return false, fmt.Errorf("payment %s is failed: %w", p.ID, domain.ErrPaymentFinalized)
	}
	alreadyCredited := current.Credited

	completedAt := p.CompletedAt
	if completedAt == nil {
		now := time.Now().UTC()
		completedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET
			tx_hash = $2, block_number = $3, status = $4, confirmations = $5,
			last_error = '', paid_credited = true, completed_at = $6, updated_at = now()
		WHERE id = $1`,
		p.ID, p.TransactionID, p.BlockNumber, string(domain.PaymentStatusCompleted), p.ConfirmationCount, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}

	if !alreadyCredited {
		_, err = tx.ExecContext(ctx,
			`UPDATE sales SET paid = paid + $2 WHERE id = $1`, p.SaleID, p.ConvertedFiat)
		if err != nil {
			return false, fmt.Errorf("failed to credit sale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payment completion: %w", err)
	}

	p.Status = domain.PaymentStatusCompleted
	p.PaidCredited = true
	p.CompletedAt = completedAt
	return !alreadyCredited, nil
}

// ListInFlight returns payments the reconciler should poll.
func (r *PaymentRepo) ListInFlight(ctx context.Context, maxConfirmations uint64, limit int) ([]*domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*domain.PaymentRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tx_hash IS NOT NULL
		  AND (status = 'pending' OR (status = 'completed' AND confirmations < $1))
		ORDER BY created_at
		LIMIT $2`, maxConfirmations, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight payments: %w", err)
	}
	return out, nil
}

// ListBySale retrieves all payments made against a sale.
func (r *PaymentRepo) ListBySale(ctx context.Context, saleID string) ([]*domain.PaymentRecord, error) {
	var out []*domain.PaymentRecord
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+paymentColumns+` FROM payments WHERE sale_id = $1 ORDER BY created_at`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
