package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, "pgx"), mock
}

const addr = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestBindingRepo_UpsertAddressInUse(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO address_bindings")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	now := time.Now()
	err := repo.Upsert(context.Background(), &domain.AddressBinding{
		CustomerID: "C2", Address: addr, Kind: domain.AddressKindEthereum, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, domain.ErrAddressInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepo_UpsertUnknownCustomer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO address_bindings")).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := repo.Upsert(context.Background(), &domain.AddressBinding{CustomerID: "ghost", Address: addr})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBindingRepo_GetWithReceipts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM address_bindings WHERE customer_id = $1")).
		WithArgs("C1").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "address", "kind", "reward_balance", "created_at", "updated_at"}).
			AddRow("C1", addr, "ethereum", 7, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM receipt_records")).
		WithArgs("C1").
		WillReturnRows(sqlmock.NewRows([]string{"token_id", "sale_id", "tx_hash", "pending", "created_at"}).
			AddRow("123", "S1", "0xabc", false, now))

	b, err := repo.Get(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.RewardBalance)
	assert.Equal(t, domain.AddressKindEthereum, b.Kind)
	require.Len(t, b.ReceiptRecords, 1)
	assert.Equal(t, "0xabc", b.ReceiptRecords[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepo_GetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM address_bindings WHERE customer_id = $1")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))

	b, err := repo.Get(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestBindingRepo_AddReward(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SET reward_balance = reward_balance + $2")).
		WithArgs("C1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"reward_balance"}).AddRow(12))

	balance, err := repo.AddReward(context.Background(), "C1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	mock.ExpectQuery(regexp.QuoteMeta("SET reward_balance = reward_balance + $2")).
		WithArgs("C9", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"reward_balance"}))

	_, err = repo.AddReward(context.Background(), "C9", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepo_AddReceiptDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO receipt_records")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.AddReceipt(context.Background(), "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1", TransactionID: "0x1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateReceipt)
}

func TestBindingRepo_AddReceiptOverMinted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBindingRepo(db)

	// The conflict row is not pending, so nothing is updated.
	mock.ExpectExec(regexp.QuoteMeta("WHERE receipt_records.pending")).
		WithArgs("C1", "S1", "1", "0x2", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AddReceipt(context.Background(), "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1", TransactionID: "0x2", Pending: true})
	assert.ErrorIs(t, err, domain.ErrDuplicateReceipt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_CompleteCreditsSaleOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	hash := "0xabc"
	block := uint64(100)
	p := &domain.PaymentRecord{
		ID: "P1", SaleID: "S1", TransactionID: &hash, BlockNumber: &block,
		ConfirmationCount: 1, ConvertedFiat: decimal.NewFromInt(40),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT paid_credited, status FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_credited", "status"}).AddRow(false, "pending"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sales SET paid = paid + $2 WHERE id = $1")).
		WithArgs("S1", "40").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Complete(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_CompleteAlreadyCredited(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	hash := "0xabc"
	p := &domain.PaymentRecord{ID: "P1", SaleID: "S1", TransactionID: &hash, ConfirmationCount: 5}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT paid_credited, status FROM payments")).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_credited", "status"}).AddRow(true, "completed"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Complete(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_CompleteRefusesFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT paid_credited, status FROM payments")).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_credited", "status"}).AddRow(false, "failed"))
	mock.ExpectRollback()

	credited, err := repo.Complete(context.Background(), &domain.PaymentRecord{ID: "P1", SaleID: "S1"})
	require.ErrorIs(t, err, domain.ErrPaymentFinalized)
	assert.False(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_UpdateKeepsTerminalStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	hash := "0xabc"
	p := &domain.PaymentRecord{ID: "P1", TransactionID: &hash, Status: domain.PaymentStatusPending}

	mock.ExpectExec(regexp.QuoteMeta("AND (status = 'pending' OR status = ")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM payments WHERE id = $1")).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := repo.Update(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrPaymentFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_UpdateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM payments WHERE id = $1")).
		WithArgs("P404").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.Update(context.Background(), &domain.PaymentRecord{ID: "P404", Status: domain.PaymentStatusFailed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentRepo_SetTxHashMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET tx_hash = $2")).
		WithArgs("P404", "0x1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.SetTxHash(context.Background(), "P404", "0x1"), domain.ErrNotFound)
}

func TestPaymentRepo_ListInFlight(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)
	now := time.Now()

	cols := []string{"id", "sale_id", "customer_id", "address", "currency", "submitted_amount", "converted_fiat",
		"conversion_rate", "tx_hash", "block_number", "status", "confirmations", "last_error", "paid_credited",
		"created_at", "updated_at", "completed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("status = 'completed' AND confirmations < $1")).
		WithArgs(uint64(12), 50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("P1", "S1", "C1", addr, "ETH", "0.5", "1000", "2000", "0xabc", nil, "pending", 0, "", false, now, now, nil))

	got, err := repo.ListInFlight(context.Background(), 12, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xabc", got[0].TxHash())
	assert.Nil(t, got[0].BlockNumber)
	assert.True(t, got[0].SubmittedAmount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, domain.CurrencyETH, got[0].Currency)
}
