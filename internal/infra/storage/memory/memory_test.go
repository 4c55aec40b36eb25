package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

const addrA = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestBindingRepo_AddressUniqueAcrossCustomers(t *testing.T) {
	ctx := context.Background()
	repo := NewBindingRepo(NewMemoryStorage())

	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA, Kind: domain.AddressKindEthereum}))

	err := repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C2", Address: "0x52908400098527886e0f7030069857d2e4169ee7"})
	assert.ErrorIs(t, err, domain.ErrAddressInUse)

	// Same customer re-binding the same address is fine.
	assert.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA}))
}

func TestBindingRepo_RebindKeepsBalanceAndReceipts(t *testing.T) {
	ctx := context.Background()
	repo := NewBindingRepo(NewMemoryStorage())

	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA}))
	_, err := repo.AddReward(ctx, "C1", 5)
	require.NoError(t, err)
	require.NoError(t, repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1"}))

	newAddr := "0x0000000000000000000000000000000000000001"
	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: newAddr}))

	b, err := repo.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, newAddr, b.Address)
	assert.Equal(t, int64(5), b.RewardBalance)
	assert.Len(t, b.ReceiptRecords, 1)
}

func TestBindingRepo_DuplicateReceipt(t *testing.T) {
	ctx := context.Background()
	repo := NewBindingRepo(NewMemoryStorage())
	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA}))

	require.NoError(t, repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1"}))
	assert.ErrorIs(t, repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1"}), domain.ErrDuplicateReceipt)
}

func TestBindingRepo_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewBindingRepo(NewMemoryStorage())
	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA}))

	b, _ := repo.Get(ctx, "C1")
	b.RewardBalance = 100

	again, _ := repo.Get(ctx, "C1")
	assert.Equal(t, int64(0), again.RewardBalance)

	missing, err := repo.Get(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaymentRepo_CompleteCreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	payments := NewPaymentRepo(store)
	sales := NewSaleRepo(store)

	require.NoError(t, sales.Save(ctx, &domain.Sale{ID: "S1", Amount: decimal.NewFromInt(100), Paid: decimal.Zero}))
	p := &domain.PaymentRecord{ID: "P1", SaleID: "S1", Status: domain.PaymentStatusPending, ConvertedFiat: decimal.NewFromInt(40)}
	require.NoError(t, payments.Create(ctx, p))

	credited, err := payments.Complete(ctx, p)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = payments.Complete(ctx, p)
	require.NoError(t, err)
	assert.False(t, credited)

	sale, _ := sales.Get(ctx, "S1")
	assert.True(t, sale.Paid.Equal(decimal.NewFromInt(40)), "paid = %s", sale.Paid)
}

func TestPaymentRepo_ListInFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepo(NewMemoryStorage())
	hash := "0xabc"
	now := time.Now()

	records := []*domain.PaymentRecord{
		{ID: "no-hash", Status: domain.PaymentStatusPending, CreatedAt: now},
		{ID: "pending", Status: domain.PaymentStatusPending, TransactionID: &hash, CreatedAt: now.Add(time.Second)},
		{ID: "maturing", Status: domain.PaymentStatusCompleted, TransactionID: &hash, ConfirmationCount: 3, CreatedAt: now.Add(2 * time.Second)},
		{ID: "final", Status: domain.PaymentStatusCompleted, TransactionID: &hash, ConfirmationCount: 12, CreatedAt: now.Add(3 * time.Second)},
		{ID: "failed", Status: domain.PaymentStatusFailed, TransactionID: &hash, CreatedAt: now.Add(4 * time.Second)},
	}
	for _, r := range records {
		require.NoError(t, repo.Create(ctx, r))
	}

	got, err := repo.ListInFlight(ctx, 12, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pending", got[0].ID)
	assert.Equal(t, "maturing", got[1].ID)
}

func TestPaymentRepo_SetTxHash(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepo(NewMemoryStorage())
	require.NoError(t, repo.Create(ctx, &domain.PaymentRecord{ID: "P1", Status: domain.PaymentStatusPending}))

	require.NoError(t, repo.SetTxHash(ctx, "P1", "0xfeed"))
	p, _ := repo.Get(ctx, "P1")
	assert.Equal(t, "0xfeed", p.TxHash())

	assert.ErrorIs(t, repo.SetTxHash(ctx, "missing", "0x1"), domain.ErrNotFound)
}

func TestPaymentRepo_UpdateKeepsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	payments := NewPaymentRepo(store)
	require.NoError(t, NewSaleRepo(store).Save(ctx, &domain.Sale{ID: "S1", Paid: decimal.Zero}))

	hash := "0xabc"
	p := &domain.PaymentRecord{ID: "P1", SaleID: "S1", Status: domain.PaymentStatusPending, TransactionID: &hash}
	require.NoError(t, payments.Create(ctx, p))

	stale := *p
	_, err := payments.Complete(ctx, p)
	require.NoError(t, err)

	stale.Error = "timed out waiting for inclusion"
	err = payments.Update(ctx, &stale)
	require.ErrorIs(t, err, domain.ErrPaymentFinalized)

	got, _ := payments.Get(ctx, "P1")
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.Empty(t, got.Error)

	// Confirmation refreshes keep the status and are allowed.
	got.ConfirmationCount = 7
	require.NoError(t, payments.Update(ctx, got))
	got, _ = payments.Get(ctx, "P1")
	assert.Equal(t, uint64(7), got.ConfirmationCount)
}

func TestPaymentRepo_CompleteRefusesFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	payments := NewPaymentRepo(store)
	sales := NewSaleRepo(store)
	require.NoError(t, sales.Save(ctx, &domain.Sale{ID: "S1", Paid: decimal.Zero}))

	p := &domain.PaymentRecord{ID: "P1", SaleID: "S1", Status: domain.PaymentStatusFailed, ConvertedFiat: decimal.NewFromInt(40)}
	require.NoError(t, payments.Create(ctx, p))

	credited, err := payments.Complete(ctx, p)
	require.ErrorIs(t, err, domain.ErrPaymentFinalized)
	assert.False(t, credited)

	sale, _ := sales.Get(ctx, "S1")
	assert.True(t, sale.Paid.IsZero())
}

func TestBindingRepo_PendingReceiptIsReplaced(t *testing.T) {
	ctx := context.Background()
	repo := NewBindingRepo(NewMemoryStorage())
	require.NoError(t, repo.Upsert(ctx, &domain.AddressBinding{CustomerID: "C1", Address: addrA}))

	require.NoError(t, repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1", TransactionID: "0x1", Pending: true}))
	b, _ := repo.Get(ctx, "C1")
	_, minted := b.ReceiptFor("S1")
	assert.False(t, minted)
	pending, ok := b.PendingReceiptFor("S1")
	require.True(t, ok)
	assert.Equal(t, "0x1", pending.TransactionID)
	assert.Empty(t, b.MintedReceipts())

	require.NoError(t, repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1", TransactionID: "0x1"}))
	b, _ = repo.Get(ctx, "C1")
	require.Len(t, b.ReceiptRecords, 1)
	_, minted = b.ReceiptFor("S1")
	assert.True(t, minted)

	err := repo.AddReceipt(ctx, "C1", domain.ReceiptRecord{SaleID: "S1", TokenID: "1", TransactionID: "0x2", Pending: true})
	assert.ErrorIs(t, err, domain.ErrDuplicateReceipt)
}
