package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/w3bpay/internal/core/domain"
)

type MemoryStorage struct {
	customers map[string]struct{}
	bindings  map[string]*domain.AddressBinding
	payments  map[string]*domain.PaymentRecord
	sales     map[string]*domain.Sale
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		customers: make(map[string]struct{}),
		bindings:  make(map[string]*domain.AddressBinding),
		payments:  make(map[string]*domain.PaymentRecord),
		sales:     make(map[string]*domain.Sale),
	}
}

// -----------------------------------------------------------------------------
// Customer Repository
// -----------------------------------------------------------------------------

type CustomerRepo struct {
	store *MemoryStorage
}

func NewCustomerRepo(store *MemoryStorage) *CustomerRepo {
	return &CustomerRepo{store: store}
}

// Add registers customers in the directory.
func (r *CustomerRepo) Add(ids ...string) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		r.store.customers[id] = struct{}{}
	}
}

func (r *CustomerRepo) Exists(ctx context.Context, customerID string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.customers[customerID]
	return ok, nil
}

// -----------------------------------------------------------------------------
// Binding Repository
// -----------------------------------------------------------------------------

type BindingRepo struct {
	store *MemoryStorage
}

func NewBindingRepo(store *MemoryStorage) *BindingRepo {
	return &BindingRepo{store: store}
}

func (r *BindingRepo) Get(ctx context.Context, customerID string) (*domain.AddressBinding, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.bindings[customerID].Clone(), nil
}

func (r *BindingRepo) GetByAddress(ctx context.Context, address string) (*domain.AddressBinding, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.findByAddress(address).Clone(), nil
}

// findByAddress expects the caller to hold the lock.
func (r *BindingRepo) findByAddress(address string) *domain.AddressBinding {
	for _, b := range r.store.bindings {
		if strings.EqualFold(b.Address, address) {
			return b
		}
	}
	return nil
}

func (r *BindingRepo) Upsert(ctx context.Context, binding *domain.AddressBinding) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if other := r.findByAddress(binding.Address); other != nil && other.CustomerID != binding.CustomerID {
		return domain.ErrAddressInUse
	}

	existing, ok := r.store.bindings[binding.CustomerID]
	if !ok {
		r.store.bindings[binding.CustomerID] = binding.Clone()
		return nil
	}
	existing.Address = binding.Address
	existing.Kind = binding.Kind
	existing.UpdatedAt = binding.UpdatedAt
	return nil
}

func (r *BindingRepo) AddReward(ctx context.Context, customerID string, tokens int64) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	b, ok := r.store.bindings[customerID]
	if !ok {
		return 0, fmt.Errorf("binding %s: %w", customerID, domain.ErrNotFound)
	}
	b.RewardBalance += tokens
	b.UpdatedAt = time.Now()
	return b.RewardBalance, nil
}

func (r *BindingRepo) AddReceipt(ctx context.Context, customerID string, receipt domain.ReceiptRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	b, ok := r.store.bindings[customerID]
	if !ok {
		return fmt.Errorf("binding %s: %w", customerID, domain.ErrNotFound)
	}
	for i := range b.ReceiptRecords {
		if b.ReceiptRecords[i].SaleID != receipt.SaleID {
			continue
		}
		if !b.ReceiptRecords[i].Pending {
			return domain.ErrDuplicateReceipt
		}
		b.ReceiptRecords[i] = receipt
		return nil
	}
	b.ReceiptRecords = append(b.ReceiptRecords, receipt)
	return nil
}

// -----------------------------------------------------------------------------
// Payment Repository
// -----------------------------------------------------------------------------

type PaymentRepo struct {
	store *MemoryStorage
}

func NewPaymentRepo(store *MemoryStorage) *PaymentRepo {
	return &PaymentRepo{store: store}
}

func clonePayment(p *domain.PaymentRecord) *domain.PaymentRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.TransactionID != nil {
		h := *p.TransactionID
		c.TransactionID = &h
	}
	if p.BlockNumber != nil {
		n := *p.BlockNumber
		c.BlockNumber = &n
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r *PaymentRepo) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.payments[payment.ID]; exists {
		return fmt.Errorf("payment %s already exists", payment.ID)
	}
	r.store.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r *PaymentRepo) Get(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return clonePayment(r.store.payments[id]), nil
}

func (r *PaymentRepo) SetTxHash(ctx context.Context, id, txHash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	p.TransactionID = &txHash
	p.UpdatedAt = time.Now()
	return nil
}

func (r *PaymentRepo) Update(ctx context.Context, payment *domain.PaymentRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.ID, domain.ErrNotFound)
	}
	if p.Status.IsTerminal() && payment.Status != p.Status {
		return fmt.Errorf("payment %s is %s: %w", payment.ID, p.Status, domain.ErrPaymentFinalized)
	}
	credited := p.PaidCredited
	updated := clonePayment(payment)
	updated.PaidCredited = credited
	r.store.payments[payment.ID] = updated
	return nil
}

func (r *PaymentRepo) Complete(ctx context.Context, payment *domain.PaymentRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	p, ok := r.store.payments[payment.ID]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", payment.ID, domain.ErrNotFound)
	}

	if p.Status == domain.PaymentStatusFailed {
		return false, fmt.Errorf("payment %s is failed: %w", payment.ID, domain.ErrPaymentFinalized)
	}
	credit := !p.PaidCredited
	if payment.CompletedAt == nil {
		now := time.Now().UTC()
		payment.CompletedAt = &now
	}
	payment.Status = domain.PaymentStatusCompleted
	payment.Error = ""
	updated := clonePayment(payment)
	updated.PaidCredited = true
	r.store.payments[payment.ID] = updated

	if credit {
		if sale, ok := r.store.sales[payment.SaleID]; ok {
			sale.Paid = sale.Paid.Add(payment.ConvertedFiat)
		}
	}
	payment.PaidCredited = true
	return credit, nil
}

func (r *PaymentRepo) ListInFlight(ctx context.Context, maxConfirmations uint64, limit int) ([]*domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.PaymentRecord
	for _, p := range r.store.payments {
		if p.TransactionID == nil {
			continue
		}
		pending := p.Status == domain.PaymentStatusPending
		maturing := p.Status == domain.PaymentStatusCompleted && p.ConfirmationCount < maxConfirmations
		if pending || maturing {
			out = append(out, clonePayment(p))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepo) ListBySale(ctx context.Context, saleID string) ([]*domain.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.PaymentRecord
	for _, p := range r.store.payments {
		if p.SaleID == saleID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Sale Repository
// -----------------------------------------------------------------------------

type SaleRepo struct {
	store *MemoryStorage
}

func NewSaleRepo(store *MemoryStorage) *SaleRepo {
	return &SaleRepo{store: store}
}

func (r *SaleRepo) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.sales[saleID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *SaleRepo) Save(ctx context.Context, sale *domain.Sale) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *sale
	r.store.sales[sale.ID] = &c
	return nil
}
