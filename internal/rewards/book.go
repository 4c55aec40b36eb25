// Package rewards records the results of ledger transactions against
// customers and sales: crypto payments, receipt tokens and loyalty rewards.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/core/keylock"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/infra/storage"
	"github.com/vietddude/w3bpay/internal/metrics"
	"github.com/vietddude/w3bpay/internal/oracle"
	"github.com/vietddude/w3bpay/internal/orchestrator"
)

// Submitter sends transactions and waits for their inclusion.
type Submitter interface {
	SubmitTransfer(ctx context.Context, from, to string, amount *big.Int, opts ...orchestrator.SubmitOption) (*domain.TransactionOutcome, error)
	SubmitContractCall(ctx context.Context, call orchestrator.ContractCall, opts ...orchestrator.SubmitOption) (*domain.TransactionOutcome, error)
}

// Reader evaluates view methods and looks up receipts of earlier submissions.
type Reader interface {
	ReadCall(ctx context.Context, contract, method string, args ...any) ([]byte, error)
	GetReceipt(ctx context.Context, hash string) (*ledger.Receipt, error)
}

// Currency describes how payments in one currency settle.
type Currency struct {
	Native   bool
	Contract string
	Decimals int32
}

// Config names the contracts and accounts the book works with.
type Config struct {
	ReceiptContract string
	LoyaltyContract string
	Minter          string
	Treasury        string
	LoyaltyDecimals int32
	UnitValue       int64
	Currencies      map[domain.Currency]Currency
}

// Book applies ledger outcomes to bindings, payments and sales.
type Book struct {
	cfg       Config
	submitter Submitter
	reader    Reader
	bindings  storage.BindingRepository
	payments  storage.PaymentRepository
	oracle    oracle.RateOracle
	locks     *keylock.Map
	now       func() time.Time
	log       *slog.Logger
}

// NewBook creates a book. locks must be the same map the binding registry uses.
func NewBook(
	cfg Config,
	submitter Submitter,
	reader Reader,
	bindings storage.BindingRepository,
	payments storage.PaymentRepository,
	rates oracle.RateOracle,
	locks *keylock.Map,
) *Book {
	if cfg.UnitValue <= 0 {
		cfg.UnitValue = 10
	}
	return &Book{
		cfg:       cfg,
		submitter: submitter,
		reader:    reader,
		bindings:  bindings,
		payments:  payments,
		oracle:    rates,
		locks:     locks,
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default().With("component", "rewards"),
	}
}

// RecordPayment converts amount to fiat, records a pending payment and settles
// it on the ledger from address to the treasury.
//
// A payment whose inclusion wait ends without an answer stays pending with its
// transaction hash so the reconciler can finish it; the error is still returned.
func (b *Book) RecordPayment(
	ctx context.Context,
	sale *domain.Sale,
	address string,
	currency domain.Currency,
	amount decimal.Decimal,
) (*domain.PaymentRecord, error) {
	if sale == nil {
		return nil, fmt.Errorf("sale: %w", domain.ErrNotFound)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	cur, ok := b.cfg.Currencies[currency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	if !cur.Native && !ledger.IsHexAddress(cur.Contract) {
		return nil, fmt.Errorf("%w: %s has no token contract", domain.ErrUnsupportedCurrency, currency)
	}
	if !ledger.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: payer %q", domain.ErrInvalidAddress, address)
	}
	if !ledger.IsHexAddress(b.cfg.Treasury) {
		return nil, errors.New("treasury account is not configured")
	}

	units, err := ledger.ToBaseUnits(amount, cur.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	rate, err := b.oracle.Rate(ctx, currency)
	if err != nil {
		return nil, err
	}

	now := b.now()
	p := &domain.PaymentRecord{
		ID:              uuid.NewString(),
		SaleID:          sale.ID,
		CustomerID:      sale.CustomerID,
		Address:         address,
		Currency:        currency,
		SubmittedAmount: amount,
		ConvertedFiat:   amount.Mul(rate).Round(8),
		ConversionRate:  rate,
		Status:          domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	persistHash := orchestrator.WithSubmittedHook(func(ctx context.Context, hash string) error {
		return b.payments.SetTxHash(context.WithoutCancel(ctx), p.ID, hash)
	})

	var outcome *domain.TransactionOutcome
	if cur.Native {
		outcome, err = b.submitter.SubmitTransfer(ctx, address, b.cfg.Treasury, units, persistHash)
	} else {
		outcome, err = b.submitter.SubmitContractCall(ctx, orchestrator.ContractCall{
			Contract: cur.Contract,
			Method:   ledger.MethodTransfer,
			Args:     []any{b.cfg.Treasury, units},
			Signer:   address,
		}, persistHash)
	}

	return p, b.settle(context.WithoutCancel(ctx), p, outcome, err)
}

// settle persists the final state of a payment after its submission.
func (b *Book) settle(ctx context.Context, p *domain.PaymentRecord, outcome *domain.TransactionOutcome, subErr error) error {
	now := b.now()
	p.UpdatedAt = now
	if outcome != nil && outcome.Submitted {
		hash := outcome.TransactionID
		p.TransactionID = &hash
		if outcome.BlockNumber > 0 {
			block := outcome.BlockNumber
			p.BlockNumber = &block
		}
	}

	switch {
	case subErr == nil:
		p.Status = domain.PaymentStatusCompleted
		p.ConfirmationCount = 1
		p.CompletedAt = &now
		if _, err := b.payments.Complete(ctx, p); err != nil {
			return err
		}
		metrics.PaymentsTotal.WithLabelValues(string(p.Currency), string(domain.PaymentStatusCompleted)).Inc()
		b.log.Info("Payment completed", "payment", p.ID, "sale", p.SaleID, "tx", p.TxHash(), "fiat", p.ConvertedFiat)
		return nil

	case p.TransactionID != nil && !errors.Is(subErr, domain.ErrReverted):
		// On the ledger but not yet observed included.
		p.Error = subErr.Error()
		err := b.payments.Update(ctx, p)
		if errors.Is(err, domain.ErrPaymentFinalized) {
			return b.adoptFinal(ctx, p, subErr)
		}
		if err != nil {
			return errors.Join(subErr, err)
		}
		b.log.Warn("Payment left pending", "payment", p.ID, "tx", p.TxHash(), "error", subErr)
		return subErr

	default:
		p.Status = domain.PaymentStatusFailed
		p.Error = subErr.Error()
		if err := b.payments.Update(ctx, p); err != nil {
			return errors.Join(subErr, err)
		}
		metrics.PaymentsTotal.WithLabelValues(string(p.Currency), string(domain.PaymentStatusFailed)).Inc()
		b.log.Warn("Payment failed", "payment", p.ID, "sale", p.SaleID, "error", subErr)
		return subErr
	}
}

// adoptFinal loads a payment the reconciler settled while the submission was
// still waiting. A completed payment clears the submission error.
func (b *Book) adoptFinal(ctx context.Context, p *domain.PaymentRecord, subErr error) error {
	stored, err := b.payments.Get(ctx, p.ID)
	if err != nil {
		return errors.Join(subErr, err)
	}
	if stored == nil {
		return subErr
	}
	*p = *stored
	if p.Status == domain.PaymentStatusCompleted {
		b.log.Info("Payment already completed", "payment", p.ID, "tx", p.TxHash())
		return nil
	}
	return subErr
}

// MintReceipt mints the receipt token of a sale to the customer's address.
// An existing receipt is returned together with domain.ErrDuplicateReceipt
// and no contract call is made.
//
// The mint is recorded as pending once submitted. A later call resolves that
// transaction on the ledger instead of minting again; only a reverted mint
// is resubmitted.
func (b *Book) MintReceipt(ctx context.Context, binding *domain.AddressBinding, sale *domain.Sale) (*domain.ReceiptRecord, error) {
	if binding == nil || sale == nil {
		return nil, domain.ErrNotFound
	}

	unlock, err := b.locks.Lock(ctx, binding.CustomerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := b.bindings.Get(ctx, binding.CustomerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("binding for %s: %w", binding.CustomerID, domain.ErrNotFound)
	}
	if existing, ok := current.ReceiptFor(sale.ID); ok {
		return existing, domain.ErrDuplicateReceipt
	}
	if pending, ok := current.PendingReceiptFor(sale.ID); ok {
		rec, err := b.resolvePendingReceipt(ctx, current.CustomerID, pending)
		if rec != nil || err != nil {
			return rec, err
		}
	}
	if !ledger.IsHexAddress(current.Address) {
		return nil, fmt.Errorf("%w: receipts need a ledger address, have %s", domain.ErrInvalidAddress, current.Kind)
	}

	tokenID := ledger.TokenIDForSale(sale.ID)
	rec := domain.ReceiptRecord{
		TokenID:   tokenID.String(),
		SaleID:    sale.ID,
		CreatedAt: b.now(),
	}
	persistPending := orchestrator.WithSubmittedHook(func(ctx context.Context, hash string) error {
		pending := rec
		pending.TransactionID = hash
		pending.Pending = true
		return b.bindings.AddReceipt(context.WithoutCancel(ctx), current.CustomerID, pending)
	})

	outcome, err := b.submitter.SubmitContractCall(ctx, orchestrator.ContractCall{
		Contract: b.cfg.ReceiptContract,
		Method:   ledger.MethodMint,
		Args:     []any{current.Address, tokenID},
		Signer:   b.cfg.Minter,
	}, persistPending)
	if err != nil {
		if outcome != nil && outcome.Submitted {
			b.log.Warn("Receipt mint unresolved", "sale", sale.ID, "tx", outcome.TransactionID, "error", err)
		}
		return nil, err
	}

	rec.TransactionID = outcome.TransactionID
	return b.storeReceipt(context.WithoutCancel(ctx), current.CustomerID, rec)
}

// resolvePendingReceipt looks up an earlier mint. It returns (nil, nil) when
// that mint reverted and a new one may be submitted.
func (b *Book) resolvePendingReceipt(ctx context.Context, customerID string, pending *domain.ReceiptRecord) (*domain.ReceiptRecord, error) {
	receipt, err := b.reader.GetReceipt(ctx, pending.TransactionID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: %w: mint %s for sale %s is not yet included",
			domain.ErrSubmission, domain.ErrInclusionTimeout, pending.TransactionID, pending.SaleID)
	}
	if !receipt.Success {
		b.log.Warn("Pending receipt mint reverted", "sale", pending.SaleID, "tx", pending.TransactionID)
		return nil, nil
	}

	rec := *pending
	rec.Pending = false
	return b.storeReceipt(context.WithoutCancel(ctx), customerID, rec)
}

func (b *Book) storeReceipt(ctx context.Context, customerID string, rec domain.ReceiptRecord) (*domain.ReceiptRecord, error) {
	if err := b.bindings.AddReceipt(ctx, customerID, rec); err != nil {
		return nil, err
	}
	metrics.ReceiptsMinted.Inc()
	b.log.Info("Receipt minted", "customer", customerID, "sale", rec.SaleID, "token", rec.TokenID, "tx", rec.TransactionID)
	return &rec, nil
}

var maxTokens = decimal.NewFromInt(math.MaxInt64)

// RewardFor returns floor(purchase / unit value), never negative. A purchase
// worth more tokens than an int64 holds is rejected.
func (b *Book) RewardFor(purchase decimal.Decimal) (int64, error) {
	tokens := purchase.Div(decimal.NewFromInt(b.cfg.UnitValue)).Floor()
	if tokens.GreaterThan(maxTokens) {
		return 0, fmt.Errorf("%w: purchase amount %s is too large", domain.ErrInvalidRequest, purchase)
	}
	if !tokens.IsPositive() {
		return 0, nil
	}
	return tokens.IntPart(), nil
}

// IssueReward mints loyalty tokens for a purchase and adds them to the
// binding's reward balance. A purchase worth no whole token returns
// (0, domain.ErrBelowThreshold) without touching the ledger.
func (b *Book) IssueReward(ctx context.Context, binding *domain.AddressBinding, purchase decimal.Decimal) (int64, error) {
	if binding == nil {
		return 0, domain.ErrNotFound
	}
	tokens, err := b.RewardFor(purchase)
	if err != nil {
		return 0, err
	}
	if tokens <= 0 {
		return 0, domain.ErrBelowThreshold
	}
	units, err := ledger.ToBaseUnits(decimal.NewFromInt(tokens), b.cfg.LoyaltyDecimals)
	if err != nil {
		return 0, err
	}

	unlock, err := b.locks.Lock(ctx, binding.CustomerID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// A rebind may have landed before the lock was taken.
	current, err := b.bindings.Get(ctx, binding.CustomerID)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, fmt.Errorf("binding for %s: %w", binding.CustomerID, domain.ErrNotFound)
	}
	if !ledger.IsHexAddress(current.Address) {
		return 0, fmt.Errorf("%w: rewards need a ledger address, have %s", domain.ErrInvalidAddress, current.Kind)
	}

	if _, err := b.submitter.SubmitContractCall(ctx, orchestrator.ContractCall{
		Contract: b.cfg.LoyaltyContract,
		Method:   ledger.MethodMint,
		Args:     []any{current.Address, units},
		Signer:   b.cfg.Minter,
	}); err != nil {
		return 0, err
	}

	balance, err := b.bindings.AddReward(context.WithoutCancel(ctx), current.CustomerID, tokens)
	if err != nil {
		return 0, err
	}

	metrics.RewardTokensIssued.Add(float64(tokens))
	b.log.Info("Reward issued", "customer", current.CustomerID, "tokens", tokens, "balance", balance)
	return tokens, nil
}

// OnChainRewardBalance reads the loyalty token balance of the binding's address.
func (b *Book) OnChainRewardBalance(ctx context.Context, binding *domain.AddressBinding) (decimal.Decimal, error) {
	if binding == nil {
		return decimal.Zero, domain.ErrNotFound
	}
	if !ledger.IsHexAddress(binding.Address) {
		return decimal.Zero, fmt.Errorf("%w: %s address has no token balance", domain.ErrInvalidAddress, binding.Kind)
	}

	out, err := b.reader.ReadCall(ctx, b.cfg.LoyaltyContract, ledger.MethodBalanceOf, binding.Address)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := ledger.DecodeUint256(out)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.FromBaseUnits(raw, b.cfg.LoyaltyDecimals), nil
}
