// Package control exposes the store's ledger use cases and wires the
// application together.
package control

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/w3bpay/internal/binding"
	"github.com/vietddude/w3bpay/internal/confirmation"
	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/storage"
	"github.com/vietddude/w3bpay/internal/rewards"
)

// Result is the outcome of one request. Soft outcomes such as a duplicate
// receipt are OK with ErrorKind set.
type Result struct {
	OK        bool             `json:"ok"`
	Data      any              `json:"data,omitempty"`
	ErrorKind domain.ErrorKind `json:"errorKind,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func resultOf(data any, err error) Result {
	if err == nil {
		return Result{OK: true, Data: data}
	}
	return Result{
		OK:        domain.IsSoft(err),
		Data:      data,
		ErrorKind: domain.KindOf(err),
		Message:   err.Error(),
	}
}

// WalletInfo is the public view of a binding.
type WalletInfo struct {
	CustomerID     string                 `json:"customerId"`
	Address        string                 `json:"address"`
	Kind           domain.AddressKind     `json:"kind"`
	RewardBalance  int64                  `json:"rewardBalance"`
	ReceiptRecords []domain.ReceiptRecord `json:"receiptRecords"`
}

func walletInfo(b *domain.AddressBinding) *WalletInfo {
	return &WalletInfo{
		CustomerID:     b.CustomerID,
		Address:        b.Address,
		Kind:           b.Kind,
		RewardBalance:  b.RewardBalance,
		ReceiptRecords: b.MintedReceipts(),
	}
}

// RewardIssue reports a loyalty issuance.
type RewardIssue struct {
	TokensIssued  int64 `json:"tokensIssued"`
	RewardBalance int64 `json:"rewardBalance"`
}

// Verification reports the confirmation state of a transaction.
type Verification struct {
	TransactionID string `json:"transactionId"`
	Confirmations uint64 `json:"confirmations"`
	Required      uint64 `json:"required"`
	Confirmed     bool   `json:"confirmed"`
}

// RewardBalance compares the recorded balance with the token contract.
type RewardBalance struct {
	Recorded int64           `json:"recorded"`
	OnChain  decimal.Decimal `json:"onChain"`
}

// Service implements the request boundary.
type Service struct {
	registry *binding.Registry
	book     *rewards.Book
	tracker  *confirmation.Tracker
	sales    storage.SaleRepository
	log      *slog.Logger
}

// NewService creates the request boundary.
func NewService(
	registry *binding.Registry,
	book *rewards.Book,
	tracker *confirmation.Tracker,
	sales storage.SaleRepository,
) *Service {
	return &Service{
		registry: registry,
		book:     book,
		tracker:  tracker,
		sales:    sales,
		log:      slog.Default().With("component", "control"),
	}
}

func (s *Service) finish(op string, data any, err error) Result {
	res := resultOf(data, err)
	switch {
	case err == nil:
	case res.OK:
		s.log.Info("Request completed with no effect", "op", op, "kind", res.ErrorKind)
	default:
		s.log.Warn("Request failed", "op", op, "kind", res.ErrorKind, "error", err)
	}
	return res
}

// ConnectWallet binds address to the customer, replacing any previous binding.
func (s *Service) ConnectWallet(ctx context.Context, customerID, address, kind string) Result {
	k, ok := domain.ParseAddressKind(kind)
	if !ok {
		return s.finish("connect_wallet", nil, fmt.Errorf("%w: unknown address kind %q", domain.ErrInvalidRequest, kind))
	}
	b, err := s.registry.Bind(ctx, customerID, address, k)
	if err != nil {
		return s.finish("connect_wallet", nil, err)
	}
	return s.finish("connect_wallet", walletInfo(b), nil)
}

// ProcessPayment settles a crypto payment against a sale. An empty address
// pays from the sale customer's bound wallet.
func (s *Service) ProcessPayment(ctx context.Context, saleID, address, amount, currency string) Result {
	const op = "process_payment"

	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return s.finish(op, nil, fmt.Errorf("%w: amount %q", domain.ErrInvalidRequest, amount))
	}
	cur, ok := domain.ParseCurrency(strings.ToUpper(currency))
	if !ok {
		return s.finish(op, nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency))
	}

	sale, err := s.sale(ctx, saleID)
	if err != nil {
		return s.finish(op, nil, err)
	}
	if address == "" {
		b, err := s.registry.Lookup(ctx, sale.CustomerID)
		if err != nil {
			return s.finish(op, nil, err)
		}
		address = b.Address
	}

	p, err := s.book.RecordPayment(ctx, sale, address, cur, value)
	if p == nil {
		return s.finish(op, nil, err)
	}
	return s.finish(op, p, err)
}

// MintReceipt mints the receipt token of a sale to its customer's wallet.
func (s *Service) MintReceipt(ctx context.Context, saleID string) Result {
	const op = "mint_receipt"

	sale, err := s.sale(ctx, saleID)
	if err != nil {
		return s.finish(op, nil, err)
	}
	b, err := s.registry.Lookup(ctx, sale.CustomerID)
	if err != nil {
		return s.finish(op, nil, err)
	}
	rec, err := s.book.MintReceipt(ctx, b, sale)
	if rec == nil {
		return s.finish(op, nil, err)
	}
	return s.finish(op, rec, err)
}

// IssueReward mints loyalty tokens worth purchaseAmount to the customer.
func (s *Service) IssueReward(ctx context.Context, customerID, purchaseAmount string) Result {
	const op = "issue_reward"

	value, err := decimal.NewFromString(strings.TrimSpace(purchaseAmount))
	if err != nil {
		return s.finish(op, nil, fmt.Errorf("%w: purchase amount %q", domain.ErrInvalidRequest, purchaseAmount))
	}
	b, err := s.registry.Lookup(ctx, customerID)
	if err != nil {
		return s.finish(op, nil, err)
	}

	tokens, err := s.book.IssueReward(ctx, b, value)
	if err != nil && !domain.IsSoft(err) {
		return s.finish(op, nil, err)
	}

	balance := b.RewardBalance
	if tokens > 0 {
		if fresh, lerr := s.registry.Lookup(ctx, customerID); lerr == nil {
			balance = fresh.RewardBalance
		}
	}
	return s.finish(op, &RewardIssue{TokensIssued: tokens, RewardBalance: balance}, err)
}

// GetWalletInfo returns the customer's binding.
func (s *Service) GetWalletInfo(ctx context.Context, customerID string) Result {
	b, err := s.registry.Lookup(ctx, customerID)
	if err != nil {
		return s.finish("wallet_info", nil, err)
	}
	return s.finish("wallet_info", walletInfo(b), nil)
}

// VerifyTransaction reports whether a transaction has the required
// number of confirmations. Zero means one.
func (s *Service) VerifyTransaction(ctx context.Context, hash string, required uint64) Result {
	const op = "verify_transaction"

	if !isTxHash(hash) {
		return s.finish(op, nil, fmt.Errorf("%w: transaction id %q", domain.ErrInvalidRequest, hash))
	}
	if required == 0 {
		required = 1
	}
	n, err := s.tracker.ConfirmationsOf(ctx, hash)
	if err != nil {
		return s.finish(op, nil, err)
	}
	return s.finish(op, &Verification{
		TransactionID: hash,
		Confirmations: n,
		Required:      required,
		Confirmed:     n >= required,
	}, nil)
}

// GetRewardBalance returns the recorded and on-chain loyalty balances.
func (s *Service) GetRewardBalance(ctx context.Context, customerID string) Result {
	const op = "reward_balance"

	b, err := s.registry.Lookup(ctx, customerID)
	if err != nil {
		return s.finish(op, nil, err)
	}
	onChain, err := s.book.OnChainRewardBalance(ctx, b)
	if err != nil {
		return s.finish(op, nil, err)
	}
	return s.finish(op, &RewardBalance{Recorded: b.RewardBalance, OnChain: onChain}, nil)
}

func (s *Service) sale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if saleID == "" {
		return nil, fmt.Errorf("%w: sale id is required", domain.ErrInvalidRequest)
	}
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, fmt.Errorf("sale %s: %w", saleID, domain.ErrNotFound)
	}
	return sale, nil
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
