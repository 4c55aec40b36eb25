// Package binding maintains the customer to ledger address registry.
package binding

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/core/keylock"
	"github.com/vietddude/w3bpay/internal/infra/storage"
)

const maxOtherAddressLen = 128

var (
	ethereumRe      = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	bitcoinBase58Re = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	bitcoinBech32Re = regexp.MustCompile(`^bc1[02-9ac-hj-np-z]{11,71}$`)
)

// Registry binds customers to addresses. Writes for one customer are serialised.
type Registry struct {
	bindings  storage.BindingRepository
	customers storage.CustomerRepository
	locks     *keylock.Map
	now       func() time.Time
	log       *slog.Logger
}

// NewRegistry creates a registry. locks is shared with every other writer
// of bindings so that each customer has a single writer.
func NewRegistry(
	bindings storage.BindingRepository,
	customers storage.CustomerRepository,
	locks *keylock.Map,
) *Registry {
	return &Registry{
		bindings:  bindings,
		customers: customers,
		locks:     locks,
		now:       time.Now,
		log:       slog.Default().With("component", "binding"),
	}
}

// ValidateAddress checks the address format for its kind.
func ValidateAddress(address string, kind domain.AddressKind) error {
	var ok bool
	switch kind {
	case domain.AddressKindEthereum:
		ok = ethereumRe.MatchString(address)
	case domain.AddressKindBitcoin:
		ok = bitcoinBase58Re.MatchString(address) || bitcoinBech32Re.MatchString(address)
	case domain.AddressKindOther:
		ok = address != "" && len(address) <= maxOtherAddressLen &&
			strings.IndexFunc(address, unicode.IsSpace) < 0
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidAddress, kind)
	}
	if !ok {
		return fmt.Errorf("%w: %q is not a valid %s address", domain.ErrInvalidAddress, address, kind)
	}
	return nil
}

// Bind creates or replaces the customer's binding. A rebind keeps the
// reward balance and receipt records.
func (r *Registry) Bind(
	ctx context.Context,
	customerID, address string,
	kind domain.AddressKind,
) (*domain.AddressBinding, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidRequest)
	}
	if err := ValidateAddress(address, kind); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exists, err := r.customers.Exists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}

	owner, err := r.bindings.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.CustomerID != customerID {
		return nil, domain.ErrAddressInUse
	}

	now := r.now()
	current, err := r.bindings.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	b := &domain.AddressBinding{
		CustomerID: customerID,
		Address:    address,
		Kind:       kind,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if current != nil {
		b.CreatedAt = current.CreatedAt
	}

	if err := r.bindings.Upsert(ctx, b); err != nil {
		return nil, err
	}

	if current == nil {
		r.log.Info("Wallet connected", "customer", customerID, "address", address, "kind", kind)
	} else {
		r.log.Info("Wallet updated", "customer", customerID, "from", current.Address, "to", address)
	}

	return r.Lookup(ctx, customerID)
}

// Lookup returns the customer's binding or domain.ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, customerID string) (*domain.AddressBinding, error) {
	b, err := r.bindings.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("binding for %s: %w", customerID, domain.ErrNotFound)
	}
	return b, nil
}
