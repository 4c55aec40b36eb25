package domain

import "time"

// AddressKind identifies the address family a binding belongs to.
type AddressKind string

const (
	// AddressKindEthereum is the chain-native kind (20-byte hex with 0x prefix).
	AddressKindEthereum AddressKind = "ethereum"
	AddressKindBitcoin  AddressKind = "bitcoin"
	AddressKindOther    AddressKind = "other"
)

// ParseAddressKind maps free-form input to a kind. Empty input yields the native kind.
func ParseAddressKind(s string) (AddressKind, bool) {
	switch AddressKind(s) {
	case "":
		return AddressKindEthereum, true
	case AddressKindEthereum, AddressKindBitcoin, AddressKindOther:
		return AddressKind(s), true
	}
	return "", false
}

// AddressBinding ties a customer to exactly one ledger address.
type AddressBinding struct {
	CustomerID     string          `json:"customer_id"     db:"customer_id"`
	Address        string          `json:"address"         db:"address"`
	Kind           AddressKind     `json:"kind"            db:"kind"`
	RewardBalance  int64           `json:"reward_balance"  db:"reward_balance"`
	ReceiptRecords []ReceiptRecord `json:"receipt_records" db:"-"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`
}

// ReceiptFor returns the receipt minted for saleID, if any.
func (b *AddressBinding) ReceiptFor(saleID string) (*ReceiptRecord, bool) {
	r, ok := b.receiptFor(saleID)
	if !ok || r.Pending {
		return nil, false
	}
	return r, true
}

// PendingReceiptFor returns the mint for saleID that was submitted but not
// yet observed included.
func (b *AddressBinding) PendingReceiptFor(saleID string) (*ReceiptRecord, bool) {
	r, ok := b.receiptFor(saleID)
	if !ok || !r.Pending {
		return nil, false
	}
	return r, true
}

func (b *AddressBinding) receiptFor(saleID string) (*ReceiptRecord, bool) {
	for i := range b.ReceiptRecords {
		if b.ReceiptRecords[i].SaleID == saleID {
			r := b.ReceiptRecords[i]
			return &r, true
		}
	}
	return nil, false
}

// MintedReceipts returns the receipts whose mint was observed included.
func (b *AddressBinding) MintedReceipts() []ReceiptRecord {
	out := make([]ReceiptRecord, 0, len(b.ReceiptRecords))
	for _, r := range b.ReceiptRecords {
		if !r.Pending {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (b *AddressBinding) Clone() *AddressBinding {
	if b == nil {
		return nil
	}
	c := *b
	c.ReceiptRecords = append([]ReceiptRecord(nil), b.ReceiptRecords...)
	return &c
}

// ReceiptRecord is a minted purchase receipt token owned by a binding.
type ReceiptRecord struct {
	TokenID       string    `json:"token_id"       db:"token_id"`
	SaleID        string    `json:"sale_id"        db:"sale_id"`
	TransactionID string    `json:"transaction_id" db:"tx_hash"`
	Pending       bool      `json:"-"              db:"pending"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
}
