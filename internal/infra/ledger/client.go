// Package ledger talks to an EVM ledger node over JSON-RPC.
//
// Reads go through retry and provider failover. Submissions are sent exactly
// once; a failed submission is reported, never replayed.
package ledger

import (
	"context"
	"math/big"
)

// Client is the capability the rest of the system needs from a ledger node.
type Client interface {
	// SubmitTransaction sends a transaction from a node-held account and returns its hash.
	SubmitTransaction(ctx context.Context, tx TxRequest) (string, error)

	// GetTransaction returns nil when the node does not know the hash.
	GetTransaction(ctx context.Context, hash string) (*ChainTx, error)

	// GetReceipt returns nil while the transaction is pending.
	GetReceipt(ctx context.Context, hash string) (*Receipt, error)

	GetBlockHeight(ctx context.Context) (uint64, error)

	GasPrice(ctx context.Context) (*big.Int, error)

	// Call ABI-encodes a contract method invocation and submits it.
	Call(ctx context.Context, call ContractCall) (string, error)

	// ReadCall evaluates a view method without creating a transaction.
	ReadCall(ctx context.Context, contract, method string, args ...any) ([]byte, error)
}

// TxRequest is a transaction to be signed by the node.
type TxRequest struct {
	From     string
	To       string
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}

// ContractCall is a state-changing contract method invocation.
// Method is the canonical signature, e.g. "mint(address,uint256)".
type ContractCall struct {
	Contract string
	Method   string
	Args     []any
	Signer   string
	Gas      uint64
	GasPrice *big.Int
}

// ChainTx is a transaction as seen by the node.
type ChainTx struct {
	Hash        string
	From        string
	To          string
	Value       *big.Int
	BlockNumber *uint64
}

// Pending reports whether the transaction has not been included yet.
func (t *ChainTx) Pending() bool {
	return t.BlockNumber == nil
}

// Receipt is the execution result of an included transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	GasUsed     uint64
}
