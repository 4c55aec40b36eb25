// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
)

type fakeTx struct {
	req     ledger.TxRequest
	block   *uint64
	polls   int
	success bool
}

// Fake simulates a node that includes each transaction after a number of
// receipt polls. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	height   uint64
	gasPrice *big.Int
	txs      map[string]*fakeTx
	order    []string
	nonce    int

	inFlight    map[string]int
	maxInFlight map[string]int

	// InclusionPolls is how many GetReceipt calls a transaction stays pending.
	InclusionPolls int
	// NeverInclude keeps every transaction pending forever.
	NeverInclude bool
	// Revert makes included transactions fail.
	Revert bool
	// Down makes every call fail with domain.ErrNodeUnavailable.
	Down bool
	// SubmitErr, when set, rejects submissions.
	SubmitErr error
	// ReadResults maps a method signature to its eth_call return data.
	ReadResults map[string][]byte

	Calls []ledger.ContractCall
}

func New() *Fake {
	return &Fake{
		height:      100,
		gasPrice:    big.NewInt(1_000_000_000),
		txs:         make(map[string]*fakeTx),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
		ReadResults: make(map[string][]byte),
	}
}

func (f *Fake) down() error {
	if f.Down {
		return fmt.Errorf("%w: fake node down", domain.ErrNodeUnavailable)
	}
	return nil
}

func (f *Fake) SubmitTransaction(ctx context.Context, tx ledger.TxRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return "", err
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}

	f.nonce++
	hash := fmt.Sprintf("0x%064x", f.nonce)
	f.txs[hash] = &fakeTx{req: tx}
	f.order = append(f.order, hash)

	from := strings.ToLower(tx.From)
	f.inFlight[from]++
	if f.inFlight[from] > f.maxInFlight[from] {
		f.maxInFlight[from] = f.inFlight[from]
	}
	return hash, nil
}

func (f *Fake) GetTransaction(ctx context.Context, hash string) (*ledger.ChainTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return nil, err
	}
	t, ok := f.txs[hash]
	if !ok {
		return nil, nil
	}
	out := &ledger.ChainTx{Hash: hash, From: t.req.From, To: t.req.To, Value: t.req.Value}
	if t.block != nil {
		n := *t.block
		out.BlockNumber = &n
	}
	return out, nil
}

func (f *Fake) GetReceipt(ctx context.Context, hash string) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return nil, err
	}
	t, ok := f.txs[hash]
	if !ok {
		return nil, nil
	}
	if t.block == nil {
		t.polls++
		if f.NeverInclude || t.polls <= f.InclusionPolls {
			return nil, nil
		}
		f.includeLocked(hash, t)
	}
	return &ledger.Receipt{TxHash: hash, BlockNumber: *t.block, Success: t.success, GasUsed: 21000}, nil
}

func (f *Fake) includeLocked(hash string, t *fakeTx) {
	f.height++
	n := f.height
	t.block = &n
	t.success = !f.Revert
	f.inFlight[strings.ToLower(t.req.From)]--
}

func (f *Fake) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return 0, err
	}
	return f.height, nil
}

func (f *Fake) GasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *Fake) Call(ctx context.Context, call ledger.ContractCall) (string, error) {
	data, err := ledger.EncodeCall(call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()

	return f.SubmitTransaction(ctx, ledger.TxRequest{
		From:     call.Signer,
		To:       call.Contract,
		Data:     data,
		Gas:      call.Gas,
		GasPrice: call.GasPrice,
	})
}

func (f *Fake) ReadCall(ctx context.Context, contract, method string, args ...any) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return nil, err
	}
	out, ok := f.ReadResults[method]
	if !ok {
		return nil, fmt.Errorf("no read result for %s", method)
	}
	return out, nil
}

// Mine advances the chain height by n blocks.
func (f *Fake) Mine(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height += n
}

// Include forces a pending transaction into the next block.
func (f *Fake) Include(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.txs[hash]; ok && t.block == nil {
		f.includeLocked(hash, t)
	}
}

// Height returns the current chain height.
func (f *Fake) Height() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

// Sent returns submitted transactions in order.
func (f *Fake) Sent() []ledger.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.TxRequest, 0, len(f.order))
	for _, h := range f.order {
		out = append(out, f.txs[h].req)
	}
	return out
}

// MaxInFlight reports the most transactions ever pending at once from address.
func (f *Fake) MaxInFlight(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight[strings.ToLower(address)]
}

var _ ledger.Client = (*Fake)(nil)
