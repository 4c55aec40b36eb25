package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/time/rate"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/rpc/provider"
	"github.com/vietddude/w3bpay/internal/infra/rpc/routing"
	"github.com/vietddude/w3bpay/internal/metrics"
)

// Config tunes the EVM client.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Retry             routing.RetryConfig
}

// EVMClient implements Client against one or more JSON-RPC providers.
type EVMClient struct {
	providers []provider.RPCProvider
	limiter   *rate.Limiter
	retry     routing.RetryConfig
	log       *slog.Logger
}

// NewEVMClient creates a client over the given providers, in preference order.
func NewEVMClient(providers []provider.RPCProvider, cfg Config) *EVMClient {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = routing.DefaultRetryConfig
	}

	return &EVMClient{
		providers: providers,
		limiter:   rate.NewLimiter(limit, burst),
		retry:     retry,
		log:       slog.Default().With("component", "ledger"),
	}
}

// read performs an idempotent call with retry and failover.
func (c *EVMClient) read(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNodeUnavailable, method, err)
	}
	result, err := routing.CallWithFailover(ctx, c.providers, method, params, c.retry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNodeUnavailable, method, err)
	}
	return result, nil
}

// send performs a single non-idempotent call against the first usable provider.
func (c *EVMClient) send(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", domain.ErrNodeUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNodeUnavailable, method, err)
	}

	p := routing.Ordered(c.providers)[0]
	result, err := p.Call(ctx, method, params)
	if err != nil {
		if provider.IsRPCError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}
		return nil, fmt.Errorf("%w: %s via %s: %w", domain.ErrNodeUnavailable, method, p.GetName(), err)
	}
	return result, nil
}

func (c *EVMClient) SubmitTransaction(ctx context.Context, tx TxRequest) (string, error) {
	if tx.From == "" {
		return "", fmt.Errorf("%w: missing sender", domain.ErrInvalidRequest)
	}

	args := map[string]string{"from": tx.From}
	if tx.To != "" {
		args["to"] = tx.To
	}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		args["value"] = encodeQuantity(tx.Value)
	}
	if len(tx.Data) > 0 {
		args["data"] = "0x" + hex.EncodeToString(tx.Data)
	}
	if tx.Gas > 0 {
		args["gas"] = encodeQuantity(new(big.Int).SetUint64(tx.Gas))
	}
	if tx.GasPrice != nil && tx.GasPrice.Sign() > 0 {
		args["gasPrice"] = encodeQuantity(tx.GasPrice)
	}

	raw, err := c.send(ctx, "eth_sendTransaction", args)
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil || hash == "" {
		return "", fmt.Errorf("%w: unexpected eth_sendTransaction result %s", domain.ErrSubmission, string(raw))
	}

	c.log.Debug("transaction submitted", "hash", hash, "from", tx.From, "to", tx.To)
	return hash, nil
}

type rpcTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       string  `json:"value"`
	BlockNumber *string `json:"blockNumber"`
}

func (c *EVMClient) GetTransaction(ctx context.Context, hash string) (*ChainTx, error) {
	raw, err := c.read(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var t rpcTransaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", hash, err)
	}

	tx := &ChainTx{
		Hash: t.Hash,
		From: t.From,
		To:   t.To,
	}
	if t.Value != "" {
		if v, err := parseHexBig(t.Value); err == nil {
			tx.Value = v
		}
	}
	if t.BlockNumber != nil && *t.BlockNumber != "" {
		n, err := parseHexUint64(*t.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("decode block number of %s: %w", hash, err)
		}
		tx.BlockNumber = &n
	}
	return tx, nil
}

type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
	GasUsed         string `json:"gasUsed"`
}

func (c *EVMClient) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	raw, err := c.read(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}

	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", hash, err)
	}
	if r.BlockNumber == "" {
		return nil, nil
	}

	block, err := parseHexUint64(r.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("decode receipt block of %s: %w", hash, err)
	}
	gasUsed, _ := parseHexUint64(r.GasUsed)

	return &Receipt{
		TxHash:      r.TransactionHash,
		BlockNumber: block,
		Success:     r.Status != "0x0",
		GasUsed:     gasUsed,
	}, nil
}

func (c *EVMClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	raw, err := c.read(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid block number response: %w", err)
	}
	height, err := parseHexUint64(s)
	if err != nil {
		return 0, err
	}

	metrics.ChainLatestBlock.Set(float64(height))
	return height, nil
}

func (c *EVMClient) GasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.read(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid gas price response: %w", err)
	}
	return parseHexBig(s)
}

func (c *EVMClient) Call(ctx context.Context, call ContractCall) (string, error) {
	if !IsHexAddress(call.Contract) {
		return "", fmt.Errorf("%w: contract address %q", domain.ErrInvalidRequest, call.Contract)
	}
	data, err := EncodeCall(call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	return c.SubmitTransaction(ctx, TxRequest{
		From:     call.Signer,
		To:       call.Contract,
		Data:     data,
		Gas:      call.Gas,
		GasPrice: call.GasPrice,
	})
}

func (c *EVMClient) ReadCall(ctx context.Context, contract, method string, args ...any) ([]byte, error) {
	data, err := EncodeCall(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	raw, err := c.read(ctx, "eth_call", map[string]string{
		"to":   contract,
		"data": "0x" + hex.EncodeToString(data),
	}, "latest")
	if err != nil {
		return nil, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid eth_call response: %w", err)
	}
	out, err := decodeHexBytes(s)
	if err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
