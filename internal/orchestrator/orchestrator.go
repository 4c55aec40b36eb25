// Package orchestrator submits ledger transactions and waits for their inclusion.
//
// Each submission holds its source address until the transaction is
// included, rejected or the inclusion wait times out. Nothing is ever
// resubmitted automatically.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/metrics"
)

// Config controls submission and inclusion waiting.
type Config struct {
	InclusionTimeout time.Duration
	PollInterval     time.Duration
	TransferGasLimit uint64
	ContractGasLimit uint64
}

// ContractCall names a state-changing contract method and its signer.
type ContractCall struct {
	Contract string
	Method   string
	Args     []any
	Signer   string
}

type submitOptions struct {
	onSubmitted func(ctx context.Context, txHash string) error
}

// SubmitOption customises a single submission.
type SubmitOption func(*submitOptions)

// WithSubmittedHook runs fn as soon as the node accepts the transaction,
// before the inclusion wait. Use it to persist the hash.
func WithSubmittedHook(fn func(ctx context.Context, txHash string) error) SubmitOption {
	return func(o *submitOptions) {
		o.onSubmitted = fn
	}
}

// Orchestrator serialises and submits transactions.
type Orchestrator struct {
	client ledger.Client
	seq    Sequencer
	cfg    Config
	log    *slog.Logger
}

// New creates an orchestrator. A nil sequencer means in-process sequencing only.
func New(client ledger.Client, seq Sequencer, cfg Config) *Orchestrator {
	if seq == nil {
		seq = NewLocalSequencer()
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Orchestrator{
		client: client,
		seq:    seq,
		cfg:    cfg,
		log:    slog.Default().With("component", "orchestrator"),
	}
}

// SubmitTransfer moves amount (smallest unit) from one node-held account to another.
func (o *Orchestrator) SubmitTransfer(
	ctx context.Context,
	from, to string,
	amount *big.Int,
	opts ...SubmitOption,
) (*domain.TransactionOutcome, error) {
	if !ledger.IsHexAddress(from) {
		return nil, fmt.Errorf("%w: sender %q", domain.ErrInvalidAddress, from)
	}
	if !ledger.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: recipient %q", domain.ErrInvalidAddress, to)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", domain.ErrInvalidRequest)
	}

	return o.submit(ctx, "transfer", from, opts, func(gasPrice *big.Int) (string, error) {
		return o.client.SubmitTransaction(ctx, ledger.TxRequest{
			From:     from,
			To:       to,
			Value:    amount,
			Gas:      o.cfg.TransferGasLimit,
			GasPrice: gasPrice,
		})
	})
}

// SubmitContractCall invokes a contract method signed by call.Signer.
func (o *Orchestrator) SubmitContractCall(
	ctx context.Context,
	call ContractCall,
	opts ...SubmitOption,
) (*domain.TransactionOutcome, error) {
	if !ledger.IsHexAddress(call.Signer) {
		return nil, fmt.Errorf("%w: signer %q", domain.ErrInvalidAddress, call.Signer)
	}
	if !ledger.IsHexAddress(call.Contract) {
		return nil, fmt.Errorf("%w: contract %q", domain.ErrInvalidAddress, call.Contract)
	}
	// Reject bad arguments before taking the address slot.
	if _, err := ledger.EncodeCall(call.Method, call.Args...); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	return o.submit(ctx, "contract_call", call.Signer, opts, func(gasPrice *big.Int) (string, error) {
		return o.client.Call(ctx, ledger.ContractCall{
			Contract: call.Contract,
			Method:   call.Method,
			Args:     call.Args,
			Signer:   call.Signer,
			Gas:      o.cfg.ContractGasLimit,
			GasPrice: gasPrice,
		})
	})
}

func (o *Orchestrator) submit(
	ctx context.Context,
	kind, from string,
	opts []SubmitOption,
	send func(gasPrice *big.Int) (string, error),
) (*domain.TransactionOutcome, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	waitStart := time.Now()
	release, err := o.seq.Acquire(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("acquire submission slot for %s: %w", from, err)
	}
	defer release()
	metrics.SequencerWait.Observe(time.Since(waitStart).Seconds())

	gasPrice, err := o.client.GasPrice(ctx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(kind, "unavailable").Inc()
		return &domain.TransactionOutcome{Err: err}, err
	}

	hash, err := send(gasPrice)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(kind, "rejected").Inc()
		o.log.Warn("Submission failed", "kind", kind, "from", from, "error", err)
		return &domain.TransactionOutcome{Err: err}, err
	}

	outcome := &domain.TransactionOutcome{Submitted: true, TransactionID: hash}
	o.log.Info("Transaction submitted", "kind", kind, "from", from, "hash", hash)

	if so.onSubmitted != nil {
		if err := so.onSubmitted(ctx, hash); err != nil {
			o.log.Error("Submitted hook failed", "hash", hash, "error", err)
		}
	}

	submittedAt := time.Now()
	receipt, err := o.waitForInclusion(ctx, hash)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(kind, "timeout").Inc()
		outcome.Err = err
		return outcome, err
	}
	metrics.InclusionWait.Observe(time.Since(submittedAt).Seconds())

	outcome.BlockNumber = receipt.BlockNumber
	if !receipt.Success {
		metrics.SubmissionsTotal.WithLabelValues(kind, "reverted").Inc()
		err := fmt.Errorf("%w: %w: %s in block %d", domain.ErrSubmission, domain.ErrReverted, hash, receipt.BlockNumber)
		outcome.Err = err
		return outcome, err
	}

	metrics.SubmissionsTotal.WithLabelValues(kind, "included").Inc()
	o.log.Info("Transaction included", "hash", hash, "block", receipt.BlockNumber)
	return outcome, nil
}

// waitForInclusion polls for a receipt until one exists or the inclusion
// timeout elapses. Read errors are logged and polling continues.
func (o *Orchestrator) waitForInclusion(ctx context.Context, hash string) (*ledger.Receipt, error) {
	timeout := time.NewTimer(o.cfg.InclusionTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.client.GetReceipt(ctx, hash)
		if err != nil {
			o.log.Debug("Receipt poll failed", "hash", hash, "error", err)
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %w", domain.ErrSubmission, hash, ctx.Err())
		case <-timeout.C:
			return nil, fmt.Errorf("%w: %w: %s after %s",
				domain.ErrSubmission, domain.ErrInclusionTimeout, hash, o.cfg.InclusionTimeout)
		case <-ticker.C:
		}
	}
}
