// Package confirmation reports how deeply a transaction is buried in the chain.
package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/w3bpay/internal/infra/ledger"
)

// DefaultRequired is the confirmation count IsConfirmed uses when none is given.
const DefaultRequired = 1

// Tracker queries confirmation depth from the ledger on every call; it keeps no state.
type Tracker struct {
	client       ledger.Client
	pollInterval time.Duration
	log          *slog.Logger
}

// NewTracker creates a tracker. pollInterval paces WaitForConfirmations.
func NewTracker(client ledger.Client, pollInterval time.Duration) *Tracker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Tracker{
		client:       client,
		pollInterval: pollInterval,
		log:          slog.Default().With("component", "confirmation"),
	}
}

// ConfirmationsOf returns height - inclusion + 1, or 0 when the transaction
// is unknown, pending, or the node reports a height below the inclusion block.
func (t *Tracker) ConfirmationsOf(ctx context.Context, hash string) (uint64, error) {
	tx, err := t.client.GetTransaction(ctx, hash)
	if err != nil {
		return 0, err
	}
	if tx == nil || tx.BlockNumber == nil {
		return 0, nil
	}

	height, err := t.client.GetBlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	if height < *tx.BlockNumber {
		return 0, nil
	}
	return height - *tx.BlockNumber + 1, nil
}

// IsConfirmed reports whether hash has at least required confirmations.
// A zero required means DefaultRequired.
func (t *Tracker) IsConfirmed(ctx context.Context, hash string, required uint64) (bool, error) {
	if required == 0 {
		required = DefaultRequired
	}
	n, err := t.ConfirmationsOf(ctx, hash)
	if err != nil {
		return false, err
	}
	return n >= required, nil
}

// WaitForConfirmations blocks until hash reaches min confirmations or ctx ends.
// Transient read errors are logged and retried on the next tick.
func (t *Tracker) WaitForConfirmations(ctx context.Context, hash string, min uint64) (uint64, error) {
	if min == 0 {
		min = DefaultRequired
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		n, err := t.ConfirmationsOf(ctx, hash)
		if err != nil {
			t.log.Debug("Confirmation check failed", "hash", hash, "error", err)
		} else {
			last = n
			if n >= min {
				return n, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("waiting for %d confirmations of %s: %w", min, hash, ctx.Err())
		case <-ticker.C:
		}
	}
}
