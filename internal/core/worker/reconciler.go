package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/infra/storage"
	"github.com/vietddude/w3bpay/internal/metrics"
)

// ConfirmationSource counts confirmations for a transaction hash.
type ConfirmationSource interface {
	ConfirmationsOf(ctx context.Context, hash string) (uint64, error)
}

// ReconcilerConfig controls the reconciliation loop.
type ReconcilerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	// Finality is the confirmation count after which completed payments
	// are no longer polled.
	Finality uint64
}

// Summary counts what one reconciliation pass did.
type Summary struct {
	Checked   int64
	Completed int64
	Failed    int64
	Refreshed int64
}

// Reconciler settles payments whose inclusion wait ended without an answer
// and keeps confirmation counts of completed payments current. It only ever
// re-reads the ledger using the stored transaction hash.
type Reconciler struct {
	cfg           ReconcilerConfig
	client        ledger.Client
	confirmations ConfirmationSource
	payments      storage.PaymentRepository
	log           *slog.Logger
}

// NewReconciler creates a new Reconciler worker.
func NewReconciler(
	cfg ReconcilerConfig,
	client ledger.Client,
	confirmations ConfirmationSource,
	payments storage.PaymentRepository,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Finality == 0 {
		cfg.Finality = 12
	}
	return &Reconciler{
		cfg:           cfg,
		client:        client,
		confirmations: confirmations,
		payments:      payments,
		log:           slog.Default().With("component", "reconciler"),
	}
}

// Start runs the reconciliation loop until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Initial pass picks up whatever a previous process left pending.
	r.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAndLog(ctx)
		}
	}
}

func (r *Reconciler) runAndLog(ctx context.Context) {
	s, err := r.RunOnce(ctx)
	if err != nil {
		r.log.Error("Reconciliation pass failed", "error", err)
		return
	}
	if s.Checked > 0 {
		r.log.Info("Reconciliation pass",
			"checked", s.Checked, "completed", s.Completed, "failed", s.Failed, "refreshed", s.Refreshed)
	}
}

// RunOnce performs a single pass over in-flight payments.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var s Summary
	var completed, failed, refreshed atomic.Int64

	batch, err := r.payments.ListInFlight(ctx, r.cfg.Finality, r.cfg.BatchSize)
	if err != nil {
		return s, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, p := range batch {
		g.Go(func() error {
			res, err := r.reconcile(gctx, p)
			if err != nil {
				r.log.Warn("Payment not reconciled", "payment", p.ID, "tx", p.TxHash(), "error", err)
				return nil
			}
			switch res {
			case domain.PaymentStatusCompleted:
				completed.Add(1)
			case domain.PaymentStatusFailed:
				failed.Add(1)
			case refreshedStatus:
				refreshed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, err
	}

	s.Checked = int64(len(batch))
	s.Completed = completed.Load()
	s.Failed = failed.Load()
	s.Refreshed = refreshed.Load()
	return s, nil
}

const refreshedStatus domain.PaymentStatus = "refreshed"

func (r *Reconciler) reconcile(ctx context.Context, p *domain.PaymentRecord) (domain.PaymentStatus, error) {
	hash := p.TxHash()
	if hash == "" {
		return "", nil
	}

	if p.Status == domain.PaymentStatusCompleted {
		return r.refresh(ctx, p)
	}

	receipt, err := r.client.GetReceipt(ctx, hash)
	if err != nil {
		return "", err
	}
	if receipt == nil {
		// Still pending, or unknown to this node. Either way, wait.
		return "", nil
	}

	block := receipt.BlockNumber
	p.BlockNumber = &block
	p.UpdatedAt = time.Now().UTC()

	if !receipt.Success {
		p.Status = domain.PaymentStatusFailed
		p.Error = domain.ErrReverted.Error()
		if err := r.payments.Update(ctx, p); err != nil {
			return "", err
		}
		metrics.ReconciledTotal.WithLabelValues(string(domain.PaymentStatusFailed)).Inc()
		metrics.PaymentsTotal.WithLabelValues(string(p.Currency), string(domain.PaymentStatusFailed)).Inc()
		r.log.Warn("Pending payment reverted", "payment", p.ID, "tx", hash)
		return domain.PaymentStatusFailed, nil
	}

	n, err := r.confirmations.ConfirmationsOf(ctx, hash)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	p.ConfirmationCount = n
	credited, err := r.payments.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	metrics.ReconciledTotal.WithLabelValues(string(domain.PaymentStatusCompleted)).Inc()
	metrics.PaymentsTotal.WithLabelValues(string(p.Currency), string(domain.PaymentStatusCompleted)).Inc()
	r.log.Info("Pending payment completed", "payment", p.ID, "tx", hash, "confirmations", n, "credited", credited)
	return domain.PaymentStatusCompleted, nil
}

// refresh raises the confirmation count of a completed payment. Counts never go down.
func (r *Reconciler) refresh(ctx context.Context, p *domain.PaymentRecord) (domain.PaymentStatus, error) {
	if p.ConfirmationCount >= r.cfg.Finality {
		return "", nil
	}
	n, err := r.confirmations.ConfirmationsOf(ctx, p.TxHash())
	if err != nil {
		return "", err
	}
	if n <= p.ConfirmationCount {
		return "", nil
	}

	p.ConfirmationCount = n
	p.UpdatedAt = time.Now().UTC()
	if err := r.payments.Update(ctx, p); err != nil {
		return "", err
	}
	return refreshedStatus, nil
}
