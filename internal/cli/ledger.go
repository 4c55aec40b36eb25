package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/w3bpay/internal/confirmation"
	"github.com/vietddude/w3bpay/internal/control"
	"github.com/vietddude/w3bpay/internal/core/config"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/infra/rpc/provider"
)

var (
	requiredConfirmations uint64
	waitForConfirmations  bool
)

var confirmationsCmd = &cobra.Command{
	Use:   "confirmations <tx-hash>",
	Short: "Show the confirmation count of a transaction",
	Args:  cobra.ExactArgs(1),
	Run:   runConfirmations,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass over in-flight payments",
	Run:   runReconcile,
}

func init() {
	confirmationsCmd.Flags().Uint64Var(&requiredConfirmations, "required", 1, "confirmations considered final")
	confirmationsCmd.Flags().BoolVar(&waitForConfirmations, "wait", false, "block until the required confirmations are reached")
	rootCmd.AddCommand(confirmationsCmd, reconcileCmd)
}

func newLedgerClient(cfg *config.AppConfig) *ledger.EVMClient {
	providers := make([]provider.RPCProvider, 0, len(cfg.Ledger.Providers))
	for _, p := range cfg.Ledger.Providers {
		providers = append(providers, provider.NewHTTPProvider(p.Name, p.URL, cfg.Ledger.RequestTimeout))
	}
	return ledger.NewEVMClient(providers, ledger.Config{
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	})
}

func runConfirmations(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tracker := confirmation.NewTracker(newLedgerClient(cfg), cfg.Ledger.PollInterval)

	var (
		n   uint64
		err error
	)
	if waitForConfirmations {
		n, err = tracker.WaitForConfirmations(ctx, args[0], requiredConfirmations)
	} else {
		n, err = tracker.ConfirmationsOf(ctx, args[0])
	}
	if err != nil {
		slog.Error("Failed to read confirmations", "tx", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("%s\t%d confirmations\tconfirmed=%t\n", args[0], n, n >= requiredConfirmations)
}

func runReconcile(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	summary, err := app.Reconciler().RunOnce(ctx)
	if err != nil {
		slog.Error("Reconciliation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Reconciliation finished",
		"checked", summary.Checked,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"refreshed", summary.Refreshed)
}
