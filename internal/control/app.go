package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/w3bpay/internal/binding"
	"github.com/vietddude/w3bpay/internal/confirmation"
	"github.com/vietddude/w3bpay/internal/core/config"
	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/core/keylock"
	"github.com/vietddude/w3bpay/internal/core/worker"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	redisclient "github.com/vietddude/w3bpay/internal/infra/redis"
	"github.com/vietddude/w3bpay/internal/infra/rpc/provider"
	"github.com/vietddude/w3bpay/internal/infra/storage"
	"github.com/vietddude/w3bpay/internal/infra/storage/memory"
	"github.com/vietddude/w3bpay/internal/infra/storage/postgres"
	"github.com/vietddude/w3bpay/internal/oracle"
	"github.com/vietddude/w3bpay/internal/orchestrator"
	"github.com/vietddude/w3bpay/internal/rewards"
)

// Deps are the collaborators the use cases run on.
type Deps struct {
	Client    ledger.Client
	Sequencer orchestrator.Sequencer
	Customers storage.CustomerRepository
	Bindings  storage.BindingRepository
	Payments  storage.PaymentRepository
	Sales     storage.SaleRepository
}

// Assemble builds the request boundary and the reconciler from cfg.
func Assemble(cfg *config.AppConfig, deps Deps) (*Service, *worker.Reconciler, error) {
	rates := make(map[domain.Currency]string, len(cfg.Currencies))
	currencies := make(map[domain.Currency]rewards.Currency, len(cfg.Currencies))
	for code, cur := range cfg.Currencies {
		rates[code] = cur.Rate
		currencies[code] = rewards.Currency{Native: cur.Native, Contract: cur.Contract, Decimals: cur.Decimals}
	}
	rateOracle, err := oracle.NewStaticOracle(rates)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build rate oracle: %w", err)
	}

	orch := orchestrator.New(deps.Client, deps.Sequencer, orchestrator.Config{
		InclusionTimeout: cfg.Ledger.InclusionTimeout,
		PollInterval:     cfg.Ledger.PollInterval,
		TransferGasLimit: cfg.Ledger.TransferGasLimit,
		ContractGasLimit: cfg.Ledger.ContractGasLimit,
	})

	// One writer per customer across binding and reward updates.
	locks := keylock.New()
	registry := binding.NewRegistry(deps.Bindings, deps.Customers, locks)
	book := rewards.NewBook(rewards.Config{
		ReceiptContract: cfg.Contracts.Receipt,
		LoyaltyContract: cfg.Contracts.Loyalty,
		Minter:          cfg.Contracts.Minter,
		Treasury:        cfg.Contracts.Treasury,
		LoyaltyDecimals: cfg.Contracts.LoyaltyDecimals,
		UnitValue:       cfg.Rewards.UnitValue,
		Currencies:      currencies,
	}, orch, deps.Client, deps.Bindings, deps.Payments, rateOracle, locks)

	tracker := confirmation.NewTracker(deps.Client, cfg.Ledger.PollInterval)
	reconciler := worker.NewReconciler(worker.ReconcilerConfig{
		Interval:    cfg.Reconciler.Interval,
		BatchSize:   cfg.Reconciler.BatchSize,
		Concurrency: cfg.Reconciler.Concurrency,
		Finality:    cfg.MaxFinality(),
	}, deps.Client, tracker, deps.Payments)

	return NewService(registry, book, tracker, deps.Sales), reconciler, nil
}

// App owns the long-lived resources of the service.
type App struct {
	cfg        *config.AppConfig
	service    *Service
	reconciler *worker.Reconciler
	client     ledger.Client
	providers  []provider.RPCProvider
	db         *postgres.DB
	redis      *redisclient.Client
	log        *slog.Logger
}

// NewApp connects storage, the ledger node and the optional Redis lock,
// then assembles the use cases.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")
	deps := Deps{}

	// 1. Initialize Storage
	var db *postgres.DB
	if cfg.Database.Enabled() {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		customers := postgres.NewCustomerRepo(db)
		deps.Customers = customers
		deps.Bindings = postgres.NewBindingRepo(db)
		deps.Payments = postgres.NewPaymentRepo(db)
		deps.Sales = postgres.NewSaleRepo(db)
		for _, c := range cfg.Seed.Customers {
			if err := customers.Add(ctx, c.ID, c.Name); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		customers := memory.NewCustomerRepo(store)
		deps.Customers = customers
		deps.Bindings = memory.NewBindingRepo(store)
		deps.Payments = memory.NewPaymentRepo(store)
		deps.Sales = memory.NewSaleRepo(store)
		for _, c := range cfg.Seed.Customers {
			customers.Add(c.ID)
		}
		log.Info("Using Memory storage")
	}

	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}
	if err := seedSales(ctx, deps.Sales, cfg.Seed.Sales); err != nil {
		closeDB()
		return nil, err
	}

	// 2. Initialize Ledger Client
	providers := make([]provider.RPCProvider, 0, len(cfg.Ledger.Providers))
	for _, p := range cfg.Ledger.Providers {
		providers = append(providers, provider.NewHTTPProvider(p.Name, p.URL, cfg.Ledger.RequestTimeout))
	}
	if len(providers) == 0 {
		closeDB()
		return nil, errors.New("no ledger providers configured")
	}
	deps.Client = ledger.NewEVMClient(providers, ledger.Config{
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	})

	// 3. Initialize Submission Sequencing
	var redisClient *redisclient.Client
	local := orchestrator.NewLocalSequencer()
	deps.Sequencer = local
	if cfg.Redis.Enabled() {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		deps.Sequencer = orchestrator.ChainedSequencer{
			local,
			redisclient.NewAddressLock(redisClient, cfg.Redis.LockTTL),
		}
		log.Info("Using Redis submission lock", "ttl", cfg.Redis.LockTTL)
	}

	service, reconciler, err := Assemble(cfg, deps)
	if err != nil {
		closeDB()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	return &App{
		cfg:        cfg,
		service:    service,
		reconciler: reconciler,
		client:     deps.Client,
		providers:  providers,
		db:         db,
		redis:      redisClient,
		log:        log,
	}, nil
}

func seedSales(ctx context.Context, sales storage.SaleRepository, seeds []config.SeedSale) error {
	for _, s := range seeds {
		existing, err := sales.Get(ctx, s.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		amount, err := decimal.NewFromString(s.Amount)
		if err != nil {
			return fmt.Errorf("seed sale %s: invalid amount %q", s.ID, s.Amount)
		}
		if err := sales.Save(ctx, &domain.Sale{
			ID:          s.ID,
			CustomerID:  s.CustomerID,
			ProductName: s.ProductName,
			Amount:      amount,
			Paid:        decimal.Zero,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Service returns the request boundary.
func (a *App) Service() *Service { return a.service }

// Reconciler returns the payment reconciler.
func (a *App) Reconciler() *worker.Reconciler { return a.reconciler }

// Start launches background workers. It does not block.
func (a *App) Start(ctx context.Context) error {
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.log.Info("Starting reconciler", "interval", a.cfg.Reconciler.Interval, "finality", a.cfg.MaxFinality())
	go a.reconciler.Start(ctx)

	go a.runHeightUpdater(ctx)
	return nil
}

// Health checks every external dependency.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if _, err := a.client.GetBlockHeight(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if a.db != nil {
		if err := a.db.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stop releases connections. Background workers stop with their context.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping app...")

	for _, p := range a.providers {
		_ = p.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// runHeightUpdater keeps the chain height gauge fresh between requests.
func (a *App) runHeightUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.client.GetBlockHeight(ctx); err != nil {
				a.log.Debug("Height update failed", "error", err)
			}
		}
	}
}
