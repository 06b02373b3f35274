package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockroom/cmd/stockroom/cli"
	"github.com/odyssey-erp/stockroom/internal/app"
	"github.com/odyssey-erp/stockroom/internal/dashboard"
	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/maintenance"
	"github.com/odyssey-erp/stockroom/internal/observability"
	"github.com/odyssey-erp/stockroom/internal/platform/cache"
	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/proposal"
	"github.com/odyssey-erp/stockroom/internal/shared"
	"github.com/odyssey-erp/stockroom/jobs"
	"github.com/odyssey-erp/stockroom/migrations"
)

const usage = `usage: stockroom [serve | migrate | jobs trigger <name> [YYYY-MM-DD] | jobs stats]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = runJobs(ctx, cfg, args[1:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, migrations.FS, logger)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = jobsCLI.Close() }()

	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		var today time.Time
		if len(args) > 2 {
			parsed, err := time.Parse("2006-01-02", args[2])
			if err != nil {
				return fmt.Errorf("parse day: %w", err)
			}
			today = parsed
		}
		info, err := jobsCLI.Trigger(ctx, args[1], today)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New(usage)
	}
	return nil
}

type stores struct {
	inventory   inventory.RepositoryPort
	maintenance maintenance.RepositoryPort
	proposals   proposal.RepositoryPort
	approvals   proposal.ApprovalPort
	audit       inventory.AuditPort
	readiness   map[string]app.ReadinessCheck
	close       func()
}

func openStores(ctx context.Context, cfg *app.Config, logger *slog.Logger, redisClient *redis.Client) (*stores, error) {
	readiness := map[string]app.ReadinessCheck{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if cfg.StoreDriver == app.StoreMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return &stores{
			inventory:   inventory.NewMemoryRepository(),
			maintenance: maintenance.NewMemoryRepository(),
			proposals:   proposal.NewMemoryRepository(),
			approvals:   shared.NewMemoryApprovals(),
			audit:       shared.LogAuditor{Logger: logger},
			readiness:   readiness,
			close:       func() {},
		}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, err
	}
	readiness["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	return &stores{
		inventory:   inventory.NewRepository(pool),
		maintenance: maintenance.NewRepository(pool),
		proposals:   proposal.NewRepository(pool),
		approvals:   shared.NewApprovalRecorder(pool, logger),
		audit:       shared.NewAuditLogger(pool),
		readiness:   readiness,
		close:       pool.Close,
	}, nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	st, err := openStores(ctx, cfg, logger, redisClient)
	if err != nil {
		return err
	}
	defer st.close()

	var sequence inventory.SequenceStore = inventory.NewMemorySequence()
	if cfg.CodeSequence == app.SequenceRedis {
		sequence = inventory.NewRedisSequence(redisClient)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	inventoryService := inventory.NewService(st.inventory, idempotencyStore, inventory.ServiceConfig{
		Sequence: sequence,
		Audit:    st.audit,
		Metrics:  metrics,
		Logger:   logger,
	}, jobs.NewWriteOffNotifier(jobClient))
	maintenanceService := maintenance.NewService(st.maintenance, inventoryService, st.audit, logger)
	dashboardService := dashboard.NewService(inventoryService, maintenanceService, redisClient, cfg.OverviewTTL, logger)
	proposalService := proposal.NewService(st.proposals, st.approvals, st.audit, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		MaintenanceHandler: maintenance.NewHandler(logger, maintenanceService),
		DashboardHandler:   dashboard.NewHandler(logger, dashboardService),
		ProposalHandler:    proposal.NewHandler(logger, proposalService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Readiness:          st.readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
