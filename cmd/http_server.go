package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/booking"
	bookingpostgres "github.com/frahmantamala/autoservice-payments/internal/booking/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/completion"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/internal/metrics"
	"github.com/frahmantamala/autoservice-payments/internal/payment"
	paymentpostgres "github.com/frahmantamala/autoservice-payments/internal/payment/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
	"github.com/frahmantamala/autoservice-payments/internal/reconciliation"
	reconpostgres "github.com/frahmantamala/autoservice-payments/internal/reconciliation/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/transport"
	"github.com/frahmantamala/autoservice-payments/internal/transport/rest"
	"github.com/frahmantamala/autoservice-payments/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 10 * time.Second
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server with the completion worker and the reconciliation scheduler`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	GormDB         *gorm.DB
	DB             *sqlx.DB
	Logger         *slog.Logger
	Bus            *events.EventBus
	Queue          *completion.Queue
	PaymentService *payment.Service
	BookingService *booking.Service
	Worker         *completion.Worker
	Scheduler      *reconciliation.Scheduler
}

func startHTTPServer() {
	deps, err := initializeDependencies(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	lg := deps.Logger

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, deps.DB.DB, deps.Queue,
		payment.NewHandler(deps.PaymentService, lg),
		payment.NewWebhookHandler(transport.NewBaseHandler(lg), deps.PaymentService, deps.Config.Payment.FrontendReturnURL, lg),
		rest.RouteOptions{
			MockEnabled: deps.Config.Payment.MockEnabled,
			MetricsPath: metricsPath(deps.Config.Observability.Metrics),
		},
		lg)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// workerCtx outlives the signal so queued jobs get a drain window.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deps.Worker.Run(workerCtx)
	}()

	if deps.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deps.Scheduler.Run(schedCtx)
		}()
	} else {
		lg.Warn("reconciliation scheduler disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		lg.Info("starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Error("server shutdown error", "error", err)
	}

	stopScheduler()
	deps.Queue.Close()
	drained := time.AfterFunc(drainTimeout, stopWorker)
	wg.Wait()
	drained.Stop()

	if err := deps.Bus.Wait(ctx); err != nil {
		lg.Warn("event handlers still running at shutdown", "error", err)
	}
	if err := deps.DB.Close(); err != nil {
		lg.Error("database close error", "error", err)
	}

	lg.Info("server stopped")
}

func initializeDependencies(path string) (*Dependencies, error) {
	config, err := loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitWithOptions(logger.Options{
		Env:     config.Env,
		Level:   config.Observability.Logging.Level,
		Format:  config.Observability.Logging.Format,
		LokiURL: config.Observability.Logging.LokiURL,
	})
	lg := logger.LoggerWrapper()

	metrics.Setup(config.Observability.Metrics, lg)

	gormDB, db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := events.NewEventBus(lg)
	events.RegisterAuditLog(bus, lg)

	queue := completion.NewQueue(config.Completion.QueueCapacity, lg)
	metrics.RegisterQueueDepth(queue.Len)

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	verifier := paymentgateway.NewVerifier(gatewayRegistry(config.Payment), paymentRepo, lg)
	paymentService := payment.NewService(paymentRepo, verifier, queue, bus, payment.Config{
		IntentExpiry:    config.Payment.IntentExpiry,
		DefaultCurrency: config.Payment.DefaultCurrency,
		MockEnabled:     config.Payment.MockEnabled,
	}, lg)

	bookingService := booking.NewService(bookingpostgres.NewBookingRepository(gormDB), lg)

	var completer completion.Completer = bookingService
	if config.Booking.ServiceURL != "" {
		completer = booking.NewRemoteCompleter(config.Booking.ServiceURL, config.Booking.Timeout, lg)
		lg.Info("booking completion delegated to remote service", "url", config.Booking.ServiceURL)
	}

	worker := completion.NewWorker(queue, completer, completion.WorkerConfig{
		MaxRetries:  config.Completion.MaxRetries,
		BackoffUnit: config.Completion.BackoffUnit,
	}, lg)

	deps := &Dependencies{
		Config:         config,
		GormDB:         gormDB,
		DB:             db,
		Logger:         lg,
		Bus:            bus,
		Queue:          queue,
		PaymentService: paymentService,
		BookingService: bookingService,
		Worker:         worker,
	}
	if config.Reconciliation.Enabled {
		deps.Scheduler = newScheduler(deps, config.Reconciliation)
	}
	return deps, nil
}

func newScheduler(deps *Dependencies, cfg internal.ReconciliationConfig) *reconciliation.Scheduler {
	return reconciliation.NewScheduler(
		reconpostgres.NewReader(deps.DB),
		deps.BookingService,
		deps.PaymentService,
		deps.Bus,
		reconciliation.Config{
			Interval:           cfg.Interval,
			InitialDelay:       cfg.InitialDelay,
			StaleBookingCutoff: cfg.StaleBookingCutoff,
			BatchSize:          cfg.BatchSize,
		},
		deps.Logger)
}

func gatewayRegistry(cfg internal.PaymentConfig) *paymentgateway.Registry {
	var gateways []paymentgateway.Gateway
	if cfg.VNPay.HashSecret != "" {
		gateways = append(gateways, paymentgateway.NewVNPay(paymentgateway.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
		}))
	}
	if cfg.MoMo.SecretKey != "" {
		gateways = append(gateways, paymentgateway.NewMoMo(paymentgateway.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
		}))
	}
	return paymentgateway.NewRegistry(gateways...)
}

func metricsPath(cfg internal.MetricsConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.Path
}

// initDB opens one pgx pool and shares it between gorm and sqlx.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sqlx.DB, error) {
	const driver = "pgx"

	sqlDB, err := sql.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	return gormDB, sqlx.NewDb(sqlDB, driver), nil
}
