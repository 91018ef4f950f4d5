package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quanghm/orderflow/internal/domain/cart"
	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/order"
	"github.com/quanghm/orderflow/internal/domain/payment"
	"github.com/quanghm/orderflow/internal/domain/shipping"
	"github.com/quanghm/orderflow/internal/domain/wallet"
	"github.com/quanghm/orderflow/internal/handler"
	"github.com/quanghm/orderflow/internal/redisstore"
	"github.com/quanghm/orderflow/internal/repository"
	"github.com/quanghm/orderflow/pkg/health"
	"github.com/quanghm/orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis client for payment sessions.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	shipmentRepo := repository.NewShipmentRepository(pool)
	sessions := redisstore.NewSessions(redisClient)

	// Domain services.
	flatFee, err := decimal.NewFromString(cfg.FlatShippingFee)
	if err != nil {
		return errors.Wrap(err, "parse flat shipping fee")
	}
	quoter := shipping.StaticQuoter{Fee: flatFee}
	notifier := notification.LogSender{}

	bookkeeper := inventory.NewBookkeeper(productRepo, cfg.StockCeiling)
	discountLedger := discount.NewLedger(discountRepo)
	walletLedger := wallet.NewLedger(walletRepo)
	merger := cart.NewMerger(cartRepo)

	saga := order.NewCreationSaga(
		cartRepo, productRepo, discountLedger, bookkeeper,
		quoter, notifier, orderRepo, cfg.FromDistrict,
	)
	sm := order.NewStateMachine(
		orderRepo, bookkeeper, discountLedger, walletLedger,
		shipmentRepo, shipping.StubCreator{}, notifier,
		decimal.NewFromFloat(cfg.RewardRatePercent),
	)

	verifier := payment.NewVerifier([]byte(cfg.GatewaySecret))
	callbacks := payment.NewCallbackHandler(verifier, sessions, sm)

	// HTTP handlers.
	h := handler.NewHandler(merger, saga, sm, orderRepo, callbacks, sessions, cfg.SessionTTL)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("orderflow-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
