// Command shipment-retry re-triggers shipment creation for confirmed orders
// that have no shipment record yet, typically because the carrier was down
// when the order was confirmed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/order"
	"github.com/quanghm/orderflow/internal/domain/shipping"
	"github.com/quanghm/orderflow/internal/domain/wallet"
	"github.com/quanghm/orderflow/internal/repository"
)

func main() {
	var (
		databaseURL string
		batchSize   int
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch", 100, "max orders to process per run")
	flag.IntVar(&workers, "workers", 4, "concurrent shipment creations")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, batchSize, workers); err != nil {
		slog.Error("shipment retry failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("shipment retry completed")
}

func run(ctx context.Context, databaseURL string, batchSize, workers int) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	productRepo := repository.NewProductRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	shipmentRepo := repository.NewShipmentRepository(pool)

	sm := order.NewStateMachine(
		orderRepo,
		inventory.NewBookkeeper(productRepo, 0),
		discount.NewLedger(discountRepo),
		wallet.NewLedger(walletRepo),
		shipmentRepo,
		shipping.StubCreator{},
		notification.LogSender{},
		decimal.Zero,
	)

	ids, err := shipmentRepo.ListUnshippedConfirmed(ctx, batchSize)
	if err != nil {
		return errors.Wrap(err, "list unshipped orders")
	}
	if len(ids) == 0 {
		slog.Info("no unshipped confirmed orders")
		return nil
	}

	slog.Info("retrying shipments", slog.Int("orders", len(ids)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := sm.CreateShipment(ctx, id); err != nil {
				// Keep going; the next run picks this order up again.
				slog.Warn("shipment retry failed",
					slog.String("order_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}
