package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quanghm/orderflow/internal/repository"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, price, stock, sold_count, available, is_active)
		VALUES ($1, $2, $3, $4, 0, $4 > 0, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, available = EXCLUDED.available,
			is_active = TRUE`

	upsertDiscountSQL = `INSERT INTO discounts
		(id, code, value, min_order_value, max_discount_amount, start_date, end_date,
		 is_active, usage_limit, user_usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			value = EXCLUDED.value, min_order_value = EXCLUDED.min_order_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			is_active = TRUE`

	upsertWalletSQL = `INSERT INTO wallets (id, user_id, balance) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`
)

type seedProduct struct {
	id    string
	name  string
	price string
	stock int64
}

var products = []seedProduct{
	{id: "p-espresso-maker", name: "Espresso Maker", price: "1250000", stock: 25},
	{id: "p-pour-over-kit", name: "Pour Over Kit", price: "480000", stock: 60},
	{id: "p-burr-grinder", name: "Burr Grinder", price: "890000", stock: 40},
	{id: "p-kettle-gooseneck", name: "Gooseneck Kettle", price: "650000", stock: 35},
	{id: "p-beans-arabica-1kg", name: "Arabica Beans 1kg", price: "320000", stock: 200},
	{id: "p-filter-papers", name: "Filter Papers (100)", price: "55000", stock: 0},
}

type seedDiscount struct {
	code          string
	value         int64 // percent
	minOrderValue string
	maxAmount     string // empty means uncapped
	usageLimit    int    // 0 means unlimited
	userLimit     int
}

var discounts = []seedDiscount{
	{code: "WELCOME10", value: 10, minOrderValue: "100000", maxAmount: "50000", userLimit: 1},
	{code: "VIP20", value: 20, minOrderValue: "500000", maxAmount: "", usageLimit: 1000},
	{code: "FLASH5", value: 5, minOrderValue: "0", maxAmount: "20000", usageLimit: 50},
}

func main() {
	var (
		databaseURL string
		demoUserID  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&demoUserID, "demo-user", "demo-user", "user ID seeded with a reward wallet")
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

	if err := run(ctx, databaseURL, demoUserID); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, demoUserID string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	if err := seedWallet(ctx, pool, demoUserID); err != nil {
		return errors.Wrap(err, "seed wallet")
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		price, err := decimal.NewFromString(p.price)
		if err != nil {
			return errors.Wrapf(err, "parse price for %s", p.id)
		}
		if _, err := pool.Exec(ctx, upsertProductSQL, p.id, p.name, price, p.stock); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.id)
		}
		slog.Info("upserted product", slog.String("id", p.id), slog.String("name", p.name))
	}
	return nil
}

func seedDiscounts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting discounts", slog.Int("count", len(discounts)))

	now := time.Now()
	for _, d := range discounts {
		minOrder, err := decimal.NewFromString(d.minOrderValue)
		if err != nil {
			return errors.Wrapf(err, "parse min order value for %s", d.code)
		}

		var maxAmount *decimal.Decimal
		if d.maxAmount != "" {
			v, err := decimal.NewFromString(d.maxAmount)
			if err != nil {
				return errors.Wrapf(err, "parse max amount for %s", d.code)
			}
			maxAmount = &v
		}

		var usageLimit, userLimit *int
		if d.usageLimit > 0 {
			usageLimit = &d.usageLimit
		}
		if d.userLimit > 0 {
			userLimit = &d.userLimit
		}

		_, err = pool.Exec(ctx, upsertDiscountSQL,
			uuid.NewString(), d.code, decimal.NewFromInt(d.value), minOrder, maxAmount,
			now, now.AddDate(1, 0, 0), usageLimit, userLimit,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert discount %s", d.code)
		}
		slog.Info("upserted discount", slog.String("code", d.code))
	}
	return nil
}

func seedWallet(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	slog.Info("seeding demo wallet", slog.String("user_id", userID))

	_, err := pool.Exec(ctx, upsertWalletSQL, uuid.NewString(), userID, decimal.NewFromInt(100000))
	if err != nil {
		return errors.Wrap(err, "upsert demo wallet")
	}
	return nil
}
