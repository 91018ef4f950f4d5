//go:build integration

// Package integration spins up real PostgreSQL and Redis containers, wires
// the full engine against them, and exercises the HTTP surface end to end.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

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
)

const gatewaySecret = "integration-test-secret"

var (
	baseURL    string
	httpClient *http.Client
	pool       *pgxpool.Pool
	verifier   *payment.Verifier
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type orderResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"paymentStatus"`
	TotalDiscount    string `json:"totalDiscount"`
	ShippingFee      string `json:"shippingFee"`
	Total            string `json:"total"`
	PaymentSessionID string `json:"paymentSessionId"`
	Lines            []struct {
		ProductID  string `json:"productId"`
		Quantity   int    `json:"quantity"`
		TotalPrice string `json:"totalPrice"`
	} `json:"lines"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "orderflow",
				"POSTGRES_PASSWORD": "orderflow",
				"POSTGRES_DB":       "orderflow",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	rd, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() { _ = rd.Terminate(context.Background()) }()

	pgURL, err := endpointURL(ctx, pg, "5432/tcp", "postgres://orderflow:orderflow@%s/orderflow?sslmode=disable")
	if err != nil {
		log.Fatalf("postgres endpoint: %v", err)
	}
	redisAddr, err := endpointURL(ctx, rd, "6379/tcp", "%s")
	if err != nil {
		log.Fatalf("redis endpoint: %v", err)
	}

	pool, err = repository.NewPool(ctx, pgURL)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	server := httptest.NewServer(buildMux(redisClient))
	defer server.Close()

	baseURL = server.URL
	httpClient = server.Client()

	if err := seed(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	return m.Run()
}

func endpointURL(ctx context.Context, c testcontainers.Container, port, format string) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(format, fmt.Sprintf("%s:%s", host, mapped.Port())), nil
}

func buildMux(redisClient *redis.Client) http.Handler {
	productRepo := repository.NewProductRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	shipmentRepo := repository.NewShipmentRepository(pool)
	sessions := redisstore.NewSessions(redisClient)

	bookkeeper := inventory.NewBookkeeper(productRepo, 0)
	discountLedger := discount.NewLedger(discountRepo)
	walletLedger := wallet.NewLedger(walletRepo)
	notifier := notification.LogSender{}
	quoter := shipping.StaticQuoter{Fee: decimal.NewFromInt(15000)}

	saga := order.NewCreationSaga(
		cartRepo, productRepo, discountLedger, bookkeeper,
		quoter, notifier, orderRepo, 1454,
	)
	sm := order.NewStateMachine(
		orderRepo, bookkeeper, discountLedger, walletLedger,
		shipmentRepo, shipping.StubCreator{}, notifier, decimal.NewFromInt(1),
	)

	verifier = payment.NewVerifier([]byte(gatewaySecret))
	callbacks := payment.NewCallbackHandler(verifier, sessions, sm)

	h := handler.NewHandler(cart.NewMerger(cartRepo), saga, sm, orderRepo, callbacks, sessions, 30*time.Minute)

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func seed(ctx context.Context) error {
	_, err := pool.Exec(ctx, `INSERT INTO products (id, name, price, stock, sold_count, available, is_active)
		VALUES ('p1', 'Espresso Maker', 100000, 50, 0, TRUE, TRUE),
		       ('p2', 'Burr Grinder', 50000, 10, 0, TRUE, TRUE)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `INSERT INTO discounts
		(id, code, value, min_order_value, max_discount_amount, start_date, end_date, is_active)
		VALUES ('d1', 'TEN', 10, 0, 50000, NOW() - INTERVAL '1 day', NOW() + INTERVAL '30 days', TRUE)
		ON CONFLICT (code) DO NOTHING`)
	return err
}

// seedCart creates a cart with the given product lines and returns its ID.
func seedCart(t *testing.T, userID string, lines map[string]int) string {
	t.Helper()
	ctx := context.Background()

	cartID := uuid.NewString()
	var err error
	if userID == "" {
		_, err = pool.Exec(ctx, `INSERT INTO carts (id, guest_token) VALUES ($1, $2)`, cartID, uuid.NewString())
	} else {
		_, err = pool.Exec(ctx, `INSERT INTO carts (id, user_id) VALUES ($1, $2)`, cartID, userID)
	}
	if err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	for productID, qty := range lines {
		_, err := pool.Exec(ctx, `INSERT INTO cart_lines (id, cart_id, product_id, quantity, chosen, unit_price, total_price)
			SELECT $1, $2, id, $3, TRUE, price, price * $3 FROM products WHERE id = $4`,
			uuid.NewString(), cartID, qty, productID)
		if err != nil {
			t.Fatalf("seed cart line: %v", err)
		}
	}
	return cartID
}

func doPost(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func doGet(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, baseURL+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
