// Package notification defines the best-effort order notification
// collaborator. Send failures are logged by callers and never abort the
// primary operation.
package notification

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderMessage summarizes an order for a notification.
type OrderMessage struct {
	OrderID   string
	Recipient string
	Email     string
	Total     decimal.Decimal
	Lines     []LineSummary
}

// LineSummary is one order line in a notification.
type LineSummary struct {
	ProductName string
	Quantity    int
	TotalPrice  decimal.Decimal
}

// Sender delivers order lifecycle notifications.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, msg OrderMessage) error
	SendOrderCancellation(ctx context.Context, msg OrderMessage) error
}

// LogSender logs notifications instead of delivering them. Wired in
// environments without a mail transport.
type LogSender struct{}

var _ Sender = LogSender{}

// SendOrderConfirmation logs the confirmation.
func (LogSender) SendOrderConfirmation(ctx context.Context, msg OrderMessage) error {
	zctx.From(ctx).Info("order confirmation",
		zap.String("order_id", msg.OrderID),
		zap.String("email", msg.Email),
		zap.String("total", msg.Total.String()),
	)
	return nil
}

// SendOrderCancellation logs the cancellation.
func (LogSender) SendOrderCancellation(ctx context.Context, msg OrderMessage) error {
	zctx.From(ctx).Info("order cancellation",
		zap.String("order_id", msg.OrderID),
		zap.String("email", msg.Email),
	)
	return nil
}
