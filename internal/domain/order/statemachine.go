package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/shipping"
	"github.com/quanghm/orderflow/internal/domain/wallet"
)

// Side-effect marker names. A marker row per order guards each compensating
// action so that duplicate transition requests (admin retry, late gateway
// callback) apply it exactly once.
const (
	markerCancelCompensation = "cancel_compensation"
	markerSoldCounted        = "sold_counted"
	markerRewardGranted      = "reward_granted"
)

// transition keys the side-effect table.
type transition struct {
	from, to Status
}

// action is one compensating step of a transition. Actions run in table
// order before the status row is updated.
type action func(ctx context.Context, sm *StateMachine, o *Order, to Status) error

// transitions maps every legal order-status edge to its ordered side effects,
// so each transition's effects are defined exactly once.
var transitions = map[transition][]action{
	{StatusPending, StatusConfirmed}:   {createShipment},
	{StatusConfirmed, StatusCompleted}: {applyCompleted},
	{StatusPending, StatusCancelled}:   {applyCancelled},
	{StatusConfirmed, StatusCancelled}: {applyCancelled},
	// Exceptional reversals out of COMPLETED, permitted by the admin surface.
	{StatusCompleted, StatusPending}:   {revertCompleted},
	{StatusCompleted, StatusConfirmed}: {revertCompleted},
	{StatusCompleted, StatusCancelled}: {revertCompleted, applyCancelled},
}

// paymentTransitions defines the legal payment-status edges.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed, PaymentCancelled},
	PaymentPaid:    {PaymentRefunded, PaymentCancelled},
	// A refund reverts to PAID when a completed order is reverted to a
	// non-terminal status.
	PaymentRefunded: {PaymentPaid},
}

// StateMachine governs order-status and payment-status transitions and their
// side effects: sold-count adjustment, stock restoration, discount rollback,
// payment cross-updates, reward accrual, and the shipment trigger.
type StateMachine struct {
	orders     Repository
	inventory  *inventory.Bookkeeper
	discounts  *discount.Ledger
	wallets    *wallet.Ledger
	shipments  shipping.Repository
	creator    shipping.ShipmentCreator
	notifier   notification.Sender
	rewardRate decimal.Decimal // percent of total credited on completion
}

// NewStateMachine creates a StateMachine with its collaborators.
func NewStateMachine(
	orders Repository,
	bookkeeper *inventory.Bookkeeper,
	discounts *discount.Ledger,
	wallets *wallet.Ledger,
	shipments shipping.Repository,
	creator shipping.ShipmentCreator,
	notifier notification.Sender,
	rewardRate decimal.Decimal,
) *StateMachine {
	return &StateMachine{
		orders:     orders,
		inventory:  bookkeeper,
		discounts:  discounts,
		wallets:    wallets,
		shipments:  shipments,
		creator:    creator,
		notifier:   notifier,
		rewardRate: rewardRate,
	}
}

// TransitionOrder applies an explicitly requested order-status transition.
// Undefined edges, including repeating the current status, are rejected with
// ErrInvalidTransition.
func (sm *StateMachine) TransitionOrder(ctx context.Context, orderID string, to Status) error {
	o, err := sm.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	acts, ok := transitions[transition{from: o.Status, to: to}]
	if !ok {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
	}
	for _, act := range acts {
		if err := act(ctx, sm, o, to); err != nil {
			return err
		}
	}

	if err := sm.orders.UpdateStatus(ctx, orderID, to); err != nil {
		return errors.Wrap(err, "update status")
	}
	o.Status = to
	return nil
}

// TransitionPayment applies a payment-status transition. A transition to the
// current status is a no-op, which makes duplicate gateway callbacks safe.
func (sm *StateMachine) TransitionPayment(ctx context.Context, orderID string, to PaymentStatus) error {
	o, err := sm.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return sm.setPayment(ctx, o, to)
}

func (sm *StateMachine) setPayment(ctx context.Context, o *Order, to PaymentStatus) error {
	if o.PaymentStatus == to {
		return nil
	}
	allowed := false
	for _, next := range paymentTransitions[o.PaymentStatus] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrInvalidTransition, "payment %s -> %s", o.PaymentStatus, to)
	}
	if err := sm.orders.UpdatePaymentStatus(ctx, o.ID, to); err != nil {
		return errors.Wrap(err, "update payment status")
	}
	o.PaymentStatus = to
	return nil
}

// CancelByUser cancels an order on behalf of its owner.
func (sm *StateMachine) CancelByUser(ctx context.Context, orderID, userID string) error {
	o, err := sm.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		return ErrNotOwner
	}
	return sm.TransitionOrder(ctx, orderID, StatusCancelled)
}

// HandlePaymentCancelled processes a gateway-reported cancellation or
// timeout: the payment moves to CANCELLED, the order is force-cancelled with
// its compensating effects, and a cancellation notification goes out with the
// transition. A report landing after the order is already cancelled (an admin
// cancel beat the gateway, or a duplicate delivery) is a no-op.
func (sm *StateMachine) HandlePaymentCancelled(ctx context.Context, orderID string) error {
	o, err := sm.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	// An earlier cancellation may have settled the payment already, as
	// REFUNDED when the order was paid. Only a payment the gateway can
	// still cancel moves.
	if o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentPaid {
		if err := sm.setPayment(ctx, o, PaymentCancelled); err != nil {
			return err
		}
	}

	if o.Status == StatusCancelled {
		return nil
	}
	if err := sm.TransitionOrder(ctx, orderID, StatusCancelled); err != nil {
		return err
	}

	if err := sm.notifier.SendOrderCancellation(ctx, buildMessage(o)); err != nil {
		zctx.From(ctx).Warn("cancellation notification failed",
			zap.String("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// applyCancelled restores stock for every line, rolls back one discount use,
// and flips a PAID payment to REFUNDED. Guarded by a single marker so a
// second cancellation path (admin cancel then late gateway callback) cannot
// restore stock or under-count discount usage twice.
func applyCancelled(ctx context.Context, sm *StateMachine, o *Order, _ Status) error {
	fresh, err := sm.orders.MarkSideEffect(ctx, o.ID, markerCancelCompensation)
	if err != nil {
		return errors.Wrap(err, "mark cancel compensation")
	}
	if !fresh {
		return nil
	}

	for _, l := range o.Lines {
		if err := sm.inventory.Restore(ctx, l.ProductID, l.Quantity); err != nil {
			return errors.Wrapf(err, "restore stock for %s", l.ProductID)
		}
	}

	if o.DiscountID != "" {
		if err := sm.discounts.DecrementUsage(ctx, o.DiscountID); err != nil {
			return errors.Wrap(err, "rollback discount usage")
		}
	}

	if o.PaymentStatus == PaymentPaid {
		if err := sm.setPayment(ctx, o, PaymentRefunded); err != nil {
			return err
		}
	}
	return nil
}

// applyCompleted counts every line as sold, settles a still-pending payment
// as PAID (cash on delivery), and accrues the wallet reward.
func applyCompleted(ctx context.Context, sm *StateMachine, o *Order, _ Status) error {
	fresh, err := sm.orders.MarkSideEffect(ctx, o.ID, markerSoldCounted)
	if err != nil {
		return errors.Wrap(err, "mark sold counted")
	}
	if fresh {
		for _, l := range o.Lines {
			if err := sm.inventory.MarkSold(ctx, l.ProductID, l.Quantity); err != nil {
				return errors.Wrapf(err, "mark sold for %s", l.ProductID)
			}
		}
	}

	if o.PaymentStatus == PaymentPending {
		if err := sm.setPayment(ctx, o, PaymentPaid); err != nil {
			return err
		}
	}

	return sm.grantReward(ctx, o)
}

// revertCompleted is the inverse of applyCompleted, run when an order leaves
// COMPLETED. Markers cleared here allow a later re-completion to re-apply
// the effects.
func revertCompleted(ctx context.Context, sm *StateMachine, o *Order, to Status) error {
	cleared, err := sm.orders.ClearSideEffect(ctx, o.ID, markerSoldCounted)
	if err != nil {
		return errors.Wrap(err, "clear sold counted")
	}
	if cleared {
		for _, l := range o.Lines {
			if err := sm.inventory.UnmarkSold(ctx, l.ProductID, l.Quantity); err != nil {
				return errors.Wrapf(err, "unmark sold for %s", l.ProductID)
			}
		}
	}

	if o.PaymentStatus == PaymentRefunded && to != StatusCancelled {
		if err := sm.setPayment(ctx, o, PaymentPaid); err != nil {
			return err
		}
	}

	return sm.revokeReward(ctx, o)
}

// createShipment triggers the external shipment once per order. A missing
// destination suppresses the trigger without failing the transition, and a
// carrier failure is left for the out-of-band retry job.
func createShipment(ctx context.Context, sm *StateMachine, o *Order, _ Status) error {
	lg := zctx.From(ctx)

	exists, err := sm.shipments.ExistsForOrder(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "check shipment")
	}
	if exists {
		return nil
	}

	if o.Recipient.District == 0 || o.Recipient.Ward == "" {
		lg.Info("shipment skipped, destination incomplete", zap.String("order_id", o.ID))
		return nil
	}

	ref, err := sm.creator.Create(ctx, shipmentRequest(o))
	if err != nil {
		lg.Error("shipment creation failed, will retry out of band",
			zap.String("order_id", o.ID), zap.Error(err))
		return nil
	}

	if err := sm.shipments.Create(ctx, &shipping.Shipment{OrderID: o.ID, Reference: ref}); err != nil {
		return errors.Wrap(err, "record shipment")
	}
	return nil
}

// CreateShipment retries the shipment trigger for a confirmed order. Used by
// the out-of-band retry job; shares the existence guard with the CONFIRMED
// transition.
func (sm *StateMachine) CreateShipment(ctx context.Context, orderID string) error {
	o, err := sm.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusConfirmed {
		return nil
	}
	return createShipment(ctx, sm, o, o.Status)
}

func (sm *StateMachine) rewardAmount(o *Order) decimal.Decimal {
	return o.Total.Mul(sm.rewardRate).Div(decimal.NewFromInt(100)).Round(2)
}

func (sm *StateMachine) grantReward(ctx context.Context, o *Order) error {
	if o.UserID == "" || !sm.rewardRate.IsPositive() {
		return nil
	}
	amount := sm.rewardAmount(o)
	if !amount.IsPositive() {
		return nil
	}
	fresh, err := sm.orders.MarkSideEffect(ctx, o.ID, markerRewardGranted)
	if err != nil {
		return errors.Wrap(err, "mark reward granted")
	}
	if !fresh {
		return nil
	}
	if _, err := sm.wallets.Reward(ctx, o.UserID, amount, o.ID, "order completed"); err != nil {
		return errors.Wrap(err, "grant reward")
	}
	return nil
}

func (sm *StateMachine) revokeReward(ctx context.Context, o *Order) error {
	if o.UserID == "" || !sm.rewardRate.IsPositive() {
		return nil
	}
	amount := sm.rewardAmount(o)
	if !amount.IsPositive() {
		return nil
	}
	cleared, err := sm.orders.ClearSideEffect(ctx, o.ID, markerRewardGranted)
	if err != nil {
		return errors.Wrap(err, "clear reward granted")
	}
	if !cleared {
		return nil
	}
	if _, err := sm.wallets.Deduct(ctx, o.UserID, amount, o.ID, "completion reversed"); err != nil {
		return errors.Wrap(err, "revoke reward")
	}
	return nil
}

func shipmentRequest(o *Order) shipping.CreateRequest {
	req := shipping.CreateRequest{
		OrderID:       o.ID,
		RecipientName: o.Recipient.Name,
		Phone:         o.Recipient.Phone,
		Address:       o.Recipient.Address,
		District:      o.Recipient.District,
		Ward:          o.Recipient.Ward,
	}
	if o.PaymentStatus == PaymentPending {
		req.CODAmount = o.Total
	}
	for _, l := range o.Lines {
		req.Items = append(req.Items, shipping.Item{Name: l.ProductName, Quantity: l.Quantity})
	}
	return req
}
