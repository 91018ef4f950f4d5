package discount

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDiscountRepo struct {
	byID      map[string]*Discount
	byCode    map[string]*Discount
	userUsage map[string]int // keyed discountID + "/" + userID
}

func newMockDiscountRepo(discounts ...*Discount) *mockDiscountRepo {
	m := &mockDiscountRepo{
		byID:      make(map[string]*Discount),
		byCode:    make(map[string]*Discount),
		userUsage: make(map[string]int),
	}
	for _, d := range discounts {
		m.byID[d.ID] = d
		m.byCode[d.Code] = d
	}
	return m
}

func (m *mockDiscountRepo) GetByID(_ context.Context, id string) (*Discount, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDiscountRepo) FindByCode(_ context.Context, code string) (*Discount, error) {
	d, ok := m.byCode[code]
	if !ok || !d.IsActive {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDiscountRepo) IncrementUsage(_ context.Context, id string) error {
	m.byID[id].UsedCount++
	return nil
}

func (m *mockDiscountRepo) DecrementUsage(_ context.Context, id string) error {
	if d := m.byID[id]; d.UsedCount > 0 {
		d.UsedCount--
	}
	return nil
}

func (m *mockDiscountRepo) CountUserUsage(_ context.Context, id, userID string) (int, error) {
	return m.userUsage[id+"/"+userID], nil
}

func fixedLedger(repo Repository, at time.Time) *Ledger {
	l := NewLedger(repo)
	l.now = func() time.Time { return at }
	return l
}

func newTestDiscount(mods ...func(*Discount)) *Discount {
	d := &Discount{
		ID:            "d1",
		Code:          "SALE10",
		Value:         decimal.NewFromInt(10),
		MinOrderValue: decimal.NewFromInt(100_000),
		StartDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		IsActive:      true,
	}
	for _, mod := range mods {
		mod(d)
	}
	return d
}

var june = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestCanApply(t *testing.T) {
	tests := []struct {
		name     string
		discount *Discount
		userID   string
		subtotal decimal.Decimal
		want     bool
	}{
		{
			name:     "eligible",
			discount: newTestDiscount(),
			subtotal: decimal.NewFromInt(200_000),
			want:     true,
		},
		{
			name:     "inactive",
			discount: newTestDiscount(func(d *Discount) { d.IsActive = false }),
			subtotal: decimal.NewFromInt(200_000),
			want:     false,
		},
		{
			name: "before window",
			discount: newTestDiscount(func(d *Discount) {
				d.StartDate = june.Add(24 * time.Hour)
			}),
			subtotal: decimal.NewFromInt(200_000),
			want:     false,
		},
		{
			name: "after window",
			discount: newTestDiscount(func(d *Discount) {
				d.EndDate = june.Add(-24 * time.Hour)
			}),
			subtotal: decimal.NewFromInt(200_000),
			want:     false,
		},
		{
			name: "usage limit reached",
			discount: newTestDiscount(func(d *Discount) {
				d.UsageLimit = 1
				d.UsedCount = 1
			}),
			subtotal: decimal.NewFromInt(200_000),
			want:     false,
		},
		{
			name:     "below min order value",
			discount: newTestDiscount(),
			subtotal: decimal.NewFromInt(50_000),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := fixedLedger(newMockDiscountRepo(tt.discount), june)

			ok, err := l.CanApply(context.Background(), tt.discount.ID, tt.userID, tt.subtotal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCanApply_MissingDiscount(t *testing.T) {
	l := fixedLedger(newMockDiscountRepo(), june)

	ok, err := l.CanApply(context.Background(), "nope", "u1", decimal.NewFromInt(200_000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanApply_PerUserLimit(t *testing.T) {
	d := newTestDiscount(func(d *Discount) { d.UserUsageLimit = 2 })
	repo := newMockDiscountRepo(d)
	repo.userUsage["d1/u1"] = 2
	l := fixedLedger(repo, june)

	ok, err := l.CanApply(context.Background(), "d1", "u1", decimal.NewFromInt(200_000))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.CanApply(context.Background(), "d1", "u2", decimal.NewFromInt(200_000))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAmount_Capped(t *testing.T) {
	d := newTestDiscount(func(d *Discount) {
		d.MaxDiscountAmount = decimal.NewFromInt(50_000)
	})

	got := Amount(d, decimal.NewFromInt(1_000_000))
	assert.True(t, decimal.NewFromInt(50_000).Equal(got), "got %s", got)
}

func TestAmount_Uncapped(t *testing.T) {
	got := Amount(newTestDiscount(), decimal.NewFromInt(200_000))
	assert.True(t, decimal.NewFromInt(20_000).Equal(got), "got %s", got)
}

func TestAmount_ZeroCases(t *testing.T) {
	d := newTestDiscount()

	assert.True(t, Amount(d, decimal.Zero).IsZero())
	assert.True(t, Amount(d, decimal.NewFromInt(-5)).IsZero())
	assert.True(t, Amount(d, decimal.NewFromInt(99_999)).IsZero())
}

func TestUsageCounter(t *testing.T) {
	d := newTestDiscount()
	repo := newMockDiscountRepo(d)
	l := NewLedger(repo)

	require.NoError(t, l.IncrementUsage(context.Background(), "d1"))
	assert.Equal(t, 1, d.UsedCount)

	require.NoError(t, l.DecrementUsage(context.Background(), "d1"))
	require.NoError(t, l.DecrementUsage(context.Background(), "d1"))
	assert.Equal(t, 0, d.UsedCount, "decrement floors at zero")
}

func TestFindByCode_InactiveHidden(t *testing.T) {
	d := newTestDiscount(func(d *Discount) { d.IsActive = false })
	l := NewLedger(newMockDiscountRepo(d))

	_, err := l.FindByCode(context.Background(), "SALE10")
	require.ErrorIs(t, err, ErrNotFound)
}
