package domain

import (
	"testing"
	"time"
)

func TestCalculateDiscount(t *testing.T) {
	cases := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		want     int64
	}{
		{
			name:     "inactive coupon yields zero",
			coupon:   Coupon{Code: "WELCOME", Type: CouponTypePercent, Value: 50, Active: false},
			subtotal: 100_00,
			want:     0,
		},
		{
			name:     "below minimum spend yields zero",
			coupon:   Coupon{Code: "BIG", Type: CouponTypeFixed, Value: 20_00, MinSpend: 50_00, Active: true},
			subtotal: 49_99,
			want:     0,
		},
		{
			name:     "percent ten of one hundred",
			coupon:   Coupon{Code: "TEN", Type: CouponTypePercent, Value: 10, Active: true},
			subtotal: 100_00,
			want:     10_00,
		},
		{
			name:     "percent clamped above one hundred",
			coupon:   Coupon{Code: "ALL", Type: CouponTypePercent, Value: 150, Active: true},
			subtotal: 40_00,
			want:     40_00,
		},
		{
			name:     "fixed capped at subtotal",
			coupon:   Coupon{Code: "FIFTEEN", Type: CouponTypeFixed, Value: 15_00, Active: true},
			subtotal: 10_00,
			want:     10_00,
		},
		{
			name:     "fixed below subtotal",
			coupon:   Coupon{Code: "FIVE", Type: CouponTypeFixed, Value: 5_00, Active: true},
			subtotal: 10_00,
			want:     5_00,
		},
		{
			name:     "minimum spend exactly met",
			coupon:   Coupon{Code: "EDGE", Type: CouponTypeFixed, Value: 3_00, MinSpend: 10_00, Active: true},
			subtotal: 10_00,
			want:     3_00,
		},
		{
			name:     "negative value yields zero",
			coupon:   Coupon{Code: "BROKEN", Type: CouponTypeFixed, Value: -5_00, Active: true},
			subtotal: 10_00,
			want:     0,
		},
		{
			name:     "unknown type yields zero",
			coupon:   Coupon{Code: "ODD", Type: CouponType("bogus"), Value: 10, Active: true},
			subtotal: 10_00,
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateDiscount(tc.coupon, tc.subtotal)
			if got != tc.want {
				t.Fatalf("CalculateDiscount() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPriceLinesTotalsInvariant(t *testing.T) {
	lines := []OrderLine{
		{ProductID: "prd_1", UnitPrice: 25_00, Quantity: 2, Subtotal: 50_00},
		{ProductID: "prd_2", UnitPrice: 10_00, Quantity: 1, Subtotal: 10_00},
	}
	coupon := &Coupon{Code: "TEN", Type: CouponTypePercent, Value: 10, Active: true}

	breakdown := PriceLines(lines, coupon, 5_00, "USD")

	if breakdown.ItemsTotal != 60_00 {
		t.Fatalf("items total = %d, want %d", breakdown.ItemsTotal, 60_00)
	}
	if breakdown.Discount != 6_00 {
		t.Fatalf("discount = %d, want %d", breakdown.Discount, 6_00)
	}
	if breakdown.Total != breakdown.ItemsTotal-breakdown.Discount+breakdown.Shipping {
		t.Fatalf("total %d violates items-discount+shipping invariant", breakdown.Total)
	}
}

func TestPriceLinesNegativeShippingIgnored(t *testing.T) {
	breakdown := PriceLines([]OrderLine{{Subtotal: 10_00}}, nil, -3_00, "USD")
	if breakdown.Shipping != 0 {
		t.Fatalf("shipping = %d, want 0", breakdown.Shipping)
	}
	if breakdown.Total != 10_00 {
		t.Fatalf("total = %d, want %d", breakdown.Total, 10_00)
	}
}

func TestSnapshotCartSkipsInvalidItems(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cart := Cart{
		ID:      "cart_1",
		OwnerID: "usr_1",
		Items: []CartItem{
			{ProductID: "prd_1", Name: "Mug", UnitPrice: 12_50, Quantity: 2, AddedAt: now},
			{ProductID: "prd_2", Name: "Freebie", UnitPrice: 0, Quantity: 1, AddedAt: now},
			{ProductID: "prd_3", Name: "Ghost", UnitPrice: 9_99, Quantity: 0, AddedAt: now},
		},
	}

	lines := SnapshotCart(cart)
	if len(lines) != 1 {
		t.Fatalf("snapshot lines = %d, want 1", len(lines))
	}
	if lines[0].Subtotal != 25_00 {
		t.Fatalf("line subtotal = %d, want %d", lines[0].Subtotal, 25_00)
	}
}
