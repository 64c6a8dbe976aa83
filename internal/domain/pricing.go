package domain

// PricingBreakdown captures the monetary results of pricing a cart snapshot.
// All amounts are minor currency units; Total is always recomputed as
// ItemsTotal - Discount + Shipping and never stored independently.
type PricingBreakdown struct {
	Currency   string
	ItemsTotal int64
	Discount   int64
	Shipping   int64
	Total      int64
}

// CalculateDiscount returns the discount a coupon yields for the given items
// subtotal. Inactive coupons and coupons whose minimum spend is not met
// contribute zero rather than rejecting the order. The result is always
// within [0, subtotal].
func CalculateDiscount(coupon Coupon, subtotal int64) int64 {
	if !coupon.Active || subtotal <= 0 {
		return 0
	}
	if coupon.MinSpend > 0 && subtotal < coupon.MinSpend {
		return 0
	}

	var discount int64
	switch coupon.Type {
	case CouponTypePercent:
		value := coupon.Value
		if value < 0 {
			value = 0
		}
		if value > 100 {
			value = 100
		}
		discount = subtotal * value / 100
	case CouponTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// PriceLines computes the pricing breakdown for a set of order lines, an
// optional coupon, and the selected shipping cost.
func PriceLines(lines []OrderLine, coupon *Coupon, shippingCost int64, currency string) PricingBreakdown {
	var itemsTotal int64
	for _, line := range lines {
		itemsTotal += line.Subtotal
	}

	var discount int64
	if coupon != nil {
		discount = CalculateDiscount(*coupon, itemsTotal)
	}

	if shippingCost < 0 {
		shippingCost = 0
	}

	return PricingBreakdown{
		Currency:   currency,
		ItemsTotal: itemsTotal,
		Discount:   discount,
		Shipping:   shippingCost,
		Total:      itemsTotal - discount + shippingCost,
	}
}

// SnapshotCart freezes the cart's items into immutable order lines, capturing
// unit prices at this instant. Items with non-positive quantity or price are
// skipped.
func SnapshotCart(cart Cart) []OrderLine {
	lines := make([]OrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		lines = append(lines, OrderLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.UnitPrice * int64(item.Quantity),
		})
	}
	return lines
}
