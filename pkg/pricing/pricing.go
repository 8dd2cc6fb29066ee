// Package pricing derives order totals from cart lines and a region-keyed shipping table.
//
// All arithmetic runs on decimals and is rounded to cents; the functions are pure.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/theory-cloud/storefront/pkg/model"
)

const centsPlaces = 2

// Quote is the price breakdown shown at checkout and frozen into the order
type Quote struct {
	Region      string  `json:"region"`
	Subtotal    float64 `json:"subtotal"`
	ShippingFee float64 `json:"shippingFee"`
	GrandTotal  float64 `json:"grandTotal"`
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(centsPlaces).Float64()
	return f
}

func subtotal(items []model.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(money(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum.Round(centsPlaces)
}

func shippingFee(region string, table model.ShippingRateTable) decimal.Decimal {
	fee, ok := table[region]
	if !ok {
		return decimal.Zero
	}
	return money(fee).Round(centsPlaces)
}

// Subtotal is the sum of price times quantity over items
func Subtotal(items []model.CartItem) float64 {
	return toFloat(subtotal(items))
}

// ShippingFee looks region up in table. A region with no entry ships for free.
func ShippingFee(region string, table model.ShippingRateTable) float64 {
	return toFloat(shippingFee(region, table))
}

// Calculate returns the subtotal, shipping fee and grand total for items shipped to region
func Calculate(items []model.CartItem, region string, table model.ShippingRateTable) Quote {
	sub := subtotal(items)
	fee := shippingFee(region, table)
	return Quote{
		Region:      region,
		Subtotal:    toFloat(sub),
		ShippingFee: toFloat(fee),
		GrandTotal:  toFloat(sub.Add(fee)),
	}
}

// DiscountedPrice applies a percentage discount to price
func DiscountedPrice(price, discountPercent float64) float64 {
	if discountPercent <= 0 {
		return toFloat(money(price))
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	hundred := decimal.NewFromInt(100)
	factor := hundred.Sub(decimal.NewFromFloat(discountPercent)).Div(hundred)
	return toFloat(money(price).Mul(factor))
}
