package model

import "time"

// ProductColor is a color variant offered for a product
type ProductColor struct {
	Name LocalizedText `dynamodbav:"name" json:"name"`
	ID   string        `dynamodbav:"id" json:"id"`
	Hex  string        `dynamodbav:"hex" json:"hex"`
}

// Product is a catalog entry. Stock is a shared counter decremented after orders are placed.
type Product struct {
	CreatedAt       time.Time      `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `dynamodbav:"updated_at" json:"updatedAt"`
	Name            LocalizedText  `dynamodbav:"name" json:"name"`
	Description     LocalizedText  `dynamodbav:"description" json:"description"`
	ID              string         `dynamodbav:"id" json:"id"`
	CategoryID      string         `dynamodbav:"category_id" json:"categoryId"`
	Images          []string       `dynamodbav:"images" json:"images"`
	Colors          []ProductColor `dynamodbav:"colors,omitempty" json:"colors,omitempty"`
	Price           float64        `dynamodbav:"price" json:"price"`
	DiscountPercent float64        `dynamodbav:"discount_percent" json:"discountPercent"`
	Stock           int            `dynamodbav:"stock" json:"stock"`
}

// Color returns the variant with the given id
func (p *Product) Color(id string) (ProductColor, bool) {
	for _, c := range p.Colors {
		if c.ID == id {
			return c, true
		}
	}
	return ProductColor{}, false
}

// Category groups products for browsing
type Category struct {
	Name LocalizedText `dynamodbav:"name" json:"name"`
	ID   string        `dynamodbav:"id" json:"id"`
}

// ShippingRateTable maps a region name to its flat shipping fee
type ShippingRateTable map[string]float64

// ShippingSettings is the singleton settings document holding the rate table
type ShippingSettings struct {
	UpdatedAt time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
	Rates     ShippingRateTable `dynamodbav:"rates" json:"rates"`
	ID        string            `dynamodbav:"id" json:"-"`
}

// ShippingSettingsID is the key of the shipping settings document
const ShippingSettingsID = "shipping_rates"
