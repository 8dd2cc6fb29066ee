// Package cart implements the shopper's cart: an ordered list of lines keyed by product and color.
//
// The cart is owned by a single client session, so Cart carries no locking.
package cart

import (
	"encoding/json"
	"fmt"

	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/pricing"
)

// Cart is an ordered collection of cart lines. The zero value is an empty cart.
type Cart struct {
	items []model.CartItem
}

// New returns a cart holding items. Lines with a non-positive quantity are dropped and
// duplicate lines are merged.
func New(items []model.CartItem) *Cart {
	c := &Cart{}
	for _, item := range items {
		c.Add(item)
	}
	return c
}

func (c *Cart) index(productID, colorID string) int {
	for i := range c.items {
		item := &c.items[i]
		id := ""
		if item.Color != nil {
			id = item.Color.ID
		}
		if item.ProductID == productID && id == colorID {
			return i
		}
	}
	return -1
}

// Add appends item, or increases the quantity of the line with the same product and color
func (c *Cart) Add(item model.CartItem) {
	if item.Quantity <= 0 || item.ProductID == "" {
		return
	}
	colorID := ""
	if item.Color != nil {
		colorID = item.Color.ID
	}
	if i := c.index(item.ProductID, colorID); i >= 0 {
		c.items[i].Quantity += item.Quantity
		return
	}
	c.items = append(c.items, item)
}

// Increment adds one to the quantity of a line
func (c *Cart) Increment(productID, colorID string) bool {
	i := c.index(productID, colorID)
	if i < 0 {
		return false
	}
	c.items[i].Quantity++
	return true
}

// Decrement removes one from the quantity of a line. A line that reaches zero is removed.
func (c *Cart) Decrement(productID, colorID string) bool {
	i := c.index(productID, colorID)
	if i < 0 {
		return false
	}
	return c.SetQuantity(productID, colorID, c.items[i].Quantity-1)
}

// SetQuantity sets the quantity of a line, removing it when quantity is zero or less
func (c *Cart) SetQuantity(productID, colorID string, quantity int) bool {
	i := c.index(productID, colorID)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		return true
	}
	c.items[i].Quantity = quantity
	return true
}

// Remove deletes a line
func (c *Cart) Remove(productID, colorID string) bool {
	return c.SetQuantity(productID, colorID, 0)
}

// Clear empties the cart. Clearing an empty cart is a no-op.
func (c *Cart) Clear() {
	c.items = nil
}

// Items returns a copy of the cart lines in insertion order
func (c *Cart) Items() []model.CartItem {
	out := make([]model.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of lines
func (c *Cart) Len() int {
	return len(c.items)
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// Count returns the total number of units across all lines
func (c *Cart) Count() int {
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

// MarshalJSON encodes the cart as a JSON array of lines
func (c *Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Items())
}

// UnmarshalJSON decodes a JSON array of lines
func (c *Cart) UnmarshalJSON(data []byte) error {
	var items []model.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode cart: %w", err)
	}
	*c = *New(items)
	return nil
}

// ItemFromProduct builds a cart line for a product at its discounted price.
// colorID may be empty; an unknown color id is an error.
func ItemFromProduct(p *model.Product, colorID string, quantity int) (model.CartItem, error) {
	item := model.CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     pricing.DiscountedPrice(p.Price, p.DiscountPercent),
		Quantity:  quantity,
	}
	if len(p.Images) > 0 {
		item.Image = p.Images[0]
	}
	if colorID != "" {
		color, ok := p.Color(colorID)
		if !ok {
			return model.CartItem{}, fmt.Errorf("product %s has no color %q", p.ID, colorID)
		}
		item.Color = &model.SelectedColor{ID: color.ID, Name: color.Name, Hex: color.Hex}
	}
	return item, nil
}
