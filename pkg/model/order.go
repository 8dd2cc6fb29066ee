// Package model defines the storefront documents and the value types they embed
package model

import (
	"time"
)

// GuestUserID is stored as the owner of orders placed without an authenticated session
const GuestUserID = "guest"

// LocalizedText holds the English and Arabic renditions of a display string
type LocalizedText struct {
	EN string `dynamodbav:"en" json:"en"`
	AR string `dynamodbav:"ar" json:"ar"`
}

// In returns the rendition for lang, falling back to English
func (t LocalizedText) In(lang string) string {
	if lang == "ar" && t.AR != "" {
		return t.AR
	}
	return t.EN
}

// SelectedColor is the color variant a shopper picked for a cart line
type SelectedColor struct {
	Name LocalizedText `dynamodbav:"name" json:"name"`
	ID   string        `dynamodbav:"id" json:"id"`
	Hex  string        `dynamodbav:"hex" json:"hex"`
}

// CartItem is one line of a client-held cart. Price already has any discount applied.
type CartItem struct {
	Color     *SelectedColor `json:"selectedColor,omitempty"`
	Name      LocalizedText  `json:"name"`
	ProductID string         `json:"productId"`
	Image     string         `json:"image,omitempty"`
	Price     float64        `json:"price"`
	Quantity  int            `json:"quantity"`
}

// OrderStatus is the fulfilment state of an order
type OrderStatus string

// OrderStatus values
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var forwardTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusShipped,
	OrderStatusShipped:    OrderStatusDelivered,
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether an administrator may move an order from s to next.
// Orders advance one step at a time; any non-terminal order may be cancelled.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return forwardTransitions[s] == next
}

// PaymentMethodCashOnDelivery is the only payment method the storefront accepts
const PaymentMethodCashOnDelivery = "cash_on_delivery"

// CustomerInfo is the contact and delivery data captured at checkout
type CustomerInfo struct {
	Name    string `dynamodbav:"name" json:"name"`
	Phone   string `dynamodbav:"phone" json:"phone"`
	Region  string `dynamodbav:"region" json:"region"`
	Address string `dynamodbav:"address" json:"address"`
}

// OrderItem is a snapshot of a cart line taken when the order is written.
// It does not follow later product edits.
type OrderItem struct {
	LocalizedName LocalizedText `dynamodbav:"localized_name" json:"localizedName"`
	ProductID     string        `dynamodbav:"product_id" json:"productId"`
	Name          string        `dynamodbav:"name" json:"name"`
	Color         string        `dynamodbav:"color,omitempty" json:"color,omitempty"`
	Image         string        `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Price         float64       `dynamodbav:"price" json:"price"`
	Quantity      int           `dynamodbav:"quantity" json:"quantity"`
}

// LegalConsent records the terms the customer accepted when ordering
type LegalConsent struct {
	AcceptedAt    time.Time `dynamodbav:"accepted_at" json:"acceptedAt"`
	PolicyVersion string    `dynamodbav:"policy_version" json:"policyVersion"`
	Agreed        bool      `dynamodbav:"agreed" json:"agreed"`
}

// Order is the durable record of a placed order. Only Status changes after it is written.
type Order struct {
	CreatedAt     time.Time    `dynamodbav:"created_at" json:"createdAt"`
	Consent       LegalConsent `dynamodbav:"consent" json:"consent"`
	Customer      CustomerInfo `dynamodbav:"customer" json:"customer"`
	ID            string       `dynamodbav:"id" json:"id"`
	UserID        string       `dynamodbav:"user_id" json:"userId"`
	Status        OrderStatus  `dynamodbav:"status" json:"status"`
	PaymentMethod string       `dynamodbav:"payment_method" json:"paymentMethod"`
	Items         []OrderItem  `dynamodbav:"items" json:"items"`
	TotalPrice    float64      `dynamodbav:"total_price" json:"totalPrice"`
	ShippingFee   float64      `dynamodbav:"shipping_fee" json:"shippingFee"`
}

// IsGuest reports whether the order was placed without an authenticated session
func (o *Order) IsGuest() bool {
	return o.UserID == "" || o.UserID == GuestUserID
}
