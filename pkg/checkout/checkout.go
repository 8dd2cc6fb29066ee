// Package checkout validates a checkout form, writes the order and fires the post-commit side
// effects.
//
// The order write is the only step whose failure reaches the caller. Stock decrements and the
// confirmation email run afterwards on a best-effort runner and can fail without affecting the
// order; with the default settings stock may be oversold.
package checkout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theory-cloud/storefront/pkg/besteffort"
	"github.com/theory-cloud/storefront/pkg/cart"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/pricing"
)

// DefaultPolicyVersion is recorded with consent when none is configured
const DefaultPolicyVersion = "2024-01"

// OrderStore writes orders and adjusts stock
type OrderStore interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	CreateOrderWithStock(ctx context.Context, order *model.Order) error
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// RateTable supplies the live shipping rates
type RateTable interface {
	Table(ctx context.Context) model.ShippingRateTable
}

// Mailer sends the order confirmation
type Mailer interface {
	Enabled() bool
	SendOrderConfirmation(ctx context.Context, order *model.Order) error
}

// Dispatcher runs side effects without reporting their errors
type Dispatcher interface {
	Go(ctx context.Context, name string, task besteffort.Task, attrs ...slog.Attr) bool
}

// Publisher hands a committed order to an out-of-process side-effect consumer
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, order *model.Order) error
}

// PhoneGate is the verification state the order writer checks
type PhoneGate interface {
	Verified() bool
	Phone() string
	Identity() (identity.Identity, bool)
}

// Request is the submitted checkout form
type Request struct {
	Customer      model.CustomerInfo `json:"customer"`
	Language      string             `json:"language"`
	AgreedToTerms bool               `json:"agreedToTerms"`
}

// Config tunes the service. AtomicStock writes the order and every stock decrement in one
// transaction.
type Config struct {
	PolicyVersion string `yaml:"policy_version"`
	AtomicStock   bool   `yaml:"atomic_stock"`
}

// Service places orders
type Service struct {
	orders     OrderStore
	rates      RateTable
	mailer     Mailer
	dispatcher Dispatcher
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	config     Config
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides order id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithPublisher sends side effects to an event consumer instead of running them in process.
// If publishing fails they run in process.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates a Service. mailer may be nil to disable email.
func NewService(orders OrderStore, rates RateTable, mailer Mailer, dispatcher Dispatcher, logger *slog.Logger, config Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PolicyVersion == "" {
		config.PolicyVersion = DefaultPolicyVersion
	}
	s := &Service{
		orders:     orders,
		rates:      rates,
		mailer:     mailer,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		config:     config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Quote prices items for region against the live rate table
func (s *Service) Quote(ctx context.Context, items []model.CartItem, region string) pricing.Quote {
	return pricing.Calculate(items, region, s.rates.Table(ctx))
}

// Validate checks every precondition of an order and returns the first failure as a
// ValidationError. It performs no I/O.
func Validate(req Request, gate PhoneGate, c *cart.Cart) error {
	customer := trimCustomer(req.Customer)
	switch {
	case customer.Name == "":
		return serrors.NewValidationError("checkout.name_required", "name")
	case customer.Phone == "":
		return serrors.NewValidationError("checkout.phone_required", "phone")
	case customer.Region == "":
		return serrors.NewValidationError("checkout.region_required", "region")
	case customer.Address == "":
		return serrors.NewValidationError("checkout.address_required", "address")
	case !req.AgreedToTerms:
		return serrors.NewValidationError("checkout.terms_required", "terms")
	case gate == nil || !gate.Verified():
		return serrors.NewValidationError("checkout.phone_unverified", "phone")
	case normalizePhone(customer.Phone) != gate.Phone():
		return serrors.NewValidationError("checkout.phone_mismatch", "phone")
	case c == nil || c.IsEmpty():
		return serrors.NewValidationError("checkout.cart_empty", "cart")
	}
	for _, item := range c.Items() {
		if item.ProductID == "" || item.Quantity <= 0 || item.Price < 0 {
			return serrors.NewValidationError("checkout.invalid_item", "cart")
		}
	}
	return nil
}

// PlaceOrder writes one pending order for the cart. On success the cart is cleared and the
// side effects are dispatched; on any failure the cart is left untouched.
func (s *Service) PlaceOrder(ctx context.Context, caller identity.Identity, gate PhoneGate, c *cart.Cart, req Request) (*model.Order, error) {
	if err := Validate(req, gate, c); err != nil {
		return nil, err
	}

	order := s.buildOrder(ctx, ownerOf(caller, gate), c.Items(), req)

	write := s.orders.CreateOrder
	if s.config.AtomicStock {
		write = s.orders.CreateOrderWithStock
	}
	if err := write(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "order write failed",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
		if !serrors.IsPersistence(err) {
			err = serrors.NewPersistenceError("CreateOrder", "orders", err)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
		slog.Float64("total", order.TotalPrice))

	c.Clear()
	s.dispatchSideEffects(ctx, order)
	return order, nil
}

func (s *Service) buildOrder(ctx context.Context, owner string, items []model.CartItem, req Request) *model.Order {
	customer := trimCustomer(req.Customer)
	customer.Phone = normalizePhone(customer.Phone)
	quote := s.Quote(ctx, items, customer.Region)
	now := s.now().UTC()

	lines := make([]model.OrderItem, 0, len(items))
	for _, item := range items {
		line := model.OrderItem{
			LocalizedName: item.Name,
			ProductID:     item.ProductID,
			Name:          item.Name.In(req.Language),
			Image:         item.Image,
			Price:         item.Price,
			Quantity:      item.Quantity,
		}
		if item.Color != nil {
			line.Color = item.Color.Name.In(req.Language)
		}
		lines = append(lines, line)
	}

	return &model.Order{
		ID:            s.newID(),
		UserID:        owner,
		CreatedAt:     now,
		Status:        model.OrderStatusPending,
		PaymentMethod: model.PaymentMethodCashOnDelivery,
		Customer:      customer,
		Items:         lines,
		TotalPrice:    quote.GrandTotal,
		ShippingFee:   quote.ShippingFee,
		Consent: model.LegalConsent{
			AcceptedAt:    now,
			PolicyVersion: s.config.PolicyVersion,
			Agreed:        true,
		},
	}
}

// dispatchSideEffects must only run after the order write has succeeded
func (s *Service) dispatchSideEffects(ctx context.Context, order *model.Order) {
	if s.publisher != nil {
		err := s.publisher.PublishOrderPlaced(ctx, order)
		if err == nil {
			return
		}
		s.logger.WarnContext(ctx, "order event not published, running side effects in process",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
	}
	s.ProcessOrderPlaced(ctx, order)
}

// ProcessOrderPlaced dispatches the stock decrements and the confirmation email for a committed
// order. Event consumers call it for orders published by another process.
func (s *Service) ProcessOrderPlaced(ctx context.Context, order *model.Order) {
	orderAttr := slog.String("order_id", order.ID)

	if !s.config.AtomicStock {
		for _, item := range order.Items {
			productID, quantity := item.ProductID, item.Quantity
			s.dispatcher.Go(ctx, "decrement_stock", func(ctx context.Context) error {
				return s.orders.AdjustStock(ctx, productID, -quantity)
			}, orderAttr, slog.String("product_id", productID), slog.Int("quantity", quantity))
		}
	}

	if s.mailer != nil && s.mailer.Enabled() {
		s.dispatcher.Go(ctx, "order_confirmation_email", func(ctx context.Context) error {
			return s.mailer.SendOrderConfirmation(ctx, order)
		}, orderAttr)
	}
}

// ownerOf picks the authenticated caller, then the identity that verified the phone, then guest
func ownerOf(caller identity.Identity, gate PhoneGate) string {
	if !caller.IsGuest() {
		return caller.UserID
	}
	if id, ok := gate.Identity(); ok && !id.IsGuest() {
		return id.UserID
	}
	return model.GuestUserID
}

func trimCustomer(c model.CustomerInfo) model.CustomerInfo {
	return model.CustomerInfo{
		Name:    strings.TrimSpace(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Region:  strings.TrimSpace(c.Region),
		Address: strings.TrimSpace(c.Address),
	}
}

// normalizePhone strips formatting so "+1 (555) 123-4567" compares equal to "+15551234567"
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

