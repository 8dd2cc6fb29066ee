// Package memory is an in-process implementation of the storefront document store.
//
// It mirrors the DynamoDB store's conditional semantics (create-if-absent, conditional status
// transitions, atomic stock adds, TTL expiry) and is used by local mode and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theory-cloud/storefront/pkg/challenge"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/store"
)

// FailureFunc lets tests inject an error for an operation on a key. Returning nil lets the
// operation proceed.
type FailureFunc func(op, key string) error

// Store holds every collection in maps guarded by one lock
type Store struct {
	orders     map[string]model.Order
	products   map[string]model.Product
	categories map[string]model.Category
	profiles   map[string]model.UserProfile
	gates      map[string]model.GateSnapshot
	rates      model.ShippingRateTable
	fail       FailureFunc
	now        func() time.Time
	challenges *Challenges
	mu         sync.RWMutex
}

// New creates an empty store
func New() *Store {
	s := &Store{
		orders:     make(map[string]model.Order),
		products:   make(map[string]model.Product),
		categories: make(map[string]model.Category),
		profiles:   make(map[string]model.UserProfile),
		gates:      make(map[string]model.GateSnapshot),
		now:        time.Now,
	}
	s.challenges = newChallenges(s)
	return s
}

// SetClock overrides the clock
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetFailure installs a failure hook; nil clears it
func (s *Store) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Challenges returns the challenge store sharing this store's clock
func (s *Store) Challenges() *Challenges {
	return s.challenges
}

func (s *Store) check(op, key string) error {
	if s.fail == nil {
		return nil
	}
	if err := s.fail(op, key); err != nil {
		return serrors.NewPersistenceError(op, "memory", err)
	}
	return nil
}

func notFound(op, collection string) error {
	return serrors.NewPersistenceError(op, collection, serrors.ErrNotFound)
}

func conditionFailed(op, collection string) error {
	return serrors.NewPersistenceError(op, collection, serrors.ErrConditionFailed)
}

func cloneOrder(o model.Order) *model.Order {
	o.Items = slices.Clone(o.Items)
	return &o
}

// Orders

// CreateOrder stores order unless its id is taken
func (s *Store) CreateOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateOrder", order.ID); err != nil {
		return err
	}
	if _, exists := s.orders[order.ID]; exists {
		return conditionFailed("CreateOrder", "orders")
	}
	s.orders[order.ID] = *cloneOrder(*order)
	return nil
}

// CreateOrderWithStock stores the order and applies every stock decrement, or nothing
func (s *Store) CreateOrderWithStock(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateOrderWithStock", order.ID); err != nil {
		return err
	}
	if _, exists := s.orders[order.ID]; exists {
		return conditionFailed("CreateOrderWithStock", "orders")
	}
	deltas := store.StockDeltas(order.Items)
	for _, d := range deltas {
		if _, ok := s.products[d.ProductID]; !ok {
			return conditionFailed("CreateOrderWithStock", "products")
		}
	}
	for _, d := range deltas {
		p := s.products[d.ProductID]
		p.Stock -= d.Quantity
		s.products[d.ProductID] = p
	}
	s.orders[order.ID] = *cloneOrder(*order)
	return nil
}

// GetOrder returns one order
func (s *Store) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetOrder", id); err != nil {
		return nil, err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, notFound("GetOrder", "orders")
	}
	return cloneOrder(o), nil
}

// ListOrdersByUser returns a user's orders, newest first
func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListOrdersByUser", userID); err != nil {
		return nil, err
	}
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	store.SortOrdersNewestFirst(out)
	return out, nil
}

// ListOrders returns every order, newest first
func (s *Store) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListOrders", ""); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *cloneOrder(o))
	}
	store.SortOrdersNewestFirst(out)
	return out, nil
}

// UpdateOrderStatus sets the status if the order is still in from
func (s *Store) UpdateOrderStatus(_ context.Context, id string, from, to model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateOrderStatus", id); err != nil {
		return err
	}
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return conditionFailed("UpdateOrderStatus", "orders")
	}
	o.Status = to
	s.orders[id] = o
	return nil
}

// Catalog

// GetProduct returns one product
func (s *Store) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetProduct", id); err != nil {
		return nil, err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, notFound("GetProduct", "products")
	}
	p.Images = slices.Clone(p.Images)
	p.Colors = slices.Clone(p.Colors)
	return &p, nil
}

// ListProducts returns products, newest first, optionally filtered by category
func (s *Store) ListProducts(_ context.Context, categoryID string) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListProducts", categoryID); err != nil {
		return nil, err
	}
	var out []model.Product
	for _, p := range s.products {
		if categoryID == "" || p.CategoryID == categoryID {
			p.Images = slices.Clone(p.Images)
			p.Colors = slices.Clone(p.Colors)
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// PutProduct creates or replaces a product
func (s *Store) PutProduct(_ context.Context, product *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutProduct", product.ID); err != nil {
		return err
	}
	now := s.now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	if product.Images == nil {
		product.Images = []string{}
	}
	p := *product
	p.Images = slices.Clone(p.Images)
	p.Colors = slices.Clone(p.Colors)
	s.products[p.ID] = p
	return nil
}

// AddProductImage appends an image URL
func (s *Store) AddProductImage(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("AddProductImage", id); err != nil {
		return err
	}
	p, ok := s.products[id]
	if !ok {
		return conditionFailed("AddProductImage", "products")
	}
	p.Images = append(slices.Clone(p.Images), url)
	p.UpdatedAt = s.now().UTC()
	s.products[id] = p
	return nil
}

// AdjustStock adds delta to a product's stock. Stock may go negative.
func (s *Store) AdjustStock(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("AdjustStock", productID); err != nil {
		return err
	}
	p, ok := s.products[productID]
	if !ok {
		return conditionFailed("AdjustStock", "products")
	}
	p.Stock += delta
	s.products[productID] = p
	return nil
}

// ListCategories returns every category sorted by id
func (s *Store) ListCategories(_ context.Context) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListCategories", ""); err != nil {
		return nil, err
	}
	out := make([]model.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutCategory creates or replaces a category
func (s *Store) PutCategory(_ context.Context, category *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutCategory", category.ID); err != nil {
		return err
	}
	s.categories[category.ID] = *category
	return nil
}

// Settings

// GetShippingRates returns the stored table, or ErrNotFound before the first write
func (s *Store) GetShippingRates(_ context.Context) (model.ShippingRateTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetShippingRates", model.ShippingSettingsID); err != nil {
		return nil, err
	}
	if s.rates == nil {
		return nil, notFound("GetShippingRates", "settings")
	}
	return maps.Clone(s.rates), nil
}

// PutShippingRates replaces the table
func (s *Store) PutShippingRates(_ context.Context, table model.ShippingRateTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutShippingRates", model.ShippingSettingsID); err != nil {
		return err
	}
	s.rates = maps.Clone(table)
	if s.rates == nil {
		s.rates = model.ShippingRateTable{}
	}
	return nil
}

// Profiles

// GetProfile returns a profile by user id
func (s *Store) GetProfile(_ context.Context, id string) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetProfile", id); err != nil {
		return nil, err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, notFound("GetProfile", "profiles")
	}
	return &p, nil
}

// CreateProfile stores a new profile
func (s *Store) CreateProfile(_ context.Context, profile *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateProfile", profile.ID); err != nil {
		return err
	}
	if _, exists := s.profiles[profile.ID]; exists {
		return conditionFailed("CreateProfile", "profiles")
	}
	now := s.now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	profile.Email = strings.ToLower(profile.Email)
	s.profiles[profile.ID] = *profile
	return nil
}

// UpdateProfile replaces an existing profile
func (s *Store) UpdateProfile(_ context.Context, profile *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateProfile", profile.ID); err != nil {
		return err
	}
	if _, exists := s.profiles[profile.ID]; !exists {
		return conditionFailed("UpdateProfile", "profiles")
	}
	profile.UpdatedAt = s.now().UTC()
	s.profiles[profile.ID] = *profile
	return nil
}

// FindVerifiedProfileByPhone returns the oldest profile that verified phone
func (s *Store) FindVerifiedProfileByPhone(_ context.Context, phone string) (*model.UserProfile, error) {
	return s.findProfile("FindVerifiedProfileByPhone", func(p model.UserProfile) bool {
		return p.PhoneVerified && p.Phone == phone
	})
}

// FindProfileByEmail returns the profile with email, case-insensitively
func (s *Store) FindProfileByEmail(_ context.Context, email string) (*model.UserProfile, error) {
	email = strings.ToLower(email)
	return s.findProfile("FindProfileByEmail", func(p model.UserProfile) bool { return p.Email == email })
}

func (s *Store) findProfile(op string, match func(model.UserProfile) bool) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(op, ""); err != nil {
		return nil, err
	}
	var found *model.UserProfile
	for _, p := range s.profiles {
		if !match(p) {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, notFound(op, "profiles")
	}
	return found, nil
}

// Gates

// GetGate returns a live gate snapshot
func (s *Store) GetGate(_ context.Context, sessionID string) (*model.GateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetGate", sessionID); err != nil {
		return nil, err
	}
	snap, ok := s.gates[sessionID]
	if !ok || (snap.TTL > 0 && snap.TTL <= s.now().Unix()) {
		return nil, notFound("GetGate", "checkout_sessions")
	}
	return &snap, nil
}

// PutGate stores a gate snapshot
func (s *Store) PutGate(_ context.Context, snap *model.GateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutGate", snap.ID); err != nil {
		return err
	}
	snap.UpdatedAt = s.now().UTC()
	s.gates[snap.ID] = *snap
	return nil
}

// Challenges is the in-memory phone challenge store
type Challenges struct {
	parent      *Store
	items       map[string]model.Challenge
	newID       func() string
	lifetime    time.Duration
	maxAttempts int
	mu          sync.Mutex
}

func newChallenges(parent *Store) *Challenges {
	return &Challenges{
		parent:      parent,
		items:       make(map[string]model.Challenge),
		newID:       uuid.NewString,
		lifetime:    challenge.DefaultLifetime,
		maxAttempts: challenge.DefaultMaxAttempts,
	}
}

func (c *Challenges) now() time.Time {
	c.parent.mu.RLock()
	defer c.parent.mu.RUnlock()
	return c.parent.now()
}

// Issue stores a new challenge
func (c *Challenges) Issue(_ context.Context, phone, codeHash string) (*model.Challenge, error) {
	expiresAt := c.now().Add(c.lifetime)
	ch := model.Challenge{
		ID:        c.newID(),
		Phone:     phone,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt.UTC(),
		TTL:       expiresAt.Unix(),
	}
	c.mu.Lock()
	c.items[ch.ID] = ch
	c.mu.Unlock()
	return &ch, nil
}

// Get returns a live challenge
func (c *Challenges) Get(_ context.Context, id string) (*model.Challenge, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.items[id]
	if !ok || !now.Before(ch.ExpiresAt) {
		return nil, &challenge.NotFoundError{ID: id}
	}
	return &ch, nil
}

// RecordFailure counts a wrong code
func (c *Challenges) RecordFailure(_ context.Context, id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.items[id]
	if !ok || ch.Attempts >= c.maxAttempts {
		delete(c.items, id)
		return c.maxAttempts, &challenge.AttemptsExhaustedError{ID: id}
	}
	ch.Attempts++
	if ch.Attempts >= c.maxAttempts {
		delete(c.items, id)
		return ch.Attempts, &challenge.AttemptsExhaustedError{ID: id}
	}
	c.items[id] = ch
	return ch.Attempts, nil
}

// Consume deletes a challenge; only the first caller succeeds
func (c *Challenges) Consume(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return &challenge.NotFoundError{ID: id}
	}
	delete(c.items, id)
	return nil
}

// Revoke deletes a challenge if present
func (c *Challenges) Revoke(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// Len returns the number of stored challenges
func (c *Challenges) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
