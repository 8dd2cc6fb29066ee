// Package api exposes the storefront over HTTP: checkout, phone verification, accounts, the
// public catalog and the admin back-office.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/theory-cloud/storefront/pkg/account"
	"github.com/theory-cloud/storefront/pkg/checkout"
	"github.com/theory-cloud/storefront/pkg/i18n"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/images"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/phoneauth"
	"github.com/theory-cloud/storefront/pkg/protection"
	"github.com/theory-cloud/storefront/pkg/shipping"
)

// SessionHeader carries the checkout session id between requests
const SessionHeader = "X-Checkout-Session"

// Catalog reads and writes products and categories
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, categoryID string) ([]model.Product, error)
	PutProduct(ctx context.Context, product *model.Product) error
	AddProductImage(ctx context.Context, id, url string) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	PutCategory(ctx context.Context, category *model.Category) error
}

// Orders reads orders and moves them through fulfilment
type Orders interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error
}

// Deps are the services the API is built from. LocalImages is optional and serves uploads
// kept in process.
type Deps struct {
	Logger         *slog.Logger
	Resolver       *identity.Resolver
	Issuer         *identity.Issuer
	Sessions       *phoneauth.Sessions
	Checkout       *checkout.Service
	Accounts       *account.Service
	Rates          *shipping.Rates
	Catalog        Catalog
	Orders         Orders
	Images         images.Uploader
	LocalImages    http.Handler
	Messages       *i18n.Catalog
	Protector      *protection.ResourceProtector
	AllowedOrigins []string
}

// Server is the storefront HTTP API
type Server struct {
	Deps
	logger   *slog.Logger
	messages *i18n.Catalog
}

// New creates a Server
func New(deps Deps) *Server {
	s := &Server{Deps: deps, logger: deps.Logger, messages: deps.Messages}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.messages == nil {
		s.messages = i18n.Default()
	}
	if s.Protector == nil {
		s.Protector = protection.NewResourceProtector(protection.DefaultResourceLimits())
	}
	return s
}

// Router returns the route table without CORS or resource protection
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware, s.identityMiddleware)

	// Phone verification and accounts
	api.HandleFunc("/auth/phone/request", s.requestCode).Methods(http.MethodPost)
	api.HandleFunc("/auth/phone/confirm", s.confirmCode).Methods(http.MethodPost)
	api.HandleFunc("/auth/phone/status", s.gateStatus).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/me", s.requireUser(s.getProfile)).Methods(http.MethodGet)
	api.HandleFunc("/me", s.requireUser(s.updateProfile)).Methods(http.MethodPut)

	// Cart and checkout
	api.HandleFunc("/cart/quote", s.quote).Methods(http.MethodPost)
	api.HandleFunc("/cart/lines", s.updateCartLine).Methods(http.MethodPost)
	api.HandleFunc("/checkout", s.placeOrder).Methods(http.MethodPost)

	// Public catalog
	api.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.getProduct).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.listCategories).Methods(http.MethodGet)
	api.HandleFunc("/shipping-rates", s.shippingRates).Methods(http.MethodGet)

	// Customer orders
	api.HandleFunc("/orders", s.requireUser(s.listMyOrders)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.requireUser(s.getMyOrder)).Methods(http.MethodGet)

	// Back-office
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminOnly)
	admin.HandleFunc("/shipping-rates", s.updateShippingRates).Methods(http.MethodPut)
	admin.HandleFunc("/orders", s.listAllOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", s.updateOrderStatus).Methods(http.MethodPut)
	admin.HandleFunc("/products/{id}", s.putProduct).Methods(http.MethodPut)
	admin.HandleFunc("/products/{id}/images", s.uploadProductImage).Methods(http.MethodPost)
	admin.HandleFunc("/categories/{id}", s.putCategory).Methods(http.MethodPut)

	if s.LocalImages != nil {
		r.PathPrefix(images.ServePath).Handler(s.LocalImages).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

// Handler returns the full HTTP handler: CORS, then resource protection, then the routes
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language", SessionHeader},
		ExposedHeaders:   []string{SessionHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.Protector.Middleware(s.Router()))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"protection": s.Protector.HealthCheck(),
	})
}
