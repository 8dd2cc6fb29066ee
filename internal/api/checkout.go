package api

import (
	"net/http"

	"github.com/theory-cloud/storefront/pkg/cart"
	"github.com/theory-cloud/storefront/pkg/checkout"
	"github.com/theory-cloud/storefront/pkg/i18n"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
)

type quoteRequest struct {
	Region string           `json:"region"`
	Items  []model.CartItem `json:"items"`
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Checkout.Quote(r.Context(), cart.New(req.Items).Items(), req.Region))
}

type checkoutRequest struct {
	checkout.Request
	Items []model.CartItem `json:"items"`
}

type checkoutResponse struct {
	Order *model.Order `json:"order"`
	Cart  *cart.Cart   `json:"cart"`
}

// placeOrder submits the client-held cart. The cart in the response is what the client should
// keep: empty after a successful order.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Language != i18n.English && req.Language != i18n.Arabic {
		req.Language = i18n.FromRequest(r)
	}

	gate, err := s.loadGate(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	c := cart.New(req.Items)
	order, err := s.Checkout.PlaceOrder(r.Context(), identity.FromContext(r.Context()), gate, c, req.Request)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{Order: order, Cart: c})
}
