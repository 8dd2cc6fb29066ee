package api

import (
	"fmt"
	"net/http"

	"github.com/theory-cloud/storefront/pkg/cart"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

// Cart line actions accepted by POST /api/cart/lines
const (
	cartAdd       = "add"
	cartIncrement = "increment"
	cartDecrement = "decrement"
	cartSet       = "set"
	cartRemove    = "remove"
)

type cartLineRequest struct {
	Action    string           `json:"action"`
	ProductID string           `json:"productId"`
	ColorID   string           `json:"colorId,omitempty"`
	Items     []model.CartItem `json:"items"`
	Quantity  int              `json:"quantity,omitempty"`
}

type cartResponse struct {
	Cart  *cart.Cart `json:"cart"`
	Count int        `json:"count"`
}

// updateCartLine applies one action to the client-held cart and returns the new cart. Added
// lines are priced from the catalog, never from the client.
func (s *Server) updateCartLine(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		s.writeError(w, r, fmt.Errorf("%w: productId is required", errBadRequest))
		return
	}

	c := cart.New(req.Items)
	found := true
	switch req.Action {
	case cartAdd:
		product, err := s.Catalog.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		quantity := req.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		line, err := cart.ItemFromProduct(product, req.ColorID, quantity)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		c.Add(line)
	case cartIncrement:
		found = c.Increment(req.ProductID, req.ColorID)
	case cartDecrement:
		found = c.Decrement(req.ProductID, req.ColorID)
	case cartSet:
		found = c.SetQuantity(req.ProductID, req.ColorID, req.Quantity)
	case cartRemove:
		found = c.Remove(req.ProductID, req.ColorID)
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown cart action %q", errBadRequest, req.Action))
		return
	}
	if !found {
		s.writeError(w, r, fmt.Errorf("cart line %s/%s: %w", req.ProductID, req.ColorID, serrors.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Cart: c, Count: c.Count()})
}
