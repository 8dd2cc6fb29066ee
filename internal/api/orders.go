package api

import (
	"net/http"

	"github.com/gorilla/mux"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
)

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Orders.ListOrdersByUser(r.Context(), identity.FromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// getMyOrder returns an order owned by the caller. Other users' orders are reported as not
// found; admins may read any order.
func (s *Server) getMyOrder(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromContext(r.Context())
	order, err := s.Orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if order.UserID != caller.UserID && !caller.IsAdmin() {
		s.writeError(w, r, serrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) listAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Orders.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status := model.OrderStatus(r.URL.Query().Get("status")); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	writeJSON(w, http.StatusOK, orders)
}

// updateOrderStatus moves an order one fulfilment step or cancels it. The write is conditional
// on the status read here, so a concurrent change is reported as a conflict.
func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status model.OrderStatus `json:"status"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		s.writeError(w, r, serrors.NewValidationError("order.invalid_status", "status"))
		return
	}

	order, err := s.Orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !order.Status.CanTransition(req.Status) {
		s.writeError(w, r, serrors.ErrInvalidTransition)
		return
	}
	if err := s.Orders.UpdateOrderStatus(r.Context(), order.ID, order.Status, req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "order status changed",
		"order_id", order.ID,
		"from", string(order.Status),
		"to", string(req.Status),
		"admin_id", identity.FromContext(r.Context()).UserID)

	order.Status = req.Status
	writeJSON(w, http.StatusOK, order)
}
