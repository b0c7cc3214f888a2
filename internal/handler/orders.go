package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

// OrderCanceller closes the open adjustment of a cancelled order.
// Satisfied by *settlement.Machine.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*settlement.Adjustment, error)
}

// OrderHandler handles order lifecycle notifications from the order service.
type OrderHandler struct {
	canceller OrderCanceller
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(canceller OrderCanceller) *OrderHandler {
	return &OrderHandler{canceller: canceller}
}

// RegisterRoutes registers order endpoints. Mounted at /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/{orderId}/cancel", h.Cancel)
}

type cancelOrderResponse struct {
	OrderID    uuid.UUID              `json:"order_id"`
	Adjustment *settlement.Adjustment `json:"adjustment"`
}

// Cancel handles POST /orders/{orderId}/cancel. An order without an open
// adjustment is answered with a null adjustment, not an error.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r, "orderId")
	if !ok {
		return
	}
	a, err := h.canceller.CancelOrder(r.Context(), orderID)
	if err != nil {
		handleError(w, err, "cancel order")
		return
	}
	writeJSON(w, http.StatusOK, cancelOrderResponse{OrderID: orderID, Adjustment: a})
}
