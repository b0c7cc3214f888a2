package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/gate"
)

const triggerDeliveryCompleted = "delivery completed"

// DeliveryGate decides whether an order can be marked delivered.
// Satisfied by *gate.Gate.
type DeliveryGate interface {
	CanMarkDelivered(ctx context.Context, orderID uuid.UUID) (gate.Decision, error)
}

// AsyncSettler starts settlement outside the request.
// Satisfied by *payment.Coordinator.
type AsyncSettler interface {
	SettleAsync(id uuid.UUID, trigger string)
}

// DeliveryHandler handles courier delivery endpoints.
type DeliveryHandler struct {
	gate    DeliveryGate
	settler AsyncSettler
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(g DeliveryGate, settler AsyncSettler) *DeliveryHandler {
	return &DeliveryHandler{gate: g, settler: settler}
}

// RegisterRoutes registers delivery endpoints. Mounted at /deliveries.
func (h *DeliveryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{orderId}/gate", h.Gate)
	r.Post("/{orderId}/complete", h.Complete)
}

type deliveryCompleteResponse struct {
	OrderID   uuid.UUID     `json:"order_id"`
	Delivered bool          `json:"delivered"`
	Gate      gate.Decision `json:"gate"`
}

// Gate handles GET /deliveries/{orderId}/gate.
func (h *DeliveryHandler) Gate(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r, "orderId")
	if !ok {
		return
	}
	d, err := h.gate.CanMarkDelivered(r.Context(), orderID)
	if err != nil {
		handleError(w, err, "evaluate delivery gate")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Complete handles POST /deliveries/{orderId}/complete. The gate is
// evaluated again here; the courier's earlier read may be stale.
func (h *DeliveryHandler) Complete(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r, "orderId")
	if !ok {
		return
	}
	d, err := h.gate.CanMarkDelivered(r.Context(), orderID)
	if err != nil {
		handleError(w, err, "evaluate delivery gate")
		return
	}
	if !d.Allowed {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          "delivery blocked",
			"blocked_reason": d.BlockedReason,
		})
		return
	}

	if d.AdjustmentID != nil && d.Status.IsSettleable() {
		h.settler.SettleAsync(*d.AdjustmentID, triggerDeliveryCompleted)
		log.Printf("settlement of adjustment %s started on delivery of order %s", *d.AdjustmentID, orderID)
	}
	writeJSON(w, http.StatusOK, deliveryCompleteResponse{OrderID: orderID, Delivered: true, Gate: d})
}
