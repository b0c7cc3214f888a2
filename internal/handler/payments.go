package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

// CaptureConfirmer records provider-reported payment references.
// Satisfied by *payment.Coordinator.
type CaptureConfirmer interface {
	ConfirmFromProvider(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error)
}

// PaymentWebhookHandler receives callbacks from the payment provider.
type PaymentWebhookHandler struct {
	confirmer CaptureConfirmer
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler.
func NewPaymentWebhookHandler(confirmer CaptureConfirmer) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{confirmer: confirmer}
}

// RegisterRoutes registers payment endpoints. Mounted at /payments.
func (h *PaymentWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Webhook)
}

type paymentWebhookRequest struct {
	AdjustmentID string `json:"adjustment_id" validate:"required,uuid"`
	Reference    string `json:"reference" validate:"required,max=255"`
}

// Webhook handles POST /payments/webhook. Redelivery of a confirmation is
// harmless: a record that already holds a reference keeps it.
func (h *PaymentWebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	a, err := h.confirmer.ConfirmFromProvider(r.Context(), uuid.MustParse(req.AdjustmentID), req.Reference)
	if err != nil {
		handleError(w, err, "confirm payment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
