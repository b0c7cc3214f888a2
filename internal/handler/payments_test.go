package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/handler"
	"github.com/kiwari-pos/weighsettle/internal/middleware"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

type mockConfirmer struct {
	confirmFn func(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error)
}

func (m *mockConfirmer) ConfirmFromProvider(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error) {
	return m.confirmFn(ctx, id, reference)
}

func setupPaymentRouter(c *mockConfirmer) *chi.Mux {
	h := handler.NewPaymentWebhookHandler(c)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/payments", h.RegisterRoutes)
	return r
}

func TestPaymentWebhook_Confirms(t *testing.T) {
	id := uuid.New()
	var gotRef string
	c := &mockConfirmer{confirmFn: func(ctx context.Context, got uuid.UUID, reference string) (settlement.Adjustment, error) {
		if got != id {
			t.Errorf("expected adjustment %s, got %s", id, got)
		}
		gotRef = reference
		a := testAdjustment(enum.AdjustmentStatusCompleted)
		a.ID = id
		a.CapturedPaymentReference = reference
		return a, nil
	}}

	rr := doAuthRequest(t, setupPaymentRouter(c), "POST", "/payments/webhook", map[string]interface{}{
		"adjustment_id": id.String(),
		"reference":     "cap_789",
	}, systemClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotRef != "cap_789" {
		t.Errorf("expected reference cap_789, got %q", gotRef)
	}
	if resp := decodeBody(t, rr); resp["status"] != string(enum.AdjustmentStatusCompleted) {
		t.Errorf("expected COMPLETED, got %v", resp["status"])
	}
}

func TestPaymentWebhook_Validation(t *testing.T) {
	c := &mockConfirmer{confirmFn: func(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error) {
		t.Fatal("confirmer should not be called")
		return settlement.Adjustment{}, nil
	}}
	router := setupPaymentRouter(c)

	rr := doAuthRequest(t, router, "POST", "/payments/webhook", map[string]interface{}{"reference": "cap"}, systemClaims())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without adjustment_id, got %d", rr.Code)
	}
	rr = doAuthRequest(t, router, "POST", "/payments/webhook", map[string]interface{}{"adjustment_id": uuid.New().String()}, systemClaims())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference, got %d", rr.Code)
	}
}

func TestPaymentWebhook_NotSettleable(t *testing.T) {
	c := &mockConfirmer{confirmFn: func(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error) {
		return settlement.Adjustment{}, fmt.Errorf("%w: adjustment is REJECTED_BY_ADMIN", settlement.ErrPreconditionFailed)
	}}
	rr := doAuthRequest(t, setupPaymentRouter(c), "POST", "/payments/webhook", map[string]interface{}{
		"adjustment_id": uuid.New().String(),
		"reference":     "cap_1",
	}, systemClaims())
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
