package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/approval"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/middleware"
	"github.com/kiwari-pos/weighsettle/internal/payment"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/shopspring/decimal"
)

// AdjustmentStore defines the state machine methods needed by adjustment handlers.
// Satisfied by *settlement.Machine.
type AdjustmentStore interface {
	Register(ctx context.Context, req settlement.RegisterRequest) (settlement.Adjustment, error)
	List(ctx context.Context, f settlement.ListFilter) ([]settlement.Adjustment, error)
	History(ctx context.Context, id uuid.UUID) ([]settlement.Transition, error)
}

// Reviewer is the admin decision surface.
// Satisfied by *approval.Workflow.
type Reviewer interface {
	Detail(ctx context.Context, id uuid.UUID) (approval.Detail, error)
	Approve(ctx context.Context, d approval.Decision) (settlement.Adjustment, error)
	Reject(ctx context.Context, d approval.Decision, reason string) (settlement.Adjustment, error)
}

// Authorizer looks up an order's payment authorization when the caller
// registering it does not supply one.
type Authorizer interface {
	Authorize(ctx context.Context, orderID uuid.UUID) (payment.Authorization, error)
}

// AdjustmentHandler handles adjustment endpoints.
type AdjustmentHandler struct {
	store      AdjustmentStore
	reviewer   Reviewer
	authorizer Authorizer
}

// NewAdjustmentHandler creates a new AdjustmentHandler.
func NewAdjustmentHandler(store AdjustmentStore, reviewer Reviewer, authorizer Authorizer) *AdjustmentHandler {
	return &AdjustmentHandler{store: store, reviewer: reviewer, authorizer: authorizer}
}

// RegisterSystemRoutes registers the endpoints called by the order service.
// Mounted at /adjustments behind the SYSTEM role.
func (h *AdjustmentHandler) RegisterSystemRoutes(r chi.Router) {
	r.Post("/", h.Register)
}

// RegisterAdminRoutes registers the review endpoints. Mounted at
// /adjustments behind the ADMIN role.
func (h *AdjustmentHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/history", h.History)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
}

// --- Request / Response types ---

type authorizationRequest struct {
	Handle           string    `json:"handle" validate:"required"`
	AuthorizedAt     time.Time `json:"authorized_at"`
	CaptureReference string    `json:"capture_reference"`
}

type registerAdjustmentRequest struct {
	OrderID              string                `json:"order_id" validate:"required,uuid"`
	EstimatedWeightGrams *int64                `json:"estimated_weight_grams" validate:"required,gte=0"`
	PricePerKg           string                `json:"price_per_kg" validate:"required"`
	Authorization        *authorizationRequest `json:"authorization"`
}

type decisionRequest struct {
	Version *int32 `json:"version"`
}

type rejectRequest struct {
	Reason  string `json:"reason" validate:"required"`
	Version *int32 `json:"version"`
}

type adjustmentListResponse struct {
	Adjustments []settlement.Adjustment `json:"adjustments"`
	Limit       int32                   `json:"limit"`
	Offset      int32                   `json:"offset"`
}

type historyResponse struct {
	AdjustmentID uuid.UUID               `json:"adjustment_id"`
	Transitions  []settlement.Transition `json:"transitions"`
}

// --- Handlers ---

// Register handles POST /adjustments.
func (h *AdjustmentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAdjustmentRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	pricePerKg, err := decimal.NewFromString(req.PricePerKg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price_per_kg"})
		return
	}
	if !pricePerKg.Equal(pricePerKg.Round(2)) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price_per_kg must have at most 2 decimal places"})
		return
	}
	orderID := uuid.MustParse(req.OrderID)

	var authz settlement.Authorization
	if req.Authorization != nil {
		authz = settlement.Authorization{
			Handle:           req.Authorization.Handle,
			AuthorizedAt:     req.Authorization.AuthorizedAt,
			CaptureReference: req.Authorization.CaptureReference,
		}
	} else {
		pa, err := h.authorizer.Authorize(r.Context(), orderID)
		if err != nil {
			handleError(w, err, "look up payment authorization")
			return
		}
		authz = settlement.Authorization{
			Handle:           pa.Handle,
			AuthorizedAt:     pa.AuthorizedAt,
			CaptureReference: pa.CaptureReference,
		}
	}

	a, err := h.store.Register(r.Context(), settlement.RegisterRequest{
		OrderID:              orderID,
		EstimatedWeightGrams: *req.EstimatedWeightGrams,
		PricePerKg:           pricePerKg,
		Authorization:        authz,
	})
	if err != nil {
		handleError(w, err, "register adjustment")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// List handles GET /adjustments?status=&limit=&offset=.
func (h *AdjustmentHandler) List(w http.ResponseWriter, r *http.Request) {
	f := settlement.ListFilter{Limit: settlement.DefaultListLimit}

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := enum.ParseAdjustmentStatus(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
			return
		}
		f.Status = status
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > settlement.MaxListLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		f.Limit = int32(n)
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		f.Offset = int32(n)
	}

	list, err := h.store.List(r.Context(), f)
	if err != nil {
		handleError(w, err, "list adjustments")
		return
	}
	if list == nil {
		list = []settlement.Adjustment{}
	}
	writeJSON(w, http.StatusOK, adjustmentListResponse{Adjustments: list, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /adjustments/{id}.
func (h *AdjustmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.reviewer.Detail(r.Context(), id)
	if err != nil {
		handleError(w, err, "get adjustment")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// History handles GET /adjustments/{id}/history.
func (h *AdjustmentHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	transitions, err := h.store.History(r.Context(), id)
	if err != nil {
		handleError(w, err, "get adjustment history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{AdjustmentID: id, Transitions: transitions})
}

// Approve handles POST /adjustments/{id}/approve.
func (h *AdjustmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	a, err := h.reviewer.Approve(r.Context(), decisionFor(r, id, req.Version))
	if err != nil {
		handleError(w, err, "approve adjustment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Reject handles POST /adjustments/{id}/reject.
func (h *AdjustmentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	a, err := h.reviewer.Reject(r.Context(), decisionFor(r, id, req.Version), req.Reason)
	if err != nil {
		handleError(w, err, "reject adjustment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func decisionFor(r *http.Request, id uuid.UUID, version *int32) approval.Decision {
	d := approval.Decision{AdjustmentID: id, ExpectedVersion: version}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		d.AdminID = claims.UserID
	}
	return d
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
