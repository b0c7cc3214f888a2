package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

// ReportIngester applies weight reports.
// Satisfied by *settlement.Machine; narrow interface for testability.
type ReportIngester interface {
	IngestReport(ctx context.Context, r settlement.Report) (settlement.IngestResult, error)
}

const triggerAutoApproved = "auto-approved weight report"

// WeightReportHandler receives post-pick weight reports from the picking system.
type WeightReportHandler struct {
	ingester ReportIngester
	settler  AsyncSettler
}

// NewWeightReportHandler creates a new WeightReportHandler.
func NewWeightReportHandler(ingester ReportIngester, settler AsyncSettler) *WeightReportHandler {
	return &WeightReportHandler{ingester: ingester, settler: settler}
}

// RegisterRoutes registers weight report endpoints. Mounted at /weight-reports.
func (h *WeightReportHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
}

type weightReportRequest struct {
	OrderID           string    `json:"order_id" validate:"required,uuid"`
	ExternalReportID  string    `json:"external_report_id" validate:"required,max=255"`
	ActualWeightGrams *int64    `json:"actual_weight_grams" validate:"required,gte=0"`
	CapturedAt        time.Time `json:"captured_at"`
}

type weightReportResponse struct {
	Adjustment settlement.Adjustment `json:"adjustment"`
	Evaluation *policy.Evaluation    `json:"evaluation,omitempty"`
	Duplicate  bool                  `json:"duplicate"`
}

// Create handles POST /weight-reports. A report id seen before returns the
// stored record with 200 and changes nothing. An auto-approved record is
// handed to the settler straight away.
func (h *WeightReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req weightReportRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	res, err := h.ingester.IngestReport(r.Context(), settlement.Report{
		OrderID:           uuid.MustParse(req.OrderID),
		ExternalReportID:  req.ExternalReportID,
		ActualWeightGrams: *req.ActualWeightGrams,
		CapturedAt:        req.CapturedAt,
	})
	if err != nil {
		handleError(w, err, "ingest weight report")
		return
	}

	if !res.Duplicate && res.Adjustment.Status == enum.AdjustmentStatusAutoApproved {
		h.settler.SettleAsync(res.Adjustment.ID, triggerAutoApproved)
	}

	resp := weightReportResponse{Adjustment: res.Adjustment, Duplicate: res.Duplicate}
	if res.Evaluation.Decision != "" {
		resp.Evaluation = &res.Evaluation
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}
