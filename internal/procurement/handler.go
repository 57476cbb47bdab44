package procurement

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Handler exposes purchase order debt endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs procurement HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/report", h.handleReport)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/payments", h.handlePayment)
	r.Post("/{id}/write-off", h.handleWriteOff)
}

type createRequest struct {
	Number       string `json:"number" validate:"max=64"`
	SupplierName string `json:"supplier_name" validate:"required,max=128"`
	Lines        []struct {
		ProductID   int64   `json:"product_id" validate:"required,gt=0"`
		BatchNumber string  `json:"batch_number" validate:"max=64"`
		Quantity    int64   `json:"quantity" validate:"required,gt=0"`
		UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
		ExpiryDate  string  `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	} `json:"lines" validate:"required,min=1,dive"`
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
	Note   string  `json:"note" validate:"max=255"`
}

type writeOffRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type purchaseOrderResponse struct {
	ID              int64         `json:"id"`
	Number          string        `json:"number"`
	SupplierName    string        `json:"supplier_name"`
	TotalAmount     float64       `json:"total_amount"`
	AmountPaid      float64       `json:"amount_paid"`
	RemainingAmount float64       `json:"remaining_amount"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Notes           []PaymentNote `json:"notes"`
	Lines           []lineView    `json:"lines,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type lineView struct {
	ProductID   int64      `json:"product_id"`
	BatchID     int64      `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	Quantity    int64      `json:"quantity"`
	UnitCost    float64    `json:"unit_cost"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreatePOInput{StoreID: sc.StoreID, Number: req.Number, SupplierName: req.SupplierName, ActorID: sc.ActorID}
	for _, l := range req.Lines {
		var expiry *time.Time
		if l.ExpiryDate != "" {
			t, err := time.Parse("2006-01-02", l.ExpiryDate)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("invalid expiry_date: %w", shared.ErrValidation))
				return
			}
			expiry = &t
		}
		input.Lines = append(input.Lines, LineInput{
			ProductID:   l.ProductID,
			BatchNumber: l.BatchNumber,
			Quantity:    l.Quantity,
			UnitCost:    l.UnitCost,
			ExpiryDate:  expiry,
		})
	}
	po, lines, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(po, lines))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Report(r.Context(), sc.StoreID)
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, lines, err := h.service.Get(r.Context(), sc.StoreID, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(po, lines))
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ApplyPayment(r.Context(), PaymentInput{StoreID: sc.StoreID, POID: id, Amount: req.Amount, Note: req.Note, ActorID: sc.ActorID})
	if err != nil {
		h.fail(w, "payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(po, nil))
}

func (h *Handler) handleWriteOff(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req writeOffRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.WriteOff(r.Context(), WriteOffInput{StoreID: sc.StoreID, POID: id, Reason: req.Reason, ActorID: sc.ActorID})
	if err != nil {
		h.fail(w, "write-off", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(po, nil))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("purchase order "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid purchase order id: %w", shared.ErrValidation)
	}
	return id, nil
}

func toResponse(po PurchaseOrder, lines []POLine) purchaseOrderResponse {
	resp := purchaseOrderResponse{
		ID:              po.ID,
		Number:          po.Number,
		SupplierName:    po.SupplierName,
		TotalAmount:     po.TotalAmount,
		AmountPaid:      po.AmountPaid,
		RemainingAmount: po.RemainingAmount,
		PaymentStatus:   po.PaymentStatus,
		Notes:           notesOrEmpty(po.Notes),
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, lineView{
			ProductID:   l.ProductID,
			BatchID:     l.BatchID,
			BatchNumber: l.BatchNumber,
			Quantity:    l.Quantity,
			UnitCost:    l.UnitCost,
			ExpiryDate:  l.ExpiryDate,
		})
	}
	return resp
}
