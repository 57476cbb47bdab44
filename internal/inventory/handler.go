package inventory

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

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	reconciler *Reconciler
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, reconciler *Reconciler) *Handler {
	return &Handler{logger: logger, service: service, reconciler: reconciler}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleReceive)
	r.Post("/sales", h.handleSale)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/import", h.handleImport)
	r.Post("/reconcile", h.handleReconcile)
	r.Get("/products/{id}/batches", h.handleListBatches)
	r.Get("/products/{id}/adjustments", h.handleListAdjustments)
}

type receiveRequest struct {
	ProductID     int64   `json:"product_id" validate:"required,gt=0"`
	BatchNumber   string  `json:"batch_number" validate:"max=64"`
	Quantity      int64   `json:"quantity" validate:"required,gt=0"`
	ExpiryDate    string  `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	PurchasePrice float64 `json:"purchase_price" validate:"gte=0"`
	Reason        string  `json:"reason" validate:"max=255"`
}

type saleRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"max=64"`
}

type transferRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	DestProductID int64  `json:"dest_product_id" validate:"required,gt=0,nefield=ProductID"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	Note          string `json:"note" validate:"max=255"`
}

type adjustmentRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	BatchID   *int64 `json:"batch_id" validate:"omitempty,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=ADD REMOVE CORRECTION LOSS"`
	Reason    string `json:"reason" validate:"max=255"`
}

type importRequest struct {
	Levels []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Stock     int64 `json:"stock" validate:"gte=0"`
	} `json:"levels" validate:"required,min=1,dive"`
}

type adjustmentResponse struct {
	ID         int64          `json:"id"`
	ProductID  int64          `json:"product_id"`
	BatchID    *int64         `json:"batch_id,omitempty"`
	Quantity   int64          `json:"quantity"`
	Type       AdjustmentType `json:"type"`
	TotalValue float64        `json:"total_value"`
	Reason     string         `json:"reason"`
	CreatedBy  int64          `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

type batchResponse struct {
	ID            int64      `json:"id"`
	BatchNumber   string     `json:"batch_number"`
	Stock         int64      `json:"stock"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	PurchasePrice float64    `json:"purchase_price"`
	InDate        time.Time  `json:"in_date"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.ReceiveBatch(r.Context(), ReceiveBatchInput{
		StoreID:       sc.StoreID,
		ProductID:     req.ProductID,
		BatchNumber:   req.BatchNumber,
		Quantity:      req.Quantity,
		ExpiryDate:    expiry,
		PurchasePrice: req.PurchasePrice,
		ActorID:       sc.ActorID,
		Reason:        req.Reason,
	})
	if err != nil {
		h.fail(w, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatchResponse(batch))
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ConsumeSale(r.Context(), SaleInput{
		StoreID:   sc.StoreID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reference: req.Reference,
		ActorID:   sc.ActorID,
	})
	if err != nil {
		h.fail(w, "consume sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transferRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		StoreID:       sc.StoreID,
		ProductID:     req.ProductID,
		DestProductID: req.DestProductID,
		Quantity:      req.Quantity,
		Note:          req.Note,
		ActorID:       sc.ActorID,
	})
	if err != nil {
		h.fail(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.RecordAdjustment(r.Context(), AdjustmentInput{
		StoreID:   sc.StoreID,
		ProductID: req.ProductID,
		BatchID:   req.BatchID,
		Quantity:  req.Quantity,
		Type:      AdjustmentType(req.Type),
		Reason:    req.Reason,
		ActorID:   sc.ActorID,
	})
	if err != nil {
		h.fail(w, "record adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(entry))
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req importRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	levels := make([]StockLevel, 0, len(req.Levels))
	for _, l := range req.Levels {
		levels = append(levels, StockLevel{ProductID: l.ProductID, Stock: l.Stock})
	}
	n, err := h.service.ImportStockLevels(r.Context(), sc.StoreID, sc.ActorID, levels)
	if err != nil {
		h.fail(w, "import stock levels", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var productID int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		productID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || productID <= 0 {
			httpx.RespondError(w, fmt.Errorf("invalid product_id: %w", shared.ErrValidation))
			return
		}
	}
	summary, err := h.reconciler.Reconcile(r.Context(), sc.StoreID, productID)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batches, err := h.service.ListBatches(r.Context(), sc.StoreID, productID)
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	sc, err := shared.RequireStore(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := h.service.ListAdjustments(r.Context(), sc.StoreID, productID, limit)
	if err != nil {
		h.fail(w, "list adjustments", err)
		return
	}
	out := make([]adjustmentResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAdjustmentResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("inventory "+op, slog.Any("error", err))
	} else {
		h.logger.Info("inventory "+op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", raw, shared.ErrValidation)
	}
	return &t, nil
}

func toBatchResponse(b Batch) batchResponse {
	return batchResponse{
		ID:            b.ID,
		BatchNumber:   b.BatchNumber,
		Stock:         b.Stock,
		ExpiryDate:    b.ExpiryDate,
		PurchasePrice: b.PurchasePrice,
		InDate:        b.InDate,
	}
}

func toAdjustmentResponse(e Adjustment) adjustmentResponse {
	return adjustmentResponse{
		ID:         e.ID,
		ProductID:  e.ProductID,
		BatchID:    e.BatchID,
		Quantity:   e.Quantity,
		Type:       e.Type,
		TotalValue: e.TotalValue,
		Reason:     e.Reason,
		CreatedBy:  e.CreatedBy,
		CreatedAt:  e.CreatedAt,
	}
}
