package inventory

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AdjustmentType enumerates out-of-band stock movements.
type AdjustmentType string

const (
	// AdjustmentAdd increases stock (found goods, receipts).
	AdjustmentAdd AdjustmentType = "ADD"
	// AdjustmentRemove decreases stock (returns to supplier, transfers out).
	AdjustmentRemove AdjustmentType = "REMOVE"
	// AdjustmentCorrection increases stock to correct an undercount.
	AdjustmentCorrection AdjustmentType = "CORRECTION"
	// AdjustmentLoss decreases stock for damage, theft or expiry.
	AdjustmentLoss AdjustmentType = "LOSS"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentAdd, AdjustmentRemove, AdjustmentCorrection, AdjustmentLoss:
		return true
	}
	return false
}

// Sign returns +1 for increasing types and -1 for decreasing ones.
func (t AdjustmentType) Sign() int64 {
	switch t {
	case AdjustmentRemove, AdjustmentLoss:
		return -1
	default:
		return 1
	}
}

// Product is the catalogue row holding the denormalised aggregate stock.
type Product struct {
	ID            int64
	StoreID       int64
	Name          string
	SKU           string
	Stock         int64
	Threshold     int64
	ExpiryDate    *time.Time
	PurchasePrice float64
	AverageCost   float64
	SellingPrice  float64
	UpdatedAt     time.Time
}

// Batch is a discrete lot of a product with its own expiry and cost.
type Batch struct {
	ID            int64
	ProductID     int64
	StoreID       int64
	BatchNumber   string
	Stock         int64
	ExpiryDate    *time.Time
	PurchasePrice float64
	InDate        time.Time
	CreatedAt     time.Time
}

// Adjustment is an immutable audit entry for a stock change outside a sale.
type Adjustment struct {
	ID         int64
	StoreID    int64
	ProductID  int64
	BatchID    *int64
	Quantity   int64
	Type       AdjustmentType
	TotalValue float64
	Reason     string
	CreatedBy  int64
	CreatedAt  time.Time
}

// Allocation describes how much of one batch a consumption drew.
type Allocation struct {
	BatchID       int64      `json:"batch_id"`
	BatchNumber   string     `json:"batch_number"`
	Quantity      int64      `json:"quantity"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	PurchasePrice float64    `json:"purchase_price"`
}

// AdjustmentInput is the request to record an adjustment. Quantity is a
// positive magnitude; the direction comes from Type.
type AdjustmentInput struct {
	StoreID   int64
	ProductID int64
	BatchID   *int64
	Quantity  int64
	Type      AdjustmentType
	Reason    string
	ActorID   int64
}

// SaleInput draws stock for a point-of-sale line.
type SaleInput struct {
	StoreID   int64
	ProductID int64
	Quantity  int64
	Reference string
	ActorID   int64
}

// SaleResult reports the batches a sale consumed.
type SaleResult struct {
	ProductID      int64        `json:"product_id"`
	Quantity       int64        `json:"quantity"`
	Allocations    []Allocation `json:"allocations"`
	RemainingStock int64        `json:"remaining_stock"`
}

// ReceiveBatchInput records an inbound lot.
type ReceiveBatchInput struct {
	StoreID       int64
	ProductID     int64
	BatchNumber   string
	Quantity      int64
	ExpiryDate    *time.Time
	PurchasePrice float64
	InDate        time.Time
	ActorID       int64
	Reason        string
}

// TransferInput moves stock from a product in the caller's store to a product
// in another store.
type TransferInput struct {
	StoreID       int64
	ProductID     int64
	DestProductID int64
	Quantity      int64
	Note          string
	ActorID       int64
}

// TransferResult reports both legs of a transfer.
type TransferResult struct {
	Allocations        []Allocation `json:"allocations"`
	SourceStock        int64        `json:"source_stock"`
	DestinationStock   int64        `json:"destination_stock"`
	DestinationBatches []int64      `json:"destination_batch_ids"`
}

// StockLevel is one row of a legacy bulk import.
type StockLevel struct {
	ProductID int64
	Stock     int64
}

// HealedProduct identifies a product whose orphan stock was materialised.
type HealedProduct struct {
	ProductID   int64  `json:"product_id"`
	Name        string `json:"name"`
	OrphanStock int64  `json:"orphan_stock"`
	BatchID     int64  `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
}

// Summary is the result of a reconciliation pass.
type Summary struct {
	Count   int             `json:"count"`
	Healed  []HealedProduct `json:"healed"`
	Scanned int             `json:"scanned"`
	Failed  int             `json:"failed"`
}

var (
	// ErrInsufficientBatchStock is returned when batches cannot cover a draw,
	// even if the aggregate counter appears large enough.
	ErrInsufficientBatchStock = fmt.Errorf("inventory: insufficient batch stock: %w", shared.ErrBusinessRule)
	// ErrNegativeStock triggered when movement would result in negative aggregate stock.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrBusinessRule)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrInvalidType indicates an unknown adjustment type.
	ErrInvalidType = fmt.Errorf("inventory: unknown adjustment type: %w", shared.ErrValidation)
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrValidation)
	// ErrBatchMismatch indicates the batch belongs to another product.
	ErrBatchMismatch = fmt.Errorf("inventory: batch does not belong to product: %w", shared.ErrValidation)
	// ErrProductNotFound indicates a missing product row.
	ErrProductNotFound = fmt.Errorf("inventory: product: %w", shared.ErrNotFound)
	// ErrBatchNotFound indicates a missing batch row.
	ErrBatchNotFound = fmt.Errorf("inventory: batch: %w", shared.ErrNotFound)
	// ErrWrongStore indicates the row belongs to a different store.
	ErrWrongStore = fmt.Errorf("inventory: product belongs to another store: %w", shared.ErrForbidden)
)
