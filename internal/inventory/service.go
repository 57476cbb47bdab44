package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, productID int64) (Product, error)
	ListProductIDs(ctx context.Context, storeID int64) ([]int64, error)
	ListBatches(ctx context.Context, productID int64) ([]Batch, error)
	ListAdjustments(ctx context.Context, productID int64, limit int) ([]Adjustment, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock movements. Every movement updates the batches and
// the aggregate counter of a product in the same unit of work.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ConsumeSale draws stock for a sale in FEFO order. Only batch coverage can
// fail a sale. Sales do not write adjustment entries.
func (s *Service) ConsumeSale(ctx context.Context, input SaleInput) (SaleResult, error) {
	if input.ProductID == 0 {
		return SaleResult{}, fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return SaleResult{}, ErrInvalidQuantity
	}
	var result SaleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := lockProduct(ctx, tx, input.StoreID, input.ProductID)
		if err != nil {
			return err
		}
		allocations, err := drawFEFO(ctx, tx, product.ID, input.Quantity)
		if err != nil {
			return err
		}
		// An aggregate below the batch total is a tolerated overcount; the
		// batches already covered the sale, so the counter floors at zero.
		newStock := max(product.Stock-input.Quantity, 0)
		if err := tx.UpdateProductStock(ctx, product.ID, newStock); err != nil {
			return err
		}
		result = SaleResult{ProductID: product.ID, Quantity: input.Quantity, Allocations: allocations, RemainingStock: newStock}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	s.logger.Debug("sale consumed",
		slog.Int64("product_id", input.ProductID),
		slog.Int64("qty", input.Quantity),
		slog.Int("batches", len(result.Allocations)),
		slog.String("reference", input.Reference))
	return result, nil
}

// RecordAdjustment appends an audit entry and moves stock accordingly. With a
// batch the batch is adjusted; without one, increases open a new batch and
// decreases consume FEFO so the ledger stays balanced.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	if input.ProductID == 0 {
		return Adjustment{}, fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Adjustment{}, ErrInvalidQuantity
	}
	if !input.Type.Valid() {
		return Adjustment{}, ErrInvalidType
	}
	signed := input.Type.Sign() * input.Quantity
	now := s.now()

	var entry Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := lockProduct(ctx, tx, input.StoreID, input.ProductID)
		if err != nil {
			return err
		}
		newStock := product.Stock + signed
		if newStock < 0 {
			return ErrNegativeStock
		}

		var batchID *int64
		var totalValue float64
		switch {
		case input.BatchID != nil:
			batch, err := tx.GetBatchForUpdate(ctx, *input.BatchID)
			if err != nil {
				return err
			}
			if batch.ProductID != product.ID {
				return ErrBatchMismatch
			}
			batchStock := batch.Stock + signed
			if batchStock < 0 {
				return ErrInsufficientBatchStock
			}
			if err := tx.UpdateBatchStock(ctx, batch.ID, batchStock); err != nil {
				return err
			}
			batchID = &batch.ID
			totalValue = float64(signed) * unitCost(batch.PurchasePrice, product.PurchasePrice)
		case signed > 0:
			batch := Batch{
				ProductID:     product.ID,
				StoreID:       product.StoreID,
				BatchNumber:   syntheticBatchNumber("ADJ", product.ID),
				Stock:         signed,
				PurchasePrice: product.PurchasePrice,
				InDate:        now,
				CreatedAt:     now,
			}
			id, err := tx.InsertBatch(ctx, batch)
			if err != nil {
				return err
			}
			batchID = &id
			totalValue = float64(signed) * unitCost(product.PurchasePrice)
		default:
			allocations, err := drawFEFO(ctx, tx, product.ID, -signed)
			if err != nil {
				return err
			}
			for _, alloc := range allocations {
				totalValue -= float64(alloc.Quantity) * unitCost(alloc.PurchasePrice, product.PurchasePrice)
			}
			if len(allocations) == 1 {
				batchID = &allocations[0].BatchID
			}
		}

		if err := tx.UpdateProductStock(ctx, product.ID, newStock); err != nil {
			return err
		}
		entry = Adjustment{
			StoreID:    product.StoreID,
			ProductID:  product.ID,
			BatchID:    batchID,
			Quantity:   signed,
			Type:       input.Type,
			TotalValue: totalValue,
			Reason:     strings.TrimSpace(input.Reason),
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
		}
		id, err := tx.InsertAdjustment(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, input.ActorID, entry.StoreID, fmt.Sprintf("inventory:%s", entry.Type), entry.ProductID, map[string]any{
		"qty":         entry.Quantity,
		"batch_id":    entry.BatchID,
		"total_value": entry.TotalValue,
		"reason":      entry.Reason,
	})
	return entry, nil
}

// ReceiveBatch records an inbound lot and raises the aggregate stock.
func (s *Service) ReceiveBatch(ctx context.Context, input ReceiveBatchInput) (Batch, error) {
	if input.ProductID == 0 {
		return Batch{}, fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.PurchasePrice < 0 {
		return Batch{}, ErrInvalidUnitCost
	}
	now := s.now()
	inDate := input.InDate
	if inDate.IsZero() {
		inDate = now
	}
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := lockProduct(ctx, tx, input.StoreID, input.ProductID)
		if err != nil {
			return err
		}
		number := strings.TrimSpace(input.BatchNumber)
		if number == "" {
			number = syntheticBatchNumber("B", product.ID)
		}
		batch = Batch{
			ProductID:     product.ID,
			StoreID:       product.StoreID,
			BatchNumber:   number,
			Stock:         input.Quantity,
			ExpiryDate:    input.ExpiryDate,
			PurchasePrice: input.PurchasePrice,
			InDate:        inDate,
			CreatedAt:     now,
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		if err := tx.UpdateProductStock(ctx, product.ID, product.Stock+input.Quantity); err != nil {
			return err
		}
		reason := input.Reason
		if reason == "" {
			reason = "receipt " + number
		}
		_, err = tx.InsertAdjustment(ctx, Adjustment{
			StoreID:    product.StoreID,
			ProductID:  product.ID,
			BatchID:    &batch.ID,
			Quantity:   input.Quantity,
			Type:       AdjustmentAdd,
			TotalValue: float64(input.Quantity) * input.PurchasePrice,
			Reason:     reason,
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Transfer moves stock between two products, consuming the source in FEFO
// order and mirroring each drawn lot at the destination.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.ProductID == 0 || input.DestProductID == 0 {
		return TransferResult{}, fmt.Errorf("inventory: source and destination product required: %w", shared.ErrValidation)
	}
	if input.ProductID == input.DestProductID {
		return TransferResult{}, fmt.Errorf("inventory: source and destination product must differ: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	now := s.now()
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock both rows in id order so concurrent opposite transfers cannot deadlock.
		var src, dst Product
		var err error
		if input.ProductID < input.DestProductID {
			if src, err = lockProduct(ctx, tx, input.StoreID, input.ProductID); err != nil {
				return err
			}
			if dst, err = tx.GetProductForUpdate(ctx, input.DestProductID); err != nil {
				return err
			}
		} else {
			if dst, err = tx.GetProductForUpdate(ctx, input.DestProductID); err != nil {
				return err
			}
			if src, err = lockProduct(ctx, tx, input.StoreID, input.ProductID); err != nil {
				return err
			}
		}
		allocations, err := drawFEFO(ctx, tx, src.ID, input.Quantity)
		if err != nil {
			return err
		}
		var value float64
		for _, alloc := range allocations {
			id, err := tx.InsertBatch(ctx, Batch{
				ProductID:     dst.ID,
				StoreID:       dst.StoreID,
				BatchNumber:   alloc.BatchNumber,
				Stock:         alloc.Quantity,
				ExpiryDate:    alloc.ExpiryDate,
				PurchasePrice: alloc.PurchasePrice,
				InDate:        now,
				CreatedAt:     now,
			})
			if err != nil {
				return err
			}
			result.DestinationBatches = append(result.DestinationBatches, id)
			value += float64(alloc.Quantity) * unitCost(alloc.PurchasePrice, src.PurchasePrice)
		}
		result.SourceStock = max(src.Stock-input.Quantity, 0)
		result.DestinationStock = dst.Stock + input.Quantity
		if err := tx.UpdateProductStock(ctx, src.ID, result.SourceStock); err != nil {
			return err
		}
		if err := tx.UpdateProductStock(ctx, dst.ID, result.DestinationStock); err != nil {
			return err
		}
		result.Allocations = allocations
		note := strings.TrimSpace(input.Note)
		if _, err := tx.InsertAdjustment(ctx, Adjustment{
			StoreID: src.StoreID, ProductID: src.ID, Quantity: -input.Quantity, Type: AdjustmentRemove,
			TotalValue: -value, Reason: fmt.Sprintf("transfer to product %d %s", dst.ID, note), CreatedBy: input.ActorID, CreatedAt: now,
		}); err != nil {
			return err
		}
		_, err = tx.InsertAdjustment(ctx, Adjustment{
			StoreID: dst.StoreID, ProductID: dst.ID, Quantity: input.Quantity, Type: AdjustmentAdd,
			TotalValue: value, Reason: fmt.Sprintf("transfer from product %d %s", src.ID, note), CreatedBy: input.ActorID, CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// ImportStockLevels overwrites aggregate stock directly, as legacy bulk imports
// do. Batches are not touched; the reconciler heals the resulting drift.
func (s *Service) ImportStockLevels(ctx context.Context, storeID, actorID int64, levels []StockLevel) (int, error) {
	if len(levels) == 0 {
		return 0, fmt.Errorf("inventory: at least one stock level required: %w", shared.ErrValidation)
	}
	for _, level := range levels {
		if level.ProductID == 0 || level.Stock < 0 {
			return 0, fmt.Errorf("inventory: invalid stock level for product %d: %w", level.ProductID, shared.ErrValidation)
		}
	}
	imported := 0
	for _, level := range levels {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			product, err := lockProduct(ctx, tx, storeID, level.ProductID)
			if err != nil {
				return err
			}
			return tx.UpdateProductStock(ctx, product.ID, level.Stock)
		})
		if err != nil {
			return imported, err
		}
		imported++
	}
	s.recordAudit(ctx, actorID, storeID, "inventory:IMPORT", 0, map[string]any{"rows": imported})
	return imported, nil
}

// ListBatches returns a product's batches in FEFO order.
func (s *Service) ListBatches(ctx context.Context, storeID, productID int64) ([]Batch, error) {
	if err := s.checkOwnership(ctx, storeID, productID); err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, err
	}
	SortFEFO(batches)
	return batches, nil
}

// ListAdjustments returns a product's adjustment trail, newest first.
func (s *Service) ListAdjustments(ctx context.Context, storeID, productID int64, limit int) ([]Adjustment, error) {
	if err := s.checkOwnership(ctx, storeID, productID); err != nil {
		return nil, err
	}
	return s.repo.ListAdjustments(ctx, productID, limit)
}

func (s *Service) checkOwnership(ctx context.Context, storeID, productID int64) error {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if storeID != 0 && product.StoreID != storeID {
		return ErrWrongStore
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, storeID int64, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		StoreID:  storeID,
		Action:   action,
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", productID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("inventory audit", slog.Any("error", err), slog.String("action", action))
	}
}

// lockProduct loads the product row for update and checks store ownership.
// A zero storeID skips the check (system jobs).
func lockProduct(ctx context.Context, tx TxRepository, storeID, productID int64) (Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if storeID != 0 && product.StoreID != storeID {
		return Product{}, ErrWrongStore
	}
	return product, nil
}

// drawFEFO decrements batches to cover qty and returns the allocations.
func drawFEFO(ctx context.Context, tx TxRepository, productID, qty int64) ([]Allocation, error) {
	batches, err := tx.ListBatchesForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	allocations, err := PlanConsumption(batches, qty)
	if err != nil {
		return nil, err
	}
	stock := make(map[int64]int64, len(batches))
	for _, b := range batches {
		stock[b.ID] = b.Stock
	}
	for _, alloc := range allocations {
		current, ok := stock[alloc.BatchID]
		if !ok {
			return nil, errors.New("inventory: allocation references unknown batch")
		}
		if err := tx.UpdateBatchStock(ctx, alloc.BatchID, current-alloc.Quantity); err != nil {
			return nil, err
		}
	}
	return allocations, nil
}

// unitCost returns the first positive price, or zero.
func unitCost(prices ...float64) float64 {
	for _, p := range prices {
		if p > 0 {
			return p
		}
	}
	return 0
}

func syntheticBatchNumber(prefix string, productID int64) string {
	return fmt.Sprintf("%s-%d-%s", prefix, productID, uuid.NewString()[:8])
}
