package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-pos/internal/events"
)

const legacyReason = "legacy stock reconciliation"

// Reconciler heals products whose aggregate stock exceeds their batch total by
// materialising the difference as a LEGACY batch.
type Reconciler struct {
	repo   RepositoryPort
	sink   events.Sink
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewReconciler wires the reconciler.
func NewReconciler(repo RepositoryPort, sink events.Sink, logger *slog.Logger) *Reconciler {
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, sink: sink, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Reconcile scans a single product when productID is non-zero, otherwise every
// product of storeID (zero means all stores). Concurrent calls for the same
// scope share one run.
func (r *Reconciler) Reconcile(ctx context.Context, storeID, productID int64) (Summary, error) {
	key := fmt.Sprintf("%d:%d", storeID, productID)
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		// The shared run must not die with the first caller's request.
		return r.run(context.WithoutCancel(ctx), storeID, productID)
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

func (r *Reconciler) run(ctx context.Context, storeID, productID int64) (Summary, error) {
	summary := Summary{Healed: []HealedProduct{}}
	if productID != 0 {
		summary.Scanned = 1
		healed, ok, err := r.healProduct(ctx, storeID, productID)
		if err != nil {
			return Summary{}, err
		}
		if ok {
			summary.Healed = append(summary.Healed, healed)
			summary.Count = 1
		}
		return summary, nil
	}

	ids, err := r.repo.ListProductIDs(ctx, storeID)
	if err != nil {
		return Summary{}, fmt.Errorf("list products: %w", err)
	}
	for _, id := range ids {
		summary.Scanned++
		healed, ok, err := r.healProduct(ctx, storeID, id)
		if err != nil {
			summary.Failed++
			r.logger.Warn("reconcile product failed", slog.Int64("product_id", id), slog.Any("error", err))
			continue
		}
		if ok {
			summary.Healed = append(summary.Healed, healed)
		}
	}
	summary.Count = len(summary.Healed)
	r.logger.Info("reconcile complete",
		slog.Int64("store_id", storeID),
		slog.Int("scanned", summary.Scanned),
		slog.Int("healed", summary.Count),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// healProduct locks one product and materialises its orphan stock. It reports
// false when the product needs no healing.
func (r *Reconciler) healProduct(ctx context.Context, storeID, productID int64) (HealedProduct, bool, error) {
	var healed HealedProduct
	var product Product
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		product, err = lockProduct(ctx, tx, storeID, productID)
		if err != nil {
			return err
		}
		batches, err := tx.ListBatchesForUpdate(ctx, product.ID)
		if err != nil {
			return err
		}
		orphan := product.Stock - BatchStock(batches)
		if orphan <= 0 {
			return errNothingToHeal
		}
		now := r.now()
		cost := unitCost(product.PurchasePrice, product.AverageCost, product.SellingPrice)
		batch := Batch{
			ProductID:     product.ID,
			StoreID:       product.StoreID,
			BatchNumber:   syntheticBatchNumber("LEGACY", product.ID),
			Stock:         orphan,
			ExpiryDate:    product.ExpiryDate,
			PurchasePrice: cost,
			InDate:        now,
			CreatedAt:     now,
		}
		batchID, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAdjustment(ctx, Adjustment{
			StoreID:    product.StoreID,
			ProductID:  product.ID,
			BatchID:    &batchID,
			Quantity:   orphan,
			Type:       AdjustmentCorrection,
			TotalValue: float64(orphan) * cost,
			Reason:     legacyReason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		healed = HealedProduct{
			ProductID:   product.ID,
			Name:        product.Name,
			OrphanStock: orphan,
			BatchID:     batchID,
			BatchNumber: batch.BatchNumber,
		}
		return nil
	})
	if errors.Is(err, errNothingToHeal) {
		return HealedProduct{}, false, nil
	}
	if err != nil {
		return HealedProduct{}, false, err
	}
	if err := r.sink.Publish(ctx, events.LedgerHealed(product.StoreID, product.ID, product.Name, healed.OrphanStock)); err != nil {
		r.logger.Warn("publish ledger healed", slog.Any("error", err))
	}
	return healed, true, nil
}

// errNothingToHeal rolls back the read-only transaction of a balanced product.
var errNothingToHeal = errors.New("inventory: nothing to heal")
