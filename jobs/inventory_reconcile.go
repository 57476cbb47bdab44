package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

// Reconciler is the inventory reconciliation entry point.
type Reconciler interface {
	Reconcile(ctx context.Context, storeID, productID int64) (inventory.Summary, error)
}

// InventoryReconcileJob runs the batch ledger reconciliation on schedule.
type InventoryReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewInventoryReconcileJob wires the reconcile handler.
func NewInventoryReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryReconcileJob {
	return &InventoryReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle executes one reconciliation pass.
func (j *InventoryReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskInventoryReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("store_id", payload.StoreID))
	summary, err := j.Reconciler.Reconcile(ctx, payload.StoreID, payload.ProductID)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return err
	}
	var units int64
	for _, h := range summary.Healed {
		units += h.OrphanStock
	}
	j.metrics().AddHealed(payload.StoreID, units)
	if summary.Failed > 0 {
		logger.Warn("reconcile skipped products", slog.Int("failed", summary.Failed))
	}
	logger.Info("completed reconcile",
		slog.Int("scanned", summary.Scanned),
		slog.Int("healed", summary.Count),
		slog.Int64("units", units),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *InventoryReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryReconcile))
	}
	return slog.Default().With(slog.String("job", TaskInventoryReconcile))
}

func (j *InventoryReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
