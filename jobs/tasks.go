package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile heals orphan aggregate stock into LEGACY batches.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload scopes a reconcile run. Zero values mean every store and
// every product.
type ReconcilePayload struct {
	StoreID   int64 `json:"store_id,omitempty"`
	ProductID int64 `json:"product_id,omitempty"`
}

// NewInventoryReconcileTask constructs the reconcile task.
func NewInventoryReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// CleanupPayload overrides the configured retention when non-zero.
type CleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
