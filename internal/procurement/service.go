package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	ListByStore(ctx context.Context, storeID int64) ([]PurchaseOrder, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	ReceiveBatch(ctx context.Context, input inventory.ReceiveBatchInput) (inventory.Batch, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase order debt.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreatePOInput describes a purchase order received in full.
type CreatePOInput struct {
	StoreID      int64
	Number       string
	SupplierName string
	ActorID      int64
	Lines        []LineInput
}

// LineInput is one received product line.
type LineInput struct {
	ProductID   int64
	BatchNumber string
	Quantity    int64
	UnitCost    float64
	ExpiryDate  *time.Time
}

// PaymentInput describes a payment against a purchase order.
type PaymentInput struct {
	StoreID int64
	POID    int64
	Amount  float64
	Note    string
	ActorID int64
}

// WriteOffInput describes a debt write-off.
type WriteOffInput struct {
	StoreID int64
	POID    int64
	Reason  string
	ActorID int64
}

// CreatePurchaseOrder totals the lines, receives each into inventory as a batch
// and opens the debt in one transaction.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, []POLine, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: at least one line required: %w", shared.ErrValidation)
	}
	var total float64
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.Quantity <= 0 || line.UnitCost < 0 {
			return PurchaseOrder{}, nil, fmt.Errorf("procurement: invalid line for product %d: %w", line.ProductID, shared.ErrValidation)
		}
		total += float64(line.Quantity) * line.UnitCost
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = generateNumber("PO")
	}
	now := s.now()

	po := NewPurchaseOrder(input.StoreID, number, strings.TrimSpace(input.SupplierName), total)
	po.CreatedBy = input.ActorID
	po.CreatedAt = now
	po.UpdatedAt = now
	var lines []POLine
	// Receipts run on the transaction's ctx, so stock and debt commit together.
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines = make([]POLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			batch, err := s.inventory.ReceiveBatch(ctx, inventory.ReceiveBatchInput{
				StoreID:       input.StoreID,
				ProductID:     line.ProductID,
				BatchNumber:   line.BatchNumber,
				Quantity:      line.Quantity,
				ExpiryDate:    line.ExpiryDate,
				PurchasePrice: line.UnitCost,
				InDate:        now,
				ActorID:       input.ActorID,
				Reason:        "purchase order " + number,
			})
			if err != nil {
				return fmt.Errorf("procurement: receive product %d: %w", line.ProductID, err)
			}
			lines = append(lines, POLine{
				ProductID:   line.ProductID,
				BatchID:     batch.ID,
				BatchNumber: batch.BatchNumber,
				Quantity:    line.Quantity,
				UnitCost:    line.UnitCost,
				ExpiryDate:  line.ExpiryDate,
			})
		}

		id, err := tx.InsertPurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range lines {
			lines[i].POID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, po.StoreID, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount})
	return po, lines, nil
}

// Get returns a purchase order of the caller's store.
func (s *Service) Get(ctx context.Context, storeID, id int64) (PurchaseOrder, []POLine, error) {
	po, lines, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	if storeID != 0 && po.StoreID != storeID {
		return PurchaseOrder{}, nil, ErrWrongStore
	}
	return po, lines, nil
}

// ApplyPayment records a payment with the order row locked.
func (s *Service) ApplyPayment(ctx context.Context, input PaymentInput) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.lock(ctx, tx, input.StoreID, input.POID)
		if err != nil {
			return err
		}
		if err := po.ApplyPayment(input.Amount, input.ActorID, input.Note, s.now()); err != nil {
			return err
		}
		updated = po
		return tx.UpdateDebt(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, updated.StoreID, "PO_PAYMENT", updated.ID, map[string]any{
		"amount":    input.Amount,
		"remaining": updated.RemainingAmount,
		"status":    updated.PaymentStatus,
	})
	return updated, nil
}

// WriteOff forgives the remaining debt with the order row locked.
func (s *Service) WriteOff(ctx context.Context, input WriteOffInput) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.lock(ctx, tx, input.StoreID, input.POID)
		if err != nil {
			return err
		}
		if err := po.WriteOff(input.Reason, input.ActorID, s.now()); err != nil {
			return err
		}
		updated = po
		return tx.UpdateDebt(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order written off", slog.Int64("po_id", updated.ID), slog.String("number", updated.Number))
	s.recordAudit(ctx, input.ActorID, updated.StoreID, "PO_WRITE_OFF", updated.ID, map[string]any{"reason": input.Reason})
	return updated, nil
}

// Report aggregates the debt position of a store.
func (s *Service) Report(ctx context.Context, storeID int64) (Report, error) {
	orders, err := s.repo.ListByStore(ctx, storeID)
	if err != nil {
		return Report{}, err
	}
	return Summarize(orders), nil
}

func (s *Service) lock(ctx context.Context, tx TxRepository, storeID, id int64) (PurchaseOrder, error) {
	po, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if storeID != 0 && po.StoreID != storeID {
		return PurchaseOrder{}, ErrWrongStore
	}
	return po, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, storeID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, StoreID: storeID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("procurement audit", slog.Any("error", err), slog.String("action", action))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
