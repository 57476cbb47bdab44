package procurement

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryProcRepo struct {
	pos         map[int64]PurchaseOrder
	lines       map[int64][]POLine
	nextID      int64
	failInserts int
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

// unitKey marks ctx as running inside memoryProcRepo.WithTx.
type unitKey struct{}

type memoryUnit struct {
	onCommit []func()
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{pos: make(map[int64]PurchaseOrder), lines: make(map[int64][]POLine)}
}

// WithTx restores the previous state when fn fails and applies work joined
// through ctx only on success.
func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	pos, lines, nextID := maps.Clone(r.pos), maps.Clone(r.lines), r.nextID
	unit := &memoryUnit{}
	if err := fn(context.WithValue(ctx, unitKey{}, unit), &memoryProcTx{repo: r}); err != nil {
		r.pos, r.lines, r.nextID = pos, lines, nextID
		return err
	}
	for _, apply := range unit.onCommit {
		apply()
	}
	return nil
}

func (r *memoryProcRepo) Get(_ context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, slices.Clone(r.lines[id]), nil
}

func (r *memoryProcRepo) ListByStore(_ context.Context, storeID int64) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range r.pos {
		if po.StoreID == storeID {
			out = append(out, po)
		}
	}
	return out, nil
}

func (tx *memoryProcTx) InsertPurchaseOrder(_ context.Context, po PurchaseOrder) (int64, error) {
	if tx.repo.failInserts > 0 {
		tx.repo.failInserts--
		return 0, errors.New("connection reset by peer")
	}
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	tx.repo.pos[po.ID] = po
	return po.ID, nil
}

func (tx *memoryProcTx) InsertLine(_ context.Context, line POLine) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.POID] = append(tx.repo.lines[line.POID], line)
	return line.ID, nil
}

func (tx *memoryProcTx) GetForUpdate(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	po.Notes = slices.Clone(po.Notes)
	return po, nil
}

func (tx *memoryProcTx) UpdateDebt(_ context.Context, po PurchaseOrder) error {
	if _, ok := tx.repo.pos[po.ID]; !ok {
		return ErrNotFound
	}
	tx.repo.pos[po.ID] = po
	return nil
}

type fakeInventory struct {
	received []inventory.ReceiveBatchInput
	attempts int
	fail     error
}

// ReceiveBatch only lands once the enclosing purchase order commits.
func (f *fakeInventory) ReceiveBatch(ctx context.Context, input inventory.ReceiveBatchInput) (inventory.Batch, error) {
	if f.fail != nil {
		return inventory.Batch{}, f.fail
	}
	unit, ok := ctx.Value(unitKey{}).(*memoryUnit)
	if !ok {
		return inventory.Batch{}, errors.New("receipt outside purchase order transaction")
	}
	f.attempts++
	unit.onCommit = append(unit.onCommit, func() { f.received = append(f.received, input) })
	return inventory.Batch{ID: int64(100 + f.attempts), ProductID: input.ProductID, BatchNumber: input.BatchNumber, Stock: input.Quantity}, nil
}

func TestCreatePurchaseOrderReceivesLines(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &fakeInventory{}
	svc := NewService(repo, inv, nil, nil)

	po, lines, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		StoreID:      3,
		SupplierName: "Acme",
		ActorID:      9,
		Lines: []LineInput{
			{ProductID: 1, BatchNumber: "L1", Quantity: 10, UnitCost: 1.5},
			{ProductID: 2, BatchNumber: "L2", Quantity: 4, UnitCost: 25},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 115.0, po.TotalAmount)
	require.Equal(t, PaymentUnpaid, po.PaymentStatus)
	require.Len(t, inv.received, 2)
	require.EqualValues(t, 3, inv.received[0].StoreID)
	require.Equal(t, 1.5, inv.received[0].PurchasePrice)
	require.Len(t, lines, 2)
	require.EqualValues(t, 101, lines[0].BatchID)
	require.Equal(t, po.ID, lines[1].POID)
}

func TestCreatePurchaseOrderRetryAfterInsertFailureReceivesOnce(t *testing.T) {
	repo := newMemoryProcRepo()
	repo.failInserts = 1
	inv := &fakeInventory{}
	svc := NewService(repo, inv, nil, nil)
	input := CreatePOInput{
		StoreID: 1,
		Number:  "PO-7",
		Lines: []LineInput{
			{ProductID: 1, Quantity: 10, UnitCost: 2},
			{ProductID: 2, Quantity: 5, UnitCost: 4},
		},
	}

	_, _, err := svc.CreatePurchaseOrder(context.Background(), input)
	require.Error(t, err)
	require.Empty(t, inv.received)
	require.Empty(t, repo.pos)

	po, lines, err := svc.CreatePurchaseOrder(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, inv.received, 2)
	require.Len(t, lines, 2)
	require.Len(t, repo.pos, 1)
	require.Equal(t, 40.0, po.TotalAmount)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	inv := &fakeInventory{}
	svc := NewService(newMemoryProcRepo(), inv, nil, nil)

	_, _, err := svc.CreatePurchaseOrder(context.Background(), CreatePOInput{StoreID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.CreatePurchaseOrder(context.Background(), CreatePOInput{StoreID: 1, Lines: []LineInput{{ProductID: 1, Quantity: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, inv.received)

	inv.fail = inventory.ErrProductNotFound
	_, _, err = svc.CreatePurchaseOrder(context.Background(), CreatePOInput{StoreID: 1, Lines: []LineInput{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServicePaymentAndWriteOff(t *testing.T) {
	repo := newMemoryProcRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, &fakeInventory{}, audit, nil)
	ctx := context.Background()
	po, _, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{StoreID: 1, SupplierName: "Acme", Lines: []LineInput{{ProductID: 1, Quantity: 10, UnitCost: 100}}})
	require.NoError(t, err)

	updated, err := svc.ApplyPayment(ctx, PaymentInput{StoreID: 1, POID: po.ID, Amount: 400, ActorID: 2})
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, updated.PaymentStatus)
	require.Equal(t, 600.0, repo.pos[po.ID].RemainingAmount)

	_, err = svc.ApplyPayment(ctx, PaymentInput{StoreID: 2, POID: po.ID, Amount: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.ApplyPayment(ctx, PaymentInput{StoreID: 1, POID: po.ID, Amount: -1})
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, 400.0, repo.pos[po.ID].AmountPaid)

	written, err := svc.WriteOff(ctx, WriteOffInput{StoreID: 1, POID: po.ID, Reason: "dispute", ActorID: 2})
	require.NoError(t, err)
	require.Equal(t, PaymentWrittenOff, written.PaymentStatus)

	_, err = svc.ApplyPayment(ctx, PaymentInput{StoreID: 1, POID: po.ID, Amount: 10})
	require.ErrorIs(t, err, ErrWrittenOff)

	report, err := svc.Report(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Report{TotalBilled: 1000, RealizedPaid: 400, Outstanding: 0, WrittenOff: 600}, report)

	actions := make([]string, 0, len(audit.logs))
	for _, l := range audit.logs {
		actions = append(actions, l.Action)
	}
	require.Equal(t, []string{"PO_CREATE", "PO_PAYMENT", "PO_WRITE_OFF"}, actions)

	_, _, err = svc.Get(ctx, 1, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
