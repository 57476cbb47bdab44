package inventory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	products    map[int64]Product
	batches     map[int64]Batch
	adjustments []Adjustment
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product), batches: make(map[int64]Batch)}
}

// WithTx restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	products := maps.Clone(r.products)
	batches := maps.Clone(r.batches)
	adjustments := slices.Clone(r.adjustments)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products, r.batches, r.adjustments = products, batches, adjustments
		return err
	}
	return nil
}

func (r *memoryRepo) GetProduct(_ context.Context, productID int64) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListProductIDs(_ context.Context, storeID int64) ([]int64, error) {
	var ids []int64
	for id, p := range r.products {
		if storeID == 0 || p.StoreID == storeID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memoryRepo) ListBatches(_ context.Context, productID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListAdjustments(_ context.Context, productID int64, limit int) ([]Adjustment, error) {
	var out []Adjustment
	for i := len(r.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
		if r.adjustments[i].ProductID == productID {
			out = append(out, r.adjustments[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) addProduct(p Product) Product {
	r.nextID++
	p.ID = r.nextID
	if p.StoreID == 0 {
		p.StoreID = 1
	}
	r.products[p.ID] = p
	return p
}

func (r *memoryRepo) addBatch(b Batch) Batch {
	r.nextID++
	b.ID = r.nextID
	r.batches[b.ID] = b
	return b
}

func (r *memoryRepo) batchTotal(productID int64) int64 {
	batches, _ := r.ListBatches(context.Background(), productID)
	return BatchStock(batches)
}

func (tx *memoryTx) GetProductForUpdate(_ context.Context, productID int64) (Product, error) {
	return tx.repo.GetProduct(context.Background(), productID)
}

func (tx *memoryTx) ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	return tx.repo.ListBatches(ctx, productID)
}

func (tx *memoryTx) GetBatchForUpdate(_ context.Context, batchID int64) (Batch, error) {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (tx *memoryTx) InsertBatch(_ context.Context, b Batch) (int64, error) {
	return tx.repo.addBatch(b).ID, nil
}

func (tx *memoryTx) UpdateBatchStock(_ context.Context, batchID, stock int64) error {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Stock = stock
	tx.repo.batches[batchID] = b
	return nil
}

func (tx *memoryTx) UpdateProductStock(_ context.Context, productID, stock int64) error {
	p, ok := tx.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) InsertAdjustment(_ context.Context, adj Adjustment) (int64, error) {
	tx.repo.nextID++
	adj.ID = tx.repo.nextID
	tx.repo.adjustments = append(tx.repo.adjustments, adj)
	return adj.ID, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestConsumeSaleDrawsFEFOWithoutAdjustment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Name: "Milk", Stock: 15})
	early := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 5, ExpiryDate: date("2024-01-10")})
	late := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 5, ExpiryDate: date("2024-02-01")})
	undated := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 5})

	res, err := svc.ConsumeSale(context.Background(), SaleInput{StoreID: 1, ProductID: p.ID, Quantity: 7})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	require.EqualValues(t, 8, res.RemainingStock)
	require.EqualValues(t, 0, repo.batches[early.ID].Stock)
	require.EqualValues(t, 3, repo.batches[late.ID].Stock)
	require.EqualValues(t, 5, repo.batches[undated.ID].Stock)
	require.EqualValues(t, 8, repo.products[p.ID].Stock)
	require.Empty(t, repo.adjustments)
}

func TestConsumeSaleFailsWhenBatchesCannotCover(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Name: "Bread", Stock: 100})
	b := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 20})

	_, err := svc.ConsumeSale(context.Background(), SaleInput{StoreID: 1, ProductID: p.ID, Quantity: 30})
	require.ErrorIs(t, err, ErrInsufficientBatchStock)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	require.EqualValues(t, 100, repo.products[p.ID].Stock)
	require.EqualValues(t, 20, repo.batches[b.ID].Stock)
}

func TestConsumeSaleToleratesAggregateBelowBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Name: "Eggs", Stock: 5})
	b := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 10})

	res, err := svc.ConsumeSale(context.Background(), SaleInput{StoreID: 1, ProductID: p.ID, Quantity: 7})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.RemainingStock)
	require.EqualValues(t, 0, repo.products[p.ID].Stock)
	require.EqualValues(t, 3, repo.batches[b.ID].Stock)
}

func TestConsumeSaleRejectsOtherStore(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{StoreID: 2, Stock: 5})
	repo.addBatch(Batch{ProductID: p.ID, StoreID: 2, Stock: 5})

	_, err := svc.ConsumeSale(context.Background(), SaleInput{StoreID: 1, ProductID: p.ID, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecordAdjustmentSignsAndValues(t *testing.T) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()
	p := repo.addProduct(Product{Name: "Rice", Stock: 10, PurchasePrice: 2000})
	b := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 10, PurchasePrice: 2500})

	entry, err := svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, BatchID: &b.ID, Quantity: 3, Type: AdjustmentLoss, Reason: "damaged", ActorID: 9})
	require.NoError(t, err)
	require.EqualValues(t, -3, entry.Quantity)
	require.InDelta(t, -7500.0, entry.TotalValue, 0.001)
	require.EqualValues(t, 7, repo.batches[b.ID].Stock)
	require.EqualValues(t, 7, repo.products[p.ID].Stock)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:LOSS", audit.logs[0].Action)

	entry, err = svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, Quantity: 4, Type: AdjustmentCorrection})
	require.NoError(t, err)
	require.EqualValues(t, 4, entry.Quantity)
	require.NotNil(t, entry.BatchID)
	require.True(t, strings.HasPrefix(repo.batches[*entry.BatchID].BatchNumber, "ADJ-"))
	require.InDelta(t, 8000.0, entry.TotalValue, 0.001)
	require.EqualValues(t, 11, repo.products[p.ID].Stock)
	require.EqualValues(t, 11, repo.batchTotal(p.ID))
}

func TestRecordAdjustmentDecreaseWithoutBatchConsumesFEFO(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Stock: 10})
	soon := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 4, ExpiryDate: date("2024-03-01")})
	later := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 6, ExpiryDate: date("2024-06-01")})

	entry, err := svc.RecordAdjustment(context.Background(), AdjustmentInput{StoreID: 1, ProductID: p.ID, Quantity: 5, Type: AdjustmentRemove})
	require.NoError(t, err)
	require.Nil(t, entry.BatchID)
	require.EqualValues(t, 0, repo.batches[soon.ID].Stock)
	require.EqualValues(t, 5, repo.batches[later.ID].Stock)
	require.EqualValues(t, 5, repo.products[p.ID].Stock)
}

func TestRecordAdjustmentValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	p := repo.addProduct(Product{Stock: 2})
	b := repo.addBatch(Batch{ProductID: p.ID, StoreID: 1, Stock: 2})

	_, err := svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, Quantity: 0, Type: AdjustmentAdd})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, Quantity: 1, Type: "STEAL"})
	require.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, Quantity: 3, Type: AdjustmentLoss})
	require.ErrorIs(t, err, ErrNegativeStock)

	repo.products[p.ID] = Product{ID: p.ID, StoreID: 1, Stock: 10}
	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{StoreID: 1, ProductID: p.ID, BatchID: &b.ID, Quantity: 3, Type: AdjustmentLoss})
	require.ErrorIs(t, err, ErrInsufficientBatchStock)
	require.EqualValues(t, 10, repo.products[p.ID].Stock)
	require.Empty(t, repo.adjustments)
}

func TestReceiveBatchAddsStockAndEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Stock: 0})

	batch, err := svc.ReceiveBatch(context.Background(), ReceiveBatchInput{StoreID: 1, ProductID: p.ID, BatchNumber: "GRN-1", Quantity: 12, PurchasePrice: 500, ExpiryDate: date("2025-01-01")})
	require.NoError(t, err)
	require.NotZero(t, batch.ID)
	require.EqualValues(t, 12, repo.products[p.ID].Stock)
	require.EqualValues(t, 12, repo.batchTotal(p.ID))
	require.Len(t, repo.adjustments, 1)
	require.Equal(t, AdjustmentAdd, repo.adjustments[0].Type)
	require.InDelta(t, 6000.0, repo.adjustments[0].TotalValue, 0.001)

	_, err = svc.ReceiveBatch(context.Background(), ReceiveBatchInput{StoreID: 1, ProductID: p.ID, Quantity: 1, PurchasePrice: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestTransferMirrorsBatchesAtDestination(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	src := repo.addProduct(Product{StoreID: 1, Stock: 8})
	dst := repo.addProduct(Product{StoreID: 2, Stock: 1})
	repo.addBatch(Batch{ProductID: dst.ID, StoreID: 2, Stock: 1})
	repo.addBatch(Batch{ProductID: src.ID, StoreID: 1, BatchNumber: "A", Stock: 3, ExpiryDate: date("2024-05-01"), PurchasePrice: 10})
	repo.addBatch(Batch{ProductID: src.ID, StoreID: 1, BatchNumber: "B", Stock: 5, ExpiryDate: date("2024-09-01"), PurchasePrice: 20})

	res, err := svc.Transfer(context.Background(), TransferInput{StoreID: 1, ProductID: src.ID, DestProductID: dst.ID, Quantity: 4})
	require.NoError(t, err)
	require.EqualValues(t, 4, res.SourceStock)
	require.EqualValues(t, 5, res.DestinationStock)
	require.Len(t, res.DestinationBatches, 2)
	first := repo.batches[res.DestinationBatches[0]]
	require.Equal(t, "A", first.BatchNumber)
	require.EqualValues(t, 3, first.Stock)
	require.Equal(t, date("2024-05-01"), first.ExpiryDate)
	require.EqualValues(t, repo.products[src.ID].Stock, repo.batchTotal(src.ID))
	require.EqualValues(t, repo.products[dst.ID].Stock, repo.batchTotal(dst.ID))
	require.Len(t, repo.adjustments, 2)
	require.InDelta(t, -50.0, repo.adjustments[0].TotalValue, 0.001)
	require.InDelta(t, 50.0, repo.adjustments[1].TotalValue, 0.001)
}

func TestTransferToleratesAggregateBelowBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	src := repo.addProduct(Product{StoreID: 1, Stock: 2})
	dst := repo.addProduct(Product{StoreID: 2})
	repo.addBatch(Batch{ProductID: src.ID, StoreID: 1, BatchNumber: "A", Stock: 6})

	res, err := svc.Transfer(context.Background(), TransferInput{StoreID: 1, ProductID: src.ID, DestProductID: dst.ID, Quantity: 4})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.SourceStock)
	require.EqualValues(t, 4, res.DestinationStock)
	require.EqualValues(t, 2, repo.batchTotal(src.ID))

	_, err = svc.Transfer(context.Background(), TransferInput{StoreID: 1, ProductID: src.ID, DestProductID: dst.ID, Quantity: 3})
	require.ErrorIs(t, err, ErrInsufficientBatchStock)
}

func TestImportStockLevelsBypassesBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	p := repo.addProduct(Product{Stock: 0})

	n, err := svc.ImportStockLevels(context.Background(), 1, 1, []StockLevel{{ProductID: p.ID, Stock: 40}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 40, repo.products[p.ID].Stock)
	require.EqualValues(t, 0, repo.batchTotal(p.ID))

	_, err = svc.ImportStockLevels(context.Background(), 1, 1, []StockLevel{{ProductID: p.ID, Stock: -1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
