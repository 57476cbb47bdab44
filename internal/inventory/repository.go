package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the row-level operations of one unit of work.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (Product, error)
	ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatchStock(ctx context.Context, batchID, stock int64) error
	UpdateProductStock(ctx context.Context, productID, stock int64) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction, joining
// one already carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `id, store_id, name, sku, stock, threshold, expiry_date, purchase_price, average_cost, selling_price, updated_at`

const batchColumns = `id, product_id, store_id, batch_number, stock, expiry_date, purchase_price, in_date, created_at`

const adjustmentColumns = `id, store_id, product_id, batch_id, quantity, type, total_value, reason, created_by, created_at`

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	return scanProduct(row)
}

// ListProductIDs returns the product ids of a store, or of every store when
// storeID is zero.
func (r *Repository) ListProductIDs(ctx context.Context, storeID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE ($1::bigint = 0 OR store_id = $1) ORDER BY id`, storeID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list products: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("inventory: list products: %w", err)
	}
	return ids, nil
}

// ListBatches returns the batches of a product in FEFO order.
func (r *Repository) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM product_batches
		WHERE product_id = $1
		ORDER BY expiry_date ASC NULLS LAST, created_at DESC, id DESC`, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListAdjustments returns the adjustment trail of a product, newest first.
func (r *Repository) ListAdjustments(ctx context.Context, productID int64, limit int) ([]Adjustment, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+adjustmentColumns+` FROM stock_adjustments
		WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: list adjustments: %w", err)
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var adj Adjustment
		var adjType string
		if err := rows.Scan(&adj.ID, &adj.StoreID, &adj.ProductID, &adj.BatchID, &adj.Quantity, &adjType,
			&adj.TotalValue, &adj.Reason, &adj.CreatedBy, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adj.Type = AdjustmentType(adjType)
		out = append(out, adj)
	}
	return out, rows.Err()
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID)
	return scanProduct(row)
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM product_batches
		WHERE product_id = $1
		ORDER BY expiry_date ASC NULLS LAST, created_at DESC, id DESC
		FOR UPDATE`, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM product_batches WHERE id = $1 FOR UPDATE`, batchID)
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.StoreID, &b.BatchNumber, &b.Stock, &b.ExpiryDate, &b.PurchasePrice, &b.InDate, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO product_batches
		(product_id, store_id, batch_number, stock, expiry_date, purchase_price, in_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		b.ProductID, b.StoreID, b.BatchNumber, b.Stock, b.ExpiryDate, b.PurchasePrice, b.InDate, b.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert batch: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdateBatchStock(ctx context.Context, batchID, stock int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE product_batches SET stock = $2 WHERE id = $1`, batchID, stock)
	return err
}

func (r *txRepository) UpdateProductStock(ctx context.Context, productID, stock int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, productID, stock, time.Now().UTC())
	return err
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments
		(store_id, product_id, batch_id, quantity, type, total_value, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		adj.StoreID, adj.ProductID, adj.BatchID, adj.Quantity, string(adj.Type), adj.TotalValue,
		adj.Reason, adj.CreatedBy, adj.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert adjustment: %w", err)
	}
	return id, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.Stock, &p.Threshold, &p.ExpiryDate,
		&p.PurchasePrice, &p.AverageCost, &p.SellingPrice, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.StoreID, &b.BatchNumber, &b.Stock, &b.ExpiryDate,
			&b.PurchasePrice, &b.InDate, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
