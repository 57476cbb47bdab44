package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// Repository provides persistence for purchase order debt.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository describes transactional operations.
type TxRepository interface {
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line POLine) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdateDebt(ctx context.Context, po PurchaseOrder) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction. Inventory writes made
// with the callback's ctx share it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, store_id, number, supplier_name, total_amount, amount_paid, remaining_amount, payment_status, notes, created_by, created_at, updated_at`

// Get returns a purchase order and its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, product_id, batch_id, batch_number, quantity, unit_cost, expiry_date
FROM purchase_order_lines WHERE po_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.ProductID, &l.BatchID, &l.BatchNumber, &l.Quantity, &l.UnitCost, &l.ExpiryDate); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return po, lines, rows.Err()
}

// ListByStore returns every purchase order of a store.
func (r *Repository) ListByStore(ctx context.Context, storeID int64) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE store_id = $1 ORDER BY id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

func (tx *txRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	notes, err := json.Marshal(notesOrEmpty(po.Notes))
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (store_id, number, supplier_name, total_amount, amount_paid, remaining_amount, payment_status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		po.StoreID, po.Number, po.SupplierName, po.TotalAmount, po.AmountPaid, po.RemainingAmount, po.PaymentStatus, notes, po.CreatedBy, po.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, product_id, batch_id, batch_number, quantity, unit_cost, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.POID, line.ProductID, line.BatchID, line.BatchNumber, line.Quantity, line.UnitCost, line.ExpiryDate).Scan(&id)
	return id, err
}

func (tx *txRepo) GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(tx.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
}

func (tx *txRepo) UpdateDebt(ctx context.Context, po PurchaseOrder) error {
	notes, err := json.Marshal(notesOrEmpty(po.Notes))
	if err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders
SET amount_paid = $2, remaining_amount = $3, payment_status = $4, notes = $5, updated_at = $6
WHERE id = $1`, po.ID, po.AmountPaid, po.RemainingAmount, po.PaymentStatus, notes, po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var notes []byte
	err := row.Scan(&po.ID, &po.StoreID, &po.Number, &po.SupplierName, &po.TotalAmount, &po.AmountPaid,
		&po.RemainingAmount, &po.PaymentStatus, &notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &po.Notes); err != nil {
			return PurchaseOrder{}, fmt.Errorf("decode notes: %w", err)
		}
	}
	return po, nil
}

func notesOrEmpty(notes []PaymentNote) []PaymentNote {
	if notes == nil {
		return []PaymentNote{}
	}
	return notes
}
