package procurement

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// PaymentStatus tracks how much of a purchase order's debt is settled.
type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "UNPAID"
	PaymentPartial    PaymentStatus = "PARTIAL"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentWrittenOff PaymentStatus = "WRITTEN_OFF"
)

// NoteKind labels an entry of the payment trail.
type NoteKind string

const (
	NotePayment  NoteKind = "PAYMENT"
	NoteWriteOff NoteKind = "WRITE_OFF"
)

// PaymentNote is one append-only entry of a purchase order's debt history.
type PaymentNote struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Kind    NoteKind  `json:"kind"`
	Amount  float64   `json:"amount"`
	Note    string    `json:"note,omitempty"`
}

// PurchaseOrder carries supplier debt. RemainingAmount and PaymentStatus are
// derived from the amounts, except WRITTEN_OFF which is terminal.
type PurchaseOrder struct {
	ID              int64
	StoreID         int64
	Number          string
	SupplierName    string
	TotalAmount     float64
	AmountPaid      float64
	RemainingAmount float64
	PaymentStatus   PaymentStatus
	Notes           []PaymentNote
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// POLine is a received line of a purchase order.
type POLine struct {
	ID          int64
	POID        int64
	ProductID   int64
	BatchID     int64
	BatchNumber string
	Quantity    int64
	UnitCost    float64
	ExpiryDate  *time.Time
}

// Report aggregates supplier debt for a store. Written-off amounts never count
// as realized.
type Report struct {
	TotalBilled  float64 `json:"total_billed"`
	RealizedPaid float64 `json:"realized_paid"`
	Outstanding  float64 `json:"outstanding"`
	WrittenOff   float64 `json:"written_off"`
}

var (
	// ErrInvalidAmount indicates a non-positive payment.
	ErrInvalidAmount = fmt.Errorf("procurement: payment amount must be positive: %w", shared.ErrBusinessRule)
	// ErrAlreadyPaid indicates the order is fully settled.
	ErrAlreadyPaid = fmt.Errorf("procurement: purchase order already paid: %w", shared.ErrBusinessRule)
	// ErrWrittenOff indicates the debt was written off.
	ErrWrittenOff = fmt.Errorf("procurement: purchase order written off: %w", shared.ErrBusinessRule)
	// ErrReasonRequired indicates a write-off without a reason.
	ErrReasonRequired = fmt.Errorf("procurement: write-off reason required: %w", shared.ErrValidation)
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: purchase order: %w", shared.ErrNotFound)
	// ErrWrongStore indicates the order belongs to another store.
	ErrWrongStore = fmt.Errorf("procurement: purchase order belongs to another store: %w", shared.ErrForbidden)
)

// NewPurchaseOrder opens an unpaid order for total.
func NewPurchaseOrder(storeID int64, number, supplier string, total float64) PurchaseOrder {
	po := PurchaseOrder{StoreID: storeID, Number: number, SupplierName: supplier, TotalAmount: round2(total)}
	po.recompute()
	return po
}

// ApplyPayment settles part of the debt. AmountPaid only grows.
func (po *PurchaseOrder) ApplyPayment(amount float64, actorID int64, note string, at time.Time) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	switch po.PaymentStatus {
	case PaymentPaid:
		return ErrAlreadyPaid
	case PaymentWrittenOff:
		return ErrWrittenOff
	}
	po.AmountPaid = round2(po.AmountPaid + amount)
	po.recompute()
	po.Notes = append(po.Notes, PaymentNote{At: at, ActorID: actorID, Kind: NotePayment, Amount: round2(amount), Note: strings.TrimSpace(note)})
	po.UpdatedAt = at
	return nil
}

// WriteOff forgives the remaining debt. The order can no longer take payments.
func (po *PurchaseOrder) WriteOff(reason string, actorID int64, at time.Time) error {
	switch po.PaymentStatus {
	case PaymentPaid:
		return ErrAlreadyPaid
	case PaymentWrittenOff:
		return ErrWrittenOff
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	forgiven := po.RemainingAmount
	po.RemainingAmount = 0
	po.PaymentStatus = PaymentWrittenOff
	po.Notes = append(po.Notes, PaymentNote{At: at, ActorID: actorID, Kind: NoteWriteOff, Amount: forgiven, Note: reason})
	po.UpdatedAt = at
	return nil
}

func (po *PurchaseOrder) recompute() {
	if po.PaymentStatus == PaymentWrittenOff {
		po.RemainingAmount = 0
		return
	}
	po.RemainingAmount = math.Max(0, round2(po.TotalAmount-po.AmountPaid))
	switch {
	case po.RemainingAmount == 0:
		po.PaymentStatus = PaymentPaid
	case po.AmountPaid > 0:
		po.PaymentStatus = PaymentPartial
	default:
		po.PaymentStatus = PaymentUnpaid
	}
}

// Summarize folds orders into a Report.
func Summarize(orders []PurchaseOrder) Report {
	var r Report
	for _, po := range orders {
		r.TotalBilled += po.TotalAmount
		r.RealizedPaid += po.AmountPaid
		if po.PaymentStatus == PaymentWrittenOff {
			r.WrittenOff += math.Max(0, po.TotalAmount-po.AmountPaid)
			continue
		}
		r.Outstanding += po.RemainingAmount
	}
	r.TotalBilled = round2(r.TotalBilled)
	r.RealizedPaid = round2(r.RealizedPaid)
	r.Outstanding = round2(r.Outstanding)
	r.WrittenOff = round2(r.WrittenOff)
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
