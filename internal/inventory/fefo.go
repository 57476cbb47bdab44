package inventory

import (
	"slices"
)

// SortFEFO orders batches for consumption: expiry ascending with undated lots
// last, then the most recently created lot first.
func SortFEFO(batches []Batch) {
	slices.SortStableFunc(batches, compareFEFO)
}

func compareFEFO(a, b Batch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return 1
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// PlanConsumption selects batches in FEFO order to cover qty. The input slice
// is not modified.
func PlanConsumption(batches []Batch, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	ordered := make([]Batch, 0, len(batches))
	var available int64
	for _, b := range batches {
		if b.Stock <= 0 {
			continue
		}
		ordered = append(ordered, b)
		available += b.Stock
	}
	if available < qty {
		return nil, ErrInsufficientBatchStock
	}
	SortFEFO(ordered)

	remaining := qty
	allocations := make([]Allocation, 0, len(ordered))
	for _, b := range ordered {
		if remaining == 0 {
			break
		}
		used := min(remaining, b.Stock)
		allocations = append(allocations, Allocation{
			BatchID:       b.ID,
			BatchNumber:   b.BatchNumber,
			Quantity:      used,
			ExpiryDate:    b.ExpiryDate,
			PurchasePrice: b.PurchasePrice,
		})
		remaining -= used
	}
	return allocations, nil
}

// BatchStock sums the positive stock across batches.
func BatchStock(batches []Batch) int64 {
	var total int64
	for _, b := range batches {
		if b.Stock > 0 {
			total += b.Stock
		}
	}
	return total
}
