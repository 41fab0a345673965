package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/RajaSunrise/toko-order/internal/models"
)

// NormalizedLine is one distinct product with the summed requested quantity.
type NormalizedLine struct {
	ProductID uint
	Quantity  int
}

// NormalizeItems merges duplicate products into a single line and returns the
// lines sorted by ascending product id.
func NormalizeItems(items []models.OrderItemRequest) ([]NormalizedLine, error) {
	if len(items) == 0 {
		return nil, &InvalidOrderError{Reason: "order items required"}
	}

	qtyByProduct := make(map[uint]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, &InvalidOrderError{
				Reason: fmt.Sprintf("quantity for product %d must be greater than zero", it.ProductID),
			}
		}
		if qtyByProduct[it.ProductID] > math.MaxInt-it.Quantity {
			return nil, &InvalidOrderError{
				Reason: fmt.Sprintf("total quantity for product %d is too large", it.ProductID),
			}
		}
		qtyByProduct[it.ProductID] += it.Quantity
	}

	lines := make([]NormalizedLine, 0, len(qtyByProduct))
	for productID, quantity := range qtyByProduct {
		lines = append(lines, NormalizedLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}
