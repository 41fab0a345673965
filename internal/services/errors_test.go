package services_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/RajaSunrise/toko-order/internal/services"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("disk full")
	cases := []struct {
		err  error
		kind services.ErrorKind
		name string
	}{
		{&services.InvalidOrderError{Reason: "empty"}, services.KindInvalidOrder, "INVALID_ORDER"},
		{&services.ProductNotFoundError{IDs: []uint{1}}, services.KindProductNotFound, "PRODUCT_NOT_FOUND"},
		{&services.OutOfStockError{ProductID: 1}, services.KindOutOfStock, "OUT_OF_STOCK"},
		{&services.PersistenceError{Op: "commit", Err: cause}, services.KindPersistence, "PERSISTENCE_ERROR"},
		{fmt.Errorf("wrapped: %w", &services.OutOfStockError{ProductID: 2}), services.KindOutOfStock, "OUT_OF_STOCK"},
		{cause, services.KindUnknown, "UNKNOWN"},
		{nil, services.KindUnknown, "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, services.KindOf(tc.err), "%v", tc.err)
		assert.Equal(t, tc.name, services.KindOf(tc.err).String())
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "products not found: 1, 3", (&services.ProductNotFoundError{IDs: []uint{1, 3}}).Error())
	assert.Equal(t, "insufficient stock for product 4", (&services.OutOfStockError{ProductID: 4}).Error())
	assert.Equal(t, "invalid order: order items required", (&services.InvalidOrderError{Reason: "order items required"}).Error())

	cause := errors.New("deadlock detected")
	pe := &services.PersistenceError{Op: "reserve stock", Err: cause}
	assert.Equal(t, "persistence failure during reserve stock: deadlock detected", pe.Error())
	assert.ErrorIs(t, pe, cause)
}
