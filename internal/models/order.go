package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of a placed order. Price is the unit price captured
// when the order was placed and never follows later catalog changes.
type OrderItem struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	OrderID   uint            `json:"order_id" gorm:"not null;index"`
	ProductID uint            `json:"product_id" gorm:"not null;index"`
	Quantity  int             `json:"quantity" gorm:"not null;check:chk_order_items_quantity,quantity > 0"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
}

// Subtotal returns price × quantity for the line.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order. Orders are written once, together with
// their items and the stock decrements, and are never updated afterwards.
type Order struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	UserID    uint            `json:"user_id" gorm:"not null;index"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(14,2);not null"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// OrderItemRequest is a raw (product, quantity) pair as sent by the caller.
// The same product may appear more than once.
type OrderItemRequest struct {
	ProductID uint `json:"product_id" validate:"required"`
	Quantity  int  `json:"quantity" validate:"required,gt=0"`
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}
