package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type Product struct {
	ID            uuid.UUID
	Name          string
	Price         int64
	StockQuantity int
	CreatedAt     time.Time
}

type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice int64
}

// Order is the storefront variant of a paid resource. Stock is decremented
// exactly once when its payment succeeds and restored exactly once on refund;
// StockDecrementedAt / StockRestoredAt are the guards for both.
type Order struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	TotalAmount        int64
	Status             OrderStatus
	Items              []OrderItem
	StockDecrementedAt *time.Time
	StockRestoredAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
