package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

func SeedBooking(t *testing.T, db *sql.DB, clientID, providerID uuid.UUID) *domain.Booking {
	t.Helper()

	b := &domain.Booking{
		ID:         uuid.New(),
		ClientID:   clientID,
		ProviderID: providerID,
		ServiceID:  uuid.New(),
		Status:     domain.BookingStatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO bookings (id, client_id, provider_id, service_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.ClientID, b.ProviderID, b.ServiceID, b.Status, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func SeedProduct(t *testing.T, db *sql.DB, name string, price int64, stock int) *domain.Product {
	t.Helper()

	p := &domain.Product{
		ID:            uuid.New(),
		Name:          name,
		Price:         price,
		StockQuantity: stock,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO products (id, name, price, stock_quantity, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Price, p.StockQuantity, p.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return p
}

func SeedOrder(t *testing.T, db *sql.DB, userID uuid.UUID, items []domain.OrderItem) *domain.Order {
	t.Helper()

	var total int64
	for _, item := range items {
		total += item.UnitPrice * int64(item.Quantity)
	}

	o := &domain.Order{
		ID:          uuid.New(),
		UserID:      userID,
		TotalAmount: total,
		Status:      domain.OrderStatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, o.TotalAmount, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}

	for i := range items {
		items[i].ID = uuid.New()
		items[i].OrderID = o.ID
		_, err := db.Exec(
			`INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			items[i].ID, items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice,
		)
		if err != nil {
			t.Fatalf("seed order item: %v", err)
		}
	}
	o.Items = items

	return o
}

// SeedPayment inserts a payment in the given status with a valid fee split.
// Exactly one of bookingID / orderID must be non-nil, same as production.
func SeedPayment(t *testing.T, db *sql.DB, bookingID, orderID *uuid.UUID, amount int64, status domain.PaymentStatus) *domain.Payment {
	t.Helper()

	commission := amount * 15 / 100
	fee := amount*29/1000 + 30
	p := &domain.Payment{
		ID:                  uuid.New(),
		BookingID:           bookingID,
		OrderID:             orderID,
		Amount:              amount,
		Currency:            domain.CurrencyUSD,
		Status:              status,
		ExternalReferenceID: "auth_" + uuid.NewString(),
		Commission:          commission,
		ProcessingFee:       fee,
		ProviderAmount:      amount - commission - fee,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	if status == domain.PaymentStatusSucceeded || status == domain.PaymentStatusRefunded {
		now := time.Now().UTC()
		p.SucceededAt = &now
	}

	_, err := db.Exec(
		`INSERT INTO payments (id, booking_id, order_id, amount, currency, status,
			external_reference_id, commission, processing_fee, provider_amount,
			created_at, updated_at, succeeded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.BookingID, p.OrderID, p.Amount, p.Currency, p.Status,
		p.ExternalReferenceID, p.Commission, p.ProcessingFee, p.ProviderAmount,
		p.CreatedAt, p.UpdatedAt, p.SucceededAt,
	)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func GetPaymentStatus(t *testing.T, db *sql.DB, paymentID uuid.UUID) domain.PaymentStatus {
	t.Helper()

	var status domain.PaymentStatus
	if err := db.QueryRow(`SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&status); err != nil {
		t.Fatalf("get payment status %s: %v", paymentID, err)
	}
	return status
}

func GetProductStock(t *testing.T, db *sql.DB, productID uuid.UUID) int {
	t.Helper()

	var stock int
	if err := db.QueryRow(`SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("get product stock %s: %v", productID, err)
	}
	return stock
}

func CountLedgerEntries(t *testing.T, db *sql.DB, paymentID uuid.UUID) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE payment_id = $1`, paymentID).Scan(&count); err != nil {
		t.Fatalf("count ledger entries for payment %s: %v", paymentID, err)
	}
	return count
}

func CountPaymentEvents(t *testing.T, db *sql.DB) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM payment_events`).Scan(&count); err != nil {
		t.Fatalf("count payment events: %v", err)
	}
	return count
}
