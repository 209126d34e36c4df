package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock_quantity, created_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &p, nil
}

// DecrementStock subtracts quantity if enough stock remains. Returns false
// when the guard does not match, leaving the row untouched.
func (r *ProductRepository) DecrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2`,
		id, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("DecrementStock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DecrementStock: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *ProductRepository) RestoreStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2 WHERE id = $1`,
		id, quantity,
	)
	if err != nil {
		return fmt.Errorf("RestoreStock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RestoreStock: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RestoreStock: %w", domain.ErrNotFound)
	}
	return nil
}
