package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ecommerce-microservices/stock-service/internal/domain"
)

// uniqueViolation is the Postgres error code raised when the product_id
// unique constraint rejects a duplicate insert.
const uniqueViolation = "23505"

type StockRepository struct {
	db *sql.DB
}

func NewStockRepository(db *sql.DB) *StockRepository {
	return &StockRepository{db: db}
}

// EnsureSchema creates the stock table when it does not exist yet. The
// quantity check backs the engine-level guard: even a buggy caller cannot
// drive a stored quantity negative.
func (r *StockRepository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS stock_records (
			id BIGSERIAL PRIMARY KEY,
			product_id TEXT NOT NULL UNIQUE,
			quantity INTEGER NOT NULL CHECK (quantity >= 0)
		)
	`)
	if err != nil {
		return fmt.Errorf("stock schema setup error: %w", err)
	}
	return nil
}

// CreateStock inserts a new record and fills in its generated id. A
// concurrent insert for the same product surfaces as ProductAlreadyExists.
func (r *StockRepository) CreateStock(record *domain.StockRecord) error {
	query := `
		INSERT INTO stock_records (product_id, quantity)
		VALUES ($1, $2)
		RETURNING id
	`

	err := r.db.QueryRow(query, record.ProductID, record.Quantity).Scan(&record.ID)
	if isUniqueViolation(err) {
		return &domain.ProductAlreadyExistsError{ProductID: record.ProductID}
	}
	if err != nil {
		return fmt.Errorf("stock insert error: %w", err)
	}
	return nil
}

// FindByProductID returns the record for the product, or nil when none
// exists.
func (r *StockRepository) FindByProductID(productID string) (*domain.StockRecord, error) {
	query := `
		SELECT id, product_id, quantity
		FROM stock_records
		WHERE product_id = $1
	`

	record := &domain.StockRecord{}
	err := r.db.QueryRow(query, productID).Scan(&record.ID, &record.ProductID, &record.Quantity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stock lookup error: %w", err)
	}
	return record, nil
}

// DecrementStock atomically subtracts quantity from the record, refusing the
// update when it would leave the quantity negative. Concurrent decrements
// against the same product serialize on this single conditional UPDATE, so
// no interleaving can lose an update or observe a negative quantity.
func (r *StockRepository) DecrementStock(productID string, quantity int) (bool, error) {
	query := `
		UPDATE stock_records
		SET quantity = quantity - $2
		WHERE product_id = $1 AND quantity >= $2
	`

	result, err := r.db.Exec(query, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("stock decrement error: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stock decrement result error: %w", err)
	}
	return affected == 1, nil
}

// FindAll returns one page of records ordered by product id, along with the
// total record count.
func (r *StockRepository) FindAll(page, size int) ([]domain.StockRecord, int64, error) {
	var total int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM stock_records`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("stock count error: %w", err)
	}

	query := `
		SELECT id, product_id, quantity
		FROM stock_records
		ORDER BY product_id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(query, size, page*size)
	if err != nil {
		return nil, 0, fmt.Errorf("stock page fetch error: %w", err)
	}
	defer rows.Close()

	records := []domain.StockRecord{}
	for rows.Next() {
		var record domain.StockRecord
		if err := rows.Scan(&record.ID, &record.ProductID, &record.Quantity); err != nil {
			return nil, 0, fmt.Errorf("stock row scan error: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("stock page fetch error: %w", err)
	}

	return records, total, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
