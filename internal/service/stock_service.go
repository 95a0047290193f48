package service

import (
	"fmt"
	"log"

	"github.com/ecommerce-microservices/stock-service/internal/clients"
	"github.com/ecommerce-microservices/stock-service/internal/domain"
)

// StockRepository is the storage surface the engine mutates. DecrementStock
// must be atomic at the storage level: it reports false when the conditional
// update matched no row, which covers both concurrent drains and rows that
// never existed.
type StockRepository interface {
	CreateStock(record *domain.StockRecord) error
	FindByProductID(productID string) (*domain.StockRecord, error)
	DecrementStock(productID string, quantity int) (bool, error)
	FindAll(page, size int) ([]domain.StockRecord, int64, error)
}

// ProductCatalog validates that a product exists before stock is registered
// for it.
type ProductCatalog interface {
	FindProductByID(productID string) (*clients.ProductResource, error)
}

// StockService owns every mutation of stock records. The HTTP layer and the
// purchase event consumer both go through it; neither touches storage
// directly.
type StockService struct {
	stockRepo StockRepository
	catalog   ProductCatalog
}

func NewStockService(stockRepo StockRepository, catalog ProductCatalog) *StockService {
	return &StockService{
		stockRepo: stockRepo,
		catalog:   catalog,
	}
}

// AddStock registers the initial stock for a product. The product must exist
// in the catalog and must not already have a stock record.
func (s *StockService) AddStock(productID string, quantity int) (*domain.StockRecord, error) {
	if productID == "" {
		return nil, &domain.ValidationError{Message: "product id must not be empty"}
	}
	if quantity < 0 {
		return nil, &domain.ValidationError{Message: "stock quantity must not be negative"}
	}

	if _, err := s.catalog.FindProductByID(productID); err != nil {
		return nil, err
	}

	existing, err := s.stockRepo.FindByProductID(productID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &domain.ProductAlreadyExistsError{ProductID: productID}
	}

	record := &domain.StockRecord{ProductID: productID, Quantity: quantity}
	if err := s.stockRepo.CreateStock(record); err != nil {
		return nil, err
	}

	log.Printf("Stock registered: productID=%s quantity=%d", productID, quantity)
	return record, nil
}

// WriteDownStock decrements the stock for a product. The subtraction happens
// through the repository's conditional update, so two concurrent write-downs
// for the same product can never drive the quantity negative or lose an
// update; the loser of the race gets NotEnoughStock.
func (s *StockService) WriteDownStock(productID string, quantity int) (*domain.StockRecord, error) {
	if quantity <= 0 {
		return nil, &domain.ValidationError{Message: "write down quantity must be positive"}
	}

	record, err := s.stockRepo.FindByProductID(productID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.ProductNotFoundError{ProductID: productID}
	}
	if record.Quantity < quantity {
		return nil, &domain.NotEnoughStockError{
			ProductID: productID,
			Available: record.Quantity,
			Requested: quantity,
		}
	}

	updated, err := s.stockRepo.DecrementStock(productID, quantity)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Another writer drained the stock between our read and the update.
		current, err := s.stockRepo.FindByProductID(productID)
		if err != nil {
			return nil, err
		}
		available := 0
		if current != nil {
			available = current.Quantity
		}
		return nil, &domain.NotEnoughStockError{
			ProductID: productID,
			Available: available,
			Requested: quantity,
		}
	}

	record.Quantity -= quantity
	log.Printf("Stock written down: productID=%s quantity=%d remaining=%d",
		productID, quantity, record.Quantity)
	return record, nil
}

// FindStockByProductID returns the stock record for the product.
func (s *StockService) FindStockByProductID(productID string) (*domain.StockRecord, error) {
	record, err := s.stockRepo.FindByProductID(productID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.ProductNotFoundError{ProductID: productID}
	}
	return record, nil
}

// FindAllStock returns one page of stock records. An empty page is a valid
// answer; only a failed fetch is an error.
func (s *StockService) FindAllStock(page, size int) (*domain.StockPage, error) {
	if page < 0 || size <= 0 {
		return nil, &domain.ValidationError{Message: "page must be >= 0 and size must be positive"}
	}

	records, total, err := s.stockRepo.FindAll(page, size)
	if err != nil {
		return nil, fmt.Errorf("error fetching stock page: %w", err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &domain.StockPage{
		Content:       records,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
	}, nil
}
