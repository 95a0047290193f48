package domain

// StockRecord represents the inventory held for a single product. There is at
// most one record per product and its quantity never goes below zero.
type StockRecord struct {
	ID        int64  `json:"id" db:"id"`
	ProductID string `json:"product_id" db:"product_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
}

// StockPage is one page of stock records together with paging metadata.
type StockPage struct {
	Content       []StockRecord `json:"content"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalElements int64         `json:"total_elements"`
	TotalPages    int           `json:"total_pages"`
}
