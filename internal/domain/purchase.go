package domain

// PurchaseEvent is a single line-item purchase arriving over the broker. The
// message id comes from the broker envelope and is carried along so that
// redeliveries of the same purchase can be told apart in logs and in the
// dead-letter queue.
type PurchaseEvent struct {
	MessageID string `json:"message_id,omitempty"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Validate rejects events that no amount of redelivery can fix.
func (e PurchaseEvent) Validate() error {
	if e.ProductID == "" {
		return &ValidationError{Message: "purchase event is missing product_id"}
	}
	if e.Quantity <= 0 {
		return &ValidationError{Message: "purchase event quantity must be positive"}
	}
	return nil
}
