// Package clients holds the synchronous callers into the other services of
// the platform. Every call goes through the resilience strategy: transport
// failures and 5xx answers are transient and retried, 4xx answers are
// translated into domain errors and never retried.
package clients

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ecommerce-microservices/stock-service/internal/domain"
	"github.com/ecommerce-microservices/stock-service/internal/resilience"
)

// ProductResource is the product service's view of a product.
type ProductResource struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type ProductClient struct {
	http     *resty.Client
	registry *resilience.Registry
}

func NewProductClient(baseURL string, timeout time.Duration, registry *resilience.Registry) *ProductClient {
	return &ProductClient{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		registry: registry,
	}
}

// FindProductByID looks the product up in the product service. A 4xx answer
// means the product does not exist and comes back as ProductNotFound.
func (c *ProductClient) FindProductByID(productID string) (*ProductResource, error) {
	product, err := resilience.Execute(c.registry, "PRODUCT_SERVICE", func() (*ProductResource, error) {
		var resource ProductResource
		resp, err := c.http.R().
			SetResult(&resource).
			SetPathParam("id", productID).
			Get("/api/v1/products/{id}")
		if err != nil {
			return nil, &resilience.TransientError{Err: err}
		}
		if err := classifyStatus(resp.StatusCode(), "product service"); err != nil {
			return nil, err
		}
		return &resource, nil
	})
	if err != nil {
		var rejected *resilience.DownstreamRejectedError
		if errors.As(err, &rejected) {
			return nil, &domain.ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}
	return product, nil
}

// classifyStatus maps an HTTP status onto the resilience error taxonomy.
func classifyStatus(status int, who string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return &resilience.ClientError{Err: fmt.Errorf("%s returned status %d", who, status)}
	default:
		return &resilience.TransientError{Err: fmt.Errorf("%s returned status %d", who, status)}
	}
}
