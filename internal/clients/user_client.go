package clients

import (
	"errors"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ecommerce-microservices/stock-service/internal/domain"
	"github.com/ecommerce-microservices/stock-service/internal/resilience"
)

// UserResource is the user service's view of an authenticated user.
type UserResource struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

type UserClient struct {
	http     *resty.Client
	registry *resilience.Registry
}

func NewUserClient(baseURL string, timeout time.Duration, registry *resilience.Registry) *UserClient {
	return &UserClient{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		registry: registry,
	}
}

// GetAuthenticatedUser resolves the caller's bearer token into a user. A 4xx
// answer from the user service comes back as UserNotFound instead of a raw
// transport error.
func (c *UserClient) GetAuthenticatedUser(token string) (*UserResource, error) {
	user, err := resilience.Execute(c.registry, "USER_SERVICE", func() (*UserResource, error) {
		var resource UserResource
		resp, err := c.http.R().
			SetResult(&resource).
			SetAuthToken(token).
			Get("/api/v1/users/me")
		if err != nil {
			return nil, &resilience.TransientError{Err: err}
		}
		if err := classifyStatus(resp.StatusCode(), "user service"); err != nil {
			return nil, err
		}
		return &resource, nil
	})
	if err != nil {
		var rejected *resilience.DownstreamRejectedError
		if errors.As(err, &rejected) {
			return nil, &domain.UserNotFoundError{Cause: rejected.Err}
		}
		return nil, err
	}
	return user, nil
}
