package clients

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommerce-microservices/stock-service/internal/domain"
	"github.com/ecommerce-microservices/stock-service/internal/resilience"
)

func testRegistry() *resilience.Registry {
	return resilience.NewRegistry(resilience.Config{
		MaxAttempts:      3,
		Backoff:          time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	})
}

func TestFindProductByIDSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","name":"keyboard","price":59.9}`))
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, testRegistry())
	product, err := client.FindProductByID("42")

	require.NoError(t, err)
	assert.Equal(t, "42", product.ID)
	assert.Equal(t, "keyboard", product.Name)
	assert.Equal(t, 59.9, product.Price)
}

func TestFindProductByIDTranslates404ToProductNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, testRegistry())
	_, err := client.FindProductByID("missing")

	var notFound *domain.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.ProductID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx answers are not retried")
}

func TestFindProductByIDRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","name":"keyboard","price":59.9}`))
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, testRegistry())
	product, err := client.FindProductByID("42")

	require.NoError(t, err)
	assert.Equal(t, "42", product.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFindProductByIDUnreachableAfterRetryBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, testRegistry())
	_, err := client.FindProductByID("42")

	var unreachable *resilience.DownstreamUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "PRODUCT_SERVICE", unreachable.Name)
}

func TestGetAuthenticatedUserSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/me", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"username":"ana","email":"ana@example.com","roles":["USER"]}`))
	}))
	defer server.Close()

	client := NewUserClient(server.URL, time.Second, testRegistry())
	user, err := client.GetAuthenticatedUser("token-123")

	require.NoError(t, err)
	assert.Equal(t, "ana", user.Username)
	assert.Equal(t, []string{"USER"}, user.Roles)
}

func TestGetAuthenticatedUserTranslates401ToUserNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewUserClient(server.URL, time.Second, testRegistry())
	_, err := client.GetAuthenticatedUser("bad-token")

	var userNotFound *domain.UserNotFoundError
	require.ErrorAs(t, err, &userNotFound)
}

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, classifyStatus(200, "product service"))
	assert.NoError(t, classifyStatus(204, "product service"))

	err := classifyStatus(404, "product service")
	var client *resilience.ClientError
	assert.ErrorAs(t, err, &client)

	err = classifyStatus(500, "product service")
	var transient *resilience.TransientError
	assert.ErrorAs(t, err, &transient)
}
