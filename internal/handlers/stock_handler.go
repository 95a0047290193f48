package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ecommerce-microservices/stock-service/internal/clients"
	"github.com/ecommerce-microservices/stock-service/internal/domain"
	"github.com/ecommerce-microservices/stock-service/internal/resilience"
	"github.com/ecommerce-microservices/stock-service/internal/service"
)

type StockUpdateRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UserDirectory resolves a bearer token into the authenticated user. Token
// issuing and validation live in the user service; this side only needs the
// lookup.
type UserDirectory interface {
	GetAuthenticatedUser(token string) (*clients.UserResource, error)
}

type StockHandler struct {
	stockService *service.StockService
	users        UserDirectory
}

func NewStockHandler(stockService *service.StockService, users UserDirectory) *StockHandler {
	return &StockHandler{stockService: stockService, users: users}
}

func (h *StockHandler) HealthCheck(c *fiber.Ctx) error {
	return SuccessResponse(c, "Stock service is healthy", fiber.Map{
		"service": "stock-service",
		"status":  "healthy",
	})
}

// AddStock registers the initial stock for a product.
func (h *StockHandler) AddStock(c *fiber.Ctx) error {
	if err := h.resolveCaller(c); err != nil {
		return h.domainError(c, err)
	}

	var request StockUpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	record, err := h.stockService.AddStock(request.ProductID, request.Quantity)
	if err != nil {
		return h.domainError(c, err)
	}
	return CreatedResponse(c, "Stock registered", record)
}

// WriteDownStock decrements the stock for a product.
func (h *StockHandler) WriteDownStock(c *fiber.Ctx) error {
	if err := h.resolveCaller(c); err != nil {
		return h.domainError(c, err)
	}

	var request StockUpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	record, err := h.stockService.WriteDownStock(request.ProductID, request.Quantity)
	if err != nil {
		return h.domainError(c, err)
	}
	return SuccessResponse(c, "Stock written down", record)
}

// resolveCaller looks the bearer token up in the user service when one is
// present. Token enforcement belongs to the gateway; here the lookup only
// attributes the mutation in the logs and rejects tokens the user service
// does not recognize.
func (h *StockHandler) resolveCaller(c *fiber.Ctx) error {
	authorization := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(authorization, "Bearer ") {
		return nil
	}

	user, err := h.users.GetAuthenticatedUser(strings.TrimPrefix(authorization, "Bearer "))
	if err != nil {
		return err
	}

	log.Printf("Authenticated user retrieved from user service: %s", user.Username)
	return nil
}

// FindByProductID returns the stock record for one product.
func (h *StockHandler) FindByProductID(c *fiber.Ctx) error {
	record, err := h.stockService.FindStockByProductID(c.Params("productId"))
	if err != nil {
		return h.domainError(c, err)
	}
	return SuccessResponse(c, "Stock found", record)
}

// FindAll returns one page of stock records.
func (h *StockHandler) FindAll(c *fiber.Ctx) error {
	page := c.QueryInt("page", 0)
	size := c.QueryInt("size", 10)

	stockPage, err := h.stockService.FindAllStock(page, size)
	if err != nil {
		return h.domainError(c, err)
	}
	return SuccessResponse(c, "Stock page found", stockPage)
}

// domainError translates typed service failures into HTTP answers with a
// human-readable message.
func (h *StockHandler) domainError(c *fiber.Ctx, err error) error {
	var validation *domain.ValidationError
	var notFound *domain.ProductNotFoundError
	var userNotFound *domain.UserNotFoundError
	var alreadyExists *domain.ProductAlreadyExistsError
	var notEnough *domain.NotEnoughStockError
	var unreachable *resilience.DownstreamUnreachableError

	switch {
	case errors.As(err, &validation):
		return ErrorResponse(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.As(err, &notFound), errors.As(err, &userNotFound):
		return ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &alreadyExists):
		return ErrorResponse(c, fiber.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.As(err, &notEnough):
		return ErrorResponse(c, fiber.StatusUnprocessableEntity, "NOT_ENOUGH_STOCK", err.Error())
	case errors.As(err, &unreachable):
		return ErrorResponse(c, fiber.StatusServiceUnavailable, "DOWNSTREAM_UNREACHABLE", err.Error())
	default:
		log.Printf("Unhandled stock error: %v", err)
		return ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
