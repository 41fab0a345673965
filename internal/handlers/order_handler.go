package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RajaSunrise/toko-order/internal/middleware"
	"github.com/RajaSunrise/toko-order/internal/models"
	"github.com/RajaSunrise/toko-order/internal/repositories"
	"github.com/RajaSunrise/toko-order/internal/services"
	"github.com/RajaSunrise/toko-order/pkg/idempotency"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// IdempotencyHeader carries the client's retry key for order placement.
const IdempotencyHeader = "Idempotency-Key"

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	keys     idempotency.Store // optional
	validate *validator.Validate
}

// NewOrderHandler creates a new OrderHandler. keys may be nil, in which case
// the Idempotency-Key header is ignored.
func NewOrderHandler(service *services.OrderService, keys idempotency.Store) *OrderHandler {
	return &OrderHandler{
		service:  service,
		keys:     keys,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the order routes with the Fiber app. Orders are
// immutable once placed, so there are no update routes.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Post("/", middleware.RequireRole(models.RoleUser, models.RoleAdmin), h.HandlePlaceOrder)
	orderRoutes.Get("/", middleware.RequireRole(models.RoleAdmin), h.HandleGetOrders)
	orderRoutes.Get("/mine", h.HandleGetMyOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
}

// HandleGetOrders retrieves all orders, newest first.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	orders, err := h.service.GetAllOrders(c.UserContext())
	if err != nil {
		slog.Error("error getting all orders", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve orders",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleGetMyOrders retrieves the caller's own orders.
func (h *OrderHandler) HandleGetMyOrders(c *fiber.Ctx) error {
	identity, _ := middleware.CurrentIdentity(c)
	orders, err := h.service.GetOrdersByUser(c.UserContext(), identity.UserID)
	if err != nil {
		slog.Error("error getting user orders", "user_id", identity.UserID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve orders",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order. Callers other than the owner
// and admins get 404.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	orderID, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	identity, _ := middleware.CurrentIdentity(c)

	order, err := h.service.GetOrderByID(c.UserContext(), orderID)
	if err == nil && order.UserID != identity.UserID && !identity.IsAdmin() {
		err = repositories.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %d not found", orderID),
			})
		}
		slog.Error("error getting order", "order_id", orderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve order",
			"error":   err.Error(),
		})
	}
	return c.JSON(order)
}

// HandlePlaceOrder places an order for the authenticated caller.
func (h *OrderHandler) HandlePlaceOrder(c *fiber.Ctx) error {
	identity, _ := middleware.CurrentIdentity(c)

	var req models.PlaceOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
			"code":    services.KindInvalidOrder.String(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err, fiber.Map{"code": services.KindInvalidOrder.String()})
	}

	ctx := c.UserContext()
	key := c.Get(IdempotencyHeader)
	if key == "" || h.keys == nil {
		return h.placeOrder(c, identity.UserID, req.Items)
	}

	lines, err := services.NormalizeItems(req.Items)
	if err != nil {
		return placementFailed(c, err)
	}

	reservation, err := h.keys.Begin(ctx, fmt.Sprintf("%d:%s", identity.UserID, key), fingerprint(lines))
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "A request with this Idempotency-Key is still in progress",
		})
	case errors.Is(err, idempotency.ErrMismatch):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "Idempotency-Key was already used with a different order",
		})
	case err != nil:
		slog.Error("idempotency store unavailable", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"message": "Could not check Idempotency-Key",
			"error":   err.Error(),
		})
	case reservation.Replay:
		order, err := h.service.GetOrderByID(ctx, reservation.OrderID)
		if err != nil {
			slog.Error("error loading replayed order", "order_id", reservation.OrderID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "Could not retrieve order",
				"error":   err.Error(),
			})
		}
		return c.Status(fiber.StatusOK).JSON(order)
	}

	order, err := h.service.PlaceOrder(ctx, identity.UserID, req.Items)
	if err != nil {
		if relErr := h.keys.Release(ctx, reservation); relErr != nil {
			slog.Warn("failed to release idempotency key", "error", relErr)
		}
		return placementFailed(c, err)
	}
	if err := h.keys.Complete(ctx, reservation, order.ID); err != nil {
		slog.Warn("failed to record idempotency key", "order_id", order.ID, "error", err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// fingerprint identifies an order by its merged lines, so reordered or split
// lines for the same products and quantities match.
func fingerprint(lines []services.NormalizedLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%d:%d;", l.ProductID, l.Quantity)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (h *OrderHandler) placeOrder(c *fiber.Ctx, userID uint, items []models.OrderItemRequest) error {
	order, err := h.service.PlaceOrder(c.UserContext(), userID, items)
	if err != nil {
		return placementFailed(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}
