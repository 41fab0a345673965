package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/RajaSunrise/toko-order/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// validationFailed renders validator errors field by field.
func validationFailed(c *fiber.Ctx, err error, extra fiber.Map) error {
	body := fiber.Map{"message": "Validation failed"}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errorMessages := make(map[string]string)
		for _, e := range validationErrors {
			errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
		body["errors"] = errorMessages
	} else {
		body["error"] = err.Error()
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// paramID parses a positive numeric path parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, c.Params(name))
	}
	return uint(id), nil
}

// placementFailed maps an order placement error to its HTTP response.
func placementFailed(c *fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	body := fiber.Map{
		"message": "Could not place order",
		"error":   err.Error(),
		"code":    kind.String(),
	}

	status := fiber.StatusInternalServerError
	var (
		notFound   *services.ProductNotFoundError
		outOfStock *services.OutOfStockError
	)
	switch kind {
	case services.KindInvalidOrder:
		status = fiber.StatusBadRequest
	case services.KindProductNotFound:
		status = fiber.StatusNotFound
		if errors.As(err, &notFound) {
			body["product_ids"] = notFound.IDs
		}
	case services.KindOutOfStock:
		status = fiber.StatusConflict
		if errors.As(err, &outOfStock) {
			body["product_id"] = outOfStock.ProductID
		}
	case services.KindPersistence:
		status = fiber.StatusServiceUnavailable
		body["retryable"] = true
	}

	if status >= fiber.StatusInternalServerError {
		slog.Error("order placement failed", "code", kind.String(), "error", err)
	}
	return c.Status(status).JSON(body)
}
