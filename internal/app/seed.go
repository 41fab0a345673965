package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RajaSunrise/toko-order/internal/models"
	"github.com/RajaSunrise/toko-order/internal/repositories"

	"github.com/shopspring/decimal"
)

// Default accounts created by Seed.
const (
	SeedAdminEmail    = "admin@teste.com"
	SeedAdminPassword = "admin123"
	SeedUserEmail     = "user@teste.com"
	SeedUserPassword  = "user123"
)

const (
	seedProductCount = 20
	seedOrderCount   = 10
)

// Seed creates the default accounts, a catalog of products and a few sample
// orders. Each group is skipped when it already has data, so Seed can run on
// every start.
func (a *App) Seed(ctx context.Context) error {
	admin, err := a.seedUser(ctx, "Admin Master", SeedAdminEmail, SeedAdminPassword, models.RoleAdmin)
	if err != nil {
		return err
	}
	user, err := a.seedUser(ctx, "User Comum", SeedUserEmail, SeedUserPassword, models.RoleUser)
	if err != nil {
		return err
	}

	products, err := a.Products.GetAllProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if len(products) == 0 {
		for i := 1; i <= seedProductCount; i++ {
			p := &models.Product{
				Name:        fmt.Sprintf("Seed Product %d", i),
				Description: "Sample catalog item",
				Price:       decimal.NewFromInt(int64(50 + (i*37)%450)),
				Stock:       20 + (i*7)%20,
			}
			if err := a.Products.CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("failed to seed product %s: %w", p.Name, err)
			}
			products = append(products, *p)
		}
		slog.Info("seeded products", "count", seedProductCount)
	} else {
		slog.Info("products already exist, skipping", "count", len(products))
	}

	orders, err := a.Orders.GetAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to count orders: %w", err)
	}
	if len(orders) > 0 {
		slog.Info("orders already exist, skipping", "count", len(orders))
		return nil
	}

	sample := products
	if len(sample) > 5 {
		sample = sample[:5]
	}
	for i := 1; i <= seedOrderCount; i++ {
		owner := user
		if i%2 == 0 {
			owner = admin
		}
		items := make([]models.OrderItemRequest, 0, len(sample))
		for _, p := range sample {
			items = append(items, models.OrderItemRequest{ProductID: p.ID, Quantity: 1 + i%2})
		}
		// Sample orders go through the normal placement path so stock stays consistent.
		if _, err := a.Orders.PlaceOrder(ctx, owner.ID, items); err != nil {
			slog.Warn("skipping sample order", "n", i, "error", err)
		}
	}
	slog.Info("seeded orders", "count", seedOrderCount)
	return nil
}

func (a *App) seedUser(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	existing, err := a.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", email, err)
	}

	u := &models.User{Name: name, Email: email, Password: password, Role: role}
	if err := a.Auth.RegisterUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to seed user %s: %w", email, err)
	}
	slog.Info("seeded user", "email", email, "role", role)
	return u, nil
}
