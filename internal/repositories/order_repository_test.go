package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/RajaSunrise/toko-order/internal/database"
	"github.com/RajaSunrise/toko-order/internal/models"
	"github.com/RajaSunrise/toko-order/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type backend struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	users    repositories.UserRepository
}

func newMemoryBackend(t *testing.T) backend {
	store := repositories.NewMemoryStore()
	return backend{products: store.Products(), orders: store.Orders(), users: store.Users()}
}

func newGORMBackend(t *testing.T, db *gorm.DB) backend {
	t.Helper()
	require.NoError(t, database.Migrate(db))
	return backend{
		products: repositories.NewGORMProductRepository(db),
		orders:   repositories.NewGORMOrderRepository(db, 0),
		users:    repositories.NewGORMUserRepository(db),
	}
}

func newSQLiteBackend(t *testing.T) backend {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return newGORMBackend(t, db)
}

// newPostgresBackend needs TEST_POSTGRES_DSN pointing at a disposable database.
func newPostgresBackend(t *testing.T) backend {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skipf("TEST_POSTGRES_DSN not set, skipping postgres tests")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, db.Migrator().DropTable(&models.OrderItem{}, &models.Order{}, &models.Product{}, &models.User{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return newGORMBackend(t, db)
}

var backends = []struct {
	name string
	open func(t *testing.T) backend
}{
	{"memory", newMemoryBackend},
	{"sqlite", newSQLiteBackend},
	{"postgres", newPostgresBackend},
}

func forEachBackend(t *testing.T, test func(t *testing.T, b backend)) {
	for _, bc := range backends {
		t.Run(bc.name, func(t *testing.T) {
			test(t, bc.open(t))
		})
	}
}

func seedCatalog(t *testing.T, b backend, stocks ...int) []models.Product {
	t.Helper()
	products := make([]models.Product, len(stocks))
	for i, stock := range stocks {
		products[i] = models.Product{
			Name:  fmt.Sprintf("Product %d", i+1),
			Price: decimal.NewFromInt(int64(10 * (i + 1))),
			Stock: stock,
		}
		require.NoError(t, b.products.Create(context.Background(), &products[i]))
	}
	return products
}

func stockOf(t *testing.T, b backend, id uint) int {
	t.Helper()
	p, err := b.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestFindProductsByIDsIsAscendingAndSkipsMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		catalog := seedCatalog(t, b, 5, 5, 5)

		var found []models.Product
		err := b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
			var err error
			found, err = tx.FindProductsByIDs(ctx, []uint{catalog[2].ID, 999, catalog[0].ID})
			return err
		})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, catalog[0].ID, found[0].ID)
		assert.Equal(t, catalog[2].ID, found[1].ID)
		assert.True(t, found[1].Price.Equal(decimal.NewFromInt(30)))
	})
}

func TestConditionalDecrement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		p := seedCatalog(t, b, 3)[0]

		err := b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
			ok, err := tx.ConditionalDecrement(ctx, p.ID, 2)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.ConditionalDecrement(ctx, p.ID, 2)
			require.NoError(t, err)
			assert.False(t, ok, "only one unit left")

			ok, err = tx.ConditionalDecrement(ctx, p.ID, 1)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.ConditionalDecrement(ctx, 999, 1)
			require.NoError(t, err)
			assert.False(t, ok, "unknown product")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, stockOf(t, b, p.ID))
	})
}

func TestConditionalDecrementRejectsNonPositiveQuantity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		p := seedCatalog(t, b, 3)[0]

		err := b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
			for _, q := range []int{0, -2} {
				ok, err := tx.ConditionalDecrement(ctx, p.ID, q)
				assert.ErrorIs(t, err, repositories.ErrInvalidQuantity)
				assert.False(t, ok)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, stockOf(t, b, p.ID))
	})
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		p := seedCatalog(t, b, 10)[0]
		boom := errors.New("boom")

		err := b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
			ok, err := tx.ConditionalDecrement(ctx, p.ID, 4)
			require.NoError(t, err)
			require.True(t, ok)
			order := &models.Order{UserID: 1, Total: decimal.NewFromInt(40), Items: []models.OrderItem{
				{ProductID: p.ID, Quantity: 4, Price: p.Price},
			}}
			require.NoError(t, tx.CreateOrder(ctx, order))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		assert.Equal(t, 10, stockOf(t, b, p.ID))
		orders, err := b.orders.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, orders)
	})
}

func TestCreateOrderPersistsItems(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		catalog := seedCatalog(t, b, 10, 10)

		place := func(userID uint) models.Order {
			order := models.Order{UserID: userID, Total: decimal.RequireFromString("50.00"), Items: []models.OrderItem{
				{ProductID: catalog[0].ID, Quantity: 1, Price: catalog[0].Price},
				{ProductID: catalog[1].ID, Quantity: 2, Price: catalog[1].Price},
			}}
			require.NoError(t, b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
				return tx.CreateOrder(ctx, &order)
			}))
			return order
		}
		first := place(7)
		second := place(8)

		assert.NotZero(t, first.ID)
		assert.False(t, first.CreatedAt.IsZero())
		for _, item := range first.Items {
			assert.Equal(t, first.ID, item.OrderID)
			assert.NotZero(t, item.ID)
		}

		got, err := b.orders.GetByID(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, uint(7), got.UserID)
		assert.True(t, got.Total.Equal(decimal.NewFromInt(50)))
		assert.True(t, got.Items[1].Price.Equal(decimal.NewFromInt(20)))

		all, err := b.orders.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)

		mine, err := b.orders.GetByUserID(ctx, 8)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, second.ID, mine[0].ID)
		assert.Len(t, mine[0].Items, 2)

		_, err = b.orders.GetByID(ctx, 999)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		p := seedCatalog(t, b, 10)[0]

		var (
			wg      sync.WaitGroup
			success atomic.Int32
		)
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
					ok, err := tx.ConditionalDecrement(ctx, p.ID, 1)
					if err != nil {
						return err
					}
					if !ok {
						return errors.New("sold out")
					}
					return nil
				})
				if err == nil {
					success.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), success.Load())
		assert.Equal(t, 0, stockOf(t, b, p.ID))
	})
}

func TestProductRepository(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		p := seedCatalog(t, b, 4)[0]

		p.Name = "Renamed"
		p.Price = decimal.RequireFromString("12.50")
		require.NoError(t, b.products.Update(ctx, &p))
		got, err := b.products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))

		missing := models.Product{ID: 999, Name: "Ghost", Price: decimal.NewFromInt(1)}
		assert.ErrorIs(t, b.products.Update(ctx, &missing), repositories.ErrNotFound)

		require.NoError(t, b.products.Delete(ctx, p.ID))
		_, err = b.products.GetByID(ctx, p.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.ErrorIs(t, b.products.Delete(ctx, p.ID), repositories.ErrNotFound)

		// Deleted products are invisible to placement.
		require.NoError(t, b.orders.WithinTx(ctx, func(tx repositories.OrderTx) error {
			found, err := tx.FindProductsByIDs(ctx, []uint{p.ID})
			assert.Empty(t, found)
			return err
		}))
	})
}

func TestUserRepository(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		u := &models.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "hash", Role: models.RoleUser}
		require.NoError(t, b.users.Create(ctx, u))
		assert.NotZero(t, u.ID)

		dup := &models.User{Name: "Other", Email: "alice@example.com", PasswordHash: "hash", Role: models.RoleUser}
		assert.Error(t, b.users.Create(ctx, dup))

		got, err := b.users.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		got, err = b.users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", got.PasswordHash)

		_, err = b.users.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}
