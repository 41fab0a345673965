// Package app wires configuration, storage, brokers and HTTP handlers into a
// runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RajaSunrise/toko-order/internal/config"
	"github.com/RajaSunrise/toko-order/internal/database"
	"github.com/RajaSunrise/toko-order/internal/handlers"
	"github.com/RajaSunrise/toko-order/internal/middleware"
	"github.com/RajaSunrise/toko-order/internal/models"
	"github.com/RajaSunrise/toko-order/internal/repositories"
	"github.com/RajaSunrise/toko-order/internal/services"
	"github.com/RajaSunrise/toko-order/pkg/idempotency"
	"github.com/RajaSunrise/toko-order/pkg/kafka"
	"github.com/RajaSunrise/toko-order/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App is the assembled service.
type App struct {
	Config config.Config
	Fiber  *fiber.App

	Products *services.ProductService
	Orders   *services.OrderService
	Auth     *services.AuthService

	db       *gorm.DB // nil for the memory driver
	users    repositories.UserRepository
	rabbit   *rabbitmq.Client
	producer *kafka.Producer
	redis    *redis.Client
}

// New builds the App described by cfg. Brokers and Redis are connected only
// when configured.
func New(cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var (
		productRepo repositories.ProductRepository
		orderRepo   repositories.OrderRepository
	)
	if cfg.DatabaseDriver == "memory" {
		store := repositories.NewMemoryStore()
		productRepo, orderRepo, a.users = store.Products(), store.Orders(), store.Users()
	} else {
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		productRepo = repositories.NewGORMProductRepository(db)
		orderRepo = repositories.NewGORMOrderRepository(db, cfg.Isolation())
		a.users = repositories.NewGORMUserRepository(db)
	}

	publisher, err := a.connectBrokers()
	if err != nil {
		a.Shutdown()
		return nil, err
	}

	var keys idempotency.Store
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		keys = idempotency.NewRedisStore(a.redis, cfg.IdempotencyTTL)
	} else {
		keys = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	a.Products = services.NewProductService(productRepo)
	a.Orders = services.NewOrderService(orderRepo, publisher, cfg.ServiceName)
	a.Auth = services.NewAuthService(a.users, cfg.JWTSecret, cfg.JWTTTL)

	a.Fiber = fiber.New(fiber.Config{AppName: cfg.ServiceName})
	a.Fiber.Use(logger.New())
	a.Fiber.Get("/health", a.handleHealth)

	apiV1 := a.Fiber.Group("/api/v1")
	handlers.NewAuthHandler(a.Auth).RegisterRoutes(apiV1)

	protected := apiV1.Group("", middleware.AuthRequired(a.Auth))
	handlers.NewProductHandler(a.Products).RegisterRoutes(protected)
	handlers.NewOrderHandler(a.Orders, keys).RegisterRoutes(protected)

	return a, nil
}

// connectBrokers opens the configured event backends and returns a publisher
// over all of them, or nil when none is configured.
func (a *App) connectBrokers() (services.OrderEventPublisher, error) {
	var publishers fanOut
	if a.Config.RabbitMQURL != "" {
		client, err := rabbitmq.NewClient(rabbitmq.Config{URL: a.Config.RabbitMQURL})
		if err != nil {
			return nil, err
		}
		a.rabbit = client
		publishers = append(publishers, client)
	}
	if len(a.Config.KafkaBrokers) > 0 {
		a.producer = kafka.NewProducer(a.Config.KafkaBrokers, a.Config.KafkaTopic, 256)
		a.producer.Start()
		publishers = append(publishers, a.producer)
	}
	if len(publishers) == 0 {
		return nil, nil
	}
	return publishers, nil
}

// fanOut publishes each event to every backend.
type fanOut []services.OrderEventPublisher

func (f fanOut) PublishOrderEvent(ctx context.Context, event models.EventEnvelope) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Migrate creates or updates the schema. It is a no-op for the memory driver.
func (a *App) Migrate() error {
	if a.db == nil {
		return nil
	}
	return database.Migrate(a.db)
}

// Ping checks the backing store.
func (a *App) Ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return database.Ping(ctx, a.db)
}

func (a *App) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := a.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"db":     "down",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
		"db":     "up",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StartAuditConsumers logs every order event received from the configured
// brokers until ctx is canceled.
func (a *App) StartAuditConsumers(ctx context.Context) error {
	audit := func(event models.EventEnvelope) error {
		slog.Info("order event received",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"correlation_id", event.CorrelationID,
			"producer", event.Producer,
		)
		return nil
	}

	if a.rabbit != nil {
		if err := a.rabbit.ConsumeOrderEvents(audit); err != nil {
			return fmt.Errorf("failed to start RabbitMQ consumer: %w", err)
		}
	}
	if len(a.Config.KafkaBrokers) > 0 {
		consumer := kafka.NewConsumer(a.Config.KafkaBrokers, a.Config.ServiceName+"-audit", a.Config.KafkaTopic, 2)
		go func() {
			err := consumer.Start(ctx, func(_ context.Context, event models.EventEnvelope) error {
				return audit(event)
			})
			if err != nil {
				slog.Error("kafka audit consumer stopped", "error", err)
			}
		}()
	}
	return nil
}

// Listen serves HTTP on the configured port.
func (a *App) Listen() error {
	return a.Fiber.Listen(a.Config.AppPort)
}

// Shutdown stops the HTTP server and releases every connection.
func (a *App) Shutdown() error {
	var errs []error
	if a.Fiber != nil {
		if err := a.Fiber.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("fiber shutdown: %w", err))
		}
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}
