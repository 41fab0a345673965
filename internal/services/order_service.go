package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/RajaSunrise/toko-order/internal/models"
	"github.com/RajaSunrise/toko-order/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderEventPublisher delivers order events to a message broker.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.EventEnvelope) error
}

// OrderService places orders and serves order queries.
type OrderService struct {
	orderRepo repositories.OrderRepository
	publisher OrderEventPublisher // optional
	producer  string
	logger    *slog.Logger
}

// NewOrderService creates a new OrderService. publisher may be nil, in which
// case no events are emitted. producer names this service in event envelopes.
func NewOrderService(orderRepo repositories.OrderRepository, publisher OrderEventPublisher, producer string) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		publisher: publisher,
		producer:  producer,
		logger:    slog.Default().With("component", "order_service"),
	}
}

// GetAllOrders retrieves all orders, newest first.
func (s *OrderService) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	return s.orderRepo.GetAll(ctx)
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(ctx context.Context, id uint) (*models.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// GetOrdersByUser retrieves the orders placed by one user, newest first.
func (s *OrderService) GetOrdersByUser(ctx context.Context, userID uint) ([]models.Order, error) {
	return s.orderRepo.GetByUserID(ctx, userID)
}

// PlaceOrder turns the requested items into a persisted order. Stock
// reservation, price capture and order creation happen in one transaction:
// the caller gets either the complete order with stock decremented, or an
// error and no change at all. The returned error always has a kind (see
// KindOf). PlaceOrder never retries.
func (s *OrderService) PlaceOrder(ctx context.Context, userID uint, items []models.OrderItemRequest) (*models.Order, error) {
	attempt := s.newAttempt(userID)

	lines, err := NormalizeItems(items)
	if err != nil {
		return nil, attempt.abort(err)
	}
	attempt.advance(stateNormalized)

	var order *models.Order
	err = s.orderRepo.WithinTx(ctx, func(tx repositories.OrderTx) error {
		attempt.advance(stateReserving)
		products, err := resolveProducts(ctx, tx, lines)
		if err != nil {
			return err
		}
		if err := reserveStock(ctx, tx, lines); err != nil {
			return err
		}
		attempt.advance(stateReserved)

		items := snapshotPrices(lines, products)
		attempt.advance(statePriced)

		order, err = assembleOrder(ctx, tx, userID, items)
		return err
	})
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = &PersistenceError{Op: "transaction", Err: err}
		}
		return nil, attempt.abort(err)
	}
	attempt.advance(statePersisted)

	s.publishOrderPlaced(ctx, order)
	return order, nil
}

// resolveProducts loads every referenced product in one batch and fails with
// the full list of ids that do not exist.
func resolveProducts(ctx context.Context, tx repositories.OrderTx, lines []NormalizedLine) (map[uint]models.Product, error) {
	ids := make([]uint, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	products, err := tx.FindProductsByIDs(ctx, ids)
	if err != nil {
		return nil, &PersistenceError{Op: "find products", Err: err}
	}
	byID := make(map[uint]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var missing []uint
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &ProductNotFoundError{IDs: missing}
	}
	return byID, nil
}

// reserveStock decrements stock line by line. lines must be in ascending
// product id order: every placement takes its row locks in that same global
// order, so two placements over overlapping products cannot deadlock.
// The first line that cannot be covered stops the reservation; the caller's
// transaction then rolls back the decrements already made.
func reserveStock(ctx context.Context, tx repositories.OrderTx, lines []NormalizedLine) error {
	for _, l := range lines {
		ok, err := tx.ConditionalDecrement(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return &PersistenceError{Op: "reserve stock", Err: err}
		}
		if !ok {
			return &OutOfStockError{ProductID: l.ProductID}
		}
	}
	return nil
}

// snapshotPrices copies each product's price, as read by resolveProducts,
// into its order line.
func snapshotPrices(lines []NormalizedLine, products map[uint]models.Product) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.OrderItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     products[l.ProductID].Price,
		})
	}
	return items
}

// assembleOrder computes the total from the captured prices and writes the
// order with its items.
func assembleOrder(ctx context.Context, tx repositories.OrderTx, userID uint, items []models.OrderItem) (*models.Order, error) {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}

	order := &models.Order{
		UserID: userID,
		Total:  total,
		Items:  items,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, &PersistenceError{Op: "create order", Err: err}
	}
	return order, nil
}

// publishOrderPlaced emits order.placed after commit. The order already
// exists at this point, so failures are only logged.
func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(models.OrderPlacedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total.StringFixed(2),
		Items:   order.Items,
	})
	if err != nil {
		s.logger.Error("failed to marshal order event", "order_id", order.ID, "error", err)
		return
	}

	event := models.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     models.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.producer,
		CorrelationID: strconv.FormatUint(uint64(order.ID), 10),
		Payload:       payload,
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish order event", "order_id", order.ID, "event_id", event.EventID, "error", err)
		return
	}
	s.logger.Debug("published order event", "order_id", order.ID, "event_id", event.EventID)
}

type placementState string

const (
	stateStarted    placementState = "started"
	stateNormalized placementState = "normalized"
	stateReserving  placementState = "reserving"
	stateReserved   placementState = "reserved"
	statePriced     placementState = "priced"
	statePersisted  placementState = "persisted"
	stateAborted    placementState = "aborted"
)

// placementAttempt tracks one PlaceOrder call through its states for logging.
type placementAttempt struct {
	state  placementState
	logger *slog.Logger
}

func (s *OrderService) newAttempt(userID uint) *placementAttempt {
	return &placementAttempt{
		state:  stateStarted,
		logger: s.logger.With("user_id", userID),
	}
}

func (a *placementAttempt) advance(next placementState) {
	a.logger.Debug("order placement", "from", a.state, "to", next)
	a.state = next
}

func (a *placementAttempt) abort(err error) error {
	a.logger.Info("order placement aborted",
		"state", a.state,
		"kind", KindOf(err).String(),
		"error", err,
	)
	a.state = stateAborted
	return err
}
