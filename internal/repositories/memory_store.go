package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/RajaSunrise/toko-order/internal/models"
)

// MemoryStore keeps products, orders and users in memory. It backs the
// "memory" database driver and the engine tests. A unit of work holds the
// store lock for its whole duration, so transactions are serialized and
// undone on failure.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[uint]models.Product
	orders   map[uint]models.Order
	users    map[uint]models.User

	lastProductID uint
	lastOrderID   uint
	lastItemID    uint
	lastUserID    uint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[uint]models.Product),
		orders:   make(map[uint]models.Order),
		users:    make(map[uint]models.User),
	}
}

// Products returns a ProductRepository view of the store.
func (s *MemoryStore) Products() *MemoryProductRepository {
	return &MemoryProductRepository{store: s}
}

// Orders returns an OrderRepository view of the store.
func (s *MemoryStore) Orders() *MemoryOrderRepository {
	return &MemoryOrderRepository{store: s}
}

// Users returns a UserRepository view of the store.
func (s *MemoryStore) Users() *MemoryUserRepository {
	return &MemoryUserRepository{store: s}
}

// MemoryProductRepository is an in-memory implementation of ProductRepository.
type MemoryProductRepository struct {
	store *MemoryStore
}

// GetAll returns all products ordered by id.
func (r *MemoryProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.store.products))
	for _, p := range r.store.products {
		productList = append(productList, p)
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].ID < productList[j].ID })
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MemoryProductRepository) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %d: %w", id, ErrNotFound)
	}
	return &product, nil
}

// Create adds a new product and assigns its ID.
func (r *MemoryProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.Stock < 0 {
		return fmt.Errorf("failed to create product: stock cannot be negative")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.lastProductID++
	now := time.Now()
	product.ID = r.store.lastProductID
	product.CreatedAt = now
	product.UpdatedAt = now
	r.store.products[product.ID] = *product
	return nil
}

// Update overwrites the catalog fields of an existing product.
func (r *MemoryProductRepository) Update(ctx context.Context, product *models.Product) error {
	if product.Stock < 0 {
		return fmt.Errorf("failed to update product: stock cannot be negative")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, ok := r.store.products[product.ID]
	if !ok {
		return fmt.Errorf("product with ID %d not found for update: %w", product.ID, ErrNotFound)
	}
	existing.Name = product.Name
	existing.Description = product.Description
	existing.Price = product.Price
	existing.Stock = product.Stock
	existing.UpdatedAt = time.Now()
	r.store.products[product.ID] = existing
	*product = existing
	return nil
}

// Delete removes a product by its ID.
func (r *MemoryProductRepository) Delete(ctx context.Context, id uint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.products[id]; !ok {
		return fmt.Errorf("product with ID %d not found for deletion: %w", id, ErrNotFound)
	}
	delete(r.store.products, id)
	return nil
}

// MemoryOrderRepository is an in-memory implementation of OrderRepository.
type MemoryOrderRepository struct {
	store *MemoryStore
}

// WithinTx runs fn while holding the store's write lock. Every change made
// through the OrderTx is undone if fn returns an error or panics.
func (r *MemoryOrderRepository) WithinTx(ctx context.Context, fn func(tx OrderTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx := &memoryOrderTx{store: r.store}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetAll returns all orders, newest first.
func (r *MemoryOrderRepository) GetAll(ctx context.Context) ([]models.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.collectOrders(func(models.Order) bool { return true }), nil
}

// GetByID returns an order by its ID.
func (r *MemoryOrderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return nil, fmt.Errorf("order with ID %d: %w", id, ErrNotFound)
	}
	order.Items = slices.Clone(order.Items)
	return &order, nil
}

// GetByUserID returns the orders of one user, newest first.
func (r *MemoryOrderRepository) GetByUserID(ctx context.Context, userID uint) ([]models.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.collectOrders(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *MemoryStore) collectOrders(keep func(models.Order) bool) []models.Order {
	orderList := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			o.Items = slices.Clone(o.Items)
			orderList = append(orderList, o)
		}
	}
	sort.Slice(orderList, func(i, j int) bool { return orderList[i].ID > orderList[j].ID })
	return orderList
}

// memoryOrderTx runs with the store lock already held.
type memoryOrderTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryOrderTx) FindProductsByIDs(ctx context.Context, ids []uint) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.store.products[id]; ok {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (t *memoryOrderTx) ConditionalDecrement(ctx context.Context, productID uint, quantity int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if quantity <= 0 {
		return false, fmt.Errorf("failed to decrement stock of product %d: %w", productID, ErrInvalidQuantity)
	}
	p, ok := t.store.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	before := p
	p.Stock -= quantity
	p.UpdatedAt = time.Now()
	t.store.products[productID] = p
	t.undo = append(t.undo, func() { t.store.products[productID] = before })
	return true, nil
}

func (t *memoryOrderTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("failed to create order: quantity of product %d must be positive", item.ProductID)
		}
	}

	t.store.lastOrderID++
	order.ID = t.store.lastOrderID
	order.CreatedAt = time.Now()
	for i := range order.Items {
		t.store.lastItemID++
		order.Items[i].ID = t.store.lastItemID
		order.Items[i].OrderID = order.ID
	}

	stored := *order
	stored.Items = slices.Clone(order.Items)
	t.store.orders[order.ID] = stored
	id := order.ID
	t.undo = append(t.undo, func() { delete(t.store.orders, id) })
	return nil
}

func (t *memoryOrderTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// MemoryUserRepository is an in-memory implementation of UserRepository.
type MemoryUserRepository struct {
	store *MemoryStore
}

// Create adds a new user. Emails are unique.
func (r *MemoryUserRepository) Create(ctx context.Context, user *models.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, u := range r.store.users {
		if u.Email == user.Email {
			return fmt.Errorf("failed to create user: email %s already exists", user.Email)
		}
	}
	r.store.lastUserID++
	user.ID = r.store.lastUserID
	user.CreatedAt = time.Now()
	stored := *user
	stored.Password = ""
	r.store.users[user.ID] = stored
	return nil
}

// GetByEmail returns a user by email.
func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, u := range r.store.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
}

// GetByID returns a user by ID.
func (r *MemoryUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	user, ok := r.store.users[id]
	if !ok {
		return nil, fmt.Errorf("user with ID %d: %w", id, ErrNotFound)
	}
	return &user, nil
}
