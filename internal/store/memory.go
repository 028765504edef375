package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
)

type memState struct {
	configurations map[string]models.Configuration
	orders         map[string]models.Order
	addresses      map[string]models.Address
	users          map[string]models.User
	reviews        []models.Review
	feedback       []models.Feedback
	wishlist       map[string]models.WishlistItem
}

func newMemState() *memState {
	return &memState{
		configurations: make(map[string]models.Configuration),
		orders:         make(map[string]models.Order),
		addresses:      make(map[string]models.Address),
		users:          make(map[string]models.User),
		wishlist:       make(map[string]models.WishlistItem),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.configurations {
		c.configurations[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.wishlist {
		c.wishlist[k] = v
	}
	c.reviews = append([]models.Review(nil), s.reviews...)
	c.feedback = append([]models.Feedback(nil), s.feedback...)
	return c
}

// memQueries locks mu around every call; inside a transaction mu is nil
// because InTx already holds the store lock.
type memQueries struct {
	mu *sync.Mutex
	st *memState
}

func (q *memQueries) lock() func() {
	if q.mu == nil {
		return func() {}
	}
	q.mu.Lock()
	return q.mu.Unlock
}

// MemoryStore keeps everything in process memory. Transactions hold a
// single store-wide lock and restore a snapshot on error.
type MemoryStore struct {
	*memQueries
	mu sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.memQueries = &memQueries{mu: &s.mu, st: newMemState()}
	return s
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memQueries{st: s.st}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (q *memQueries) CreateConfiguration(ctx context.Context, cfg *models.Configuration) error {
	defer q.lock()()
	q.st.configurations[cfg.ID] = *cfg
	return nil
}

func (q *memQueries) GetConfiguration(ctx context.Context, id string) (*models.Configuration, error) {
	defer q.lock()()
	cfg, ok := q.st.configurations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (q *memQueries) FindConfigurationByImageURL(ctx context.Context, imageURL string) (*models.Configuration, error) {
	defer q.lock()()
	var found *models.Configuration
	for _, cfg := range q.st.configurations {
		if cfg.ImageURL != imageURL {
			continue
		}
		if found == nil || cfg.CreatedAt.Before(found.CreatedAt) {
			c := cfg
			found = &c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (st *memState) findOpenOrder(userID, configurationID string) (*models.Order, bool) {
	for _, o := range st.orders {
		if o.UserID == userID && o.ConfigurationID == configurationID &&
			!o.IsPaid && o.Status != models.OrderStatusCancelled {
			return &o, true
		}
	}
	return nil, false
}

func (q *memQueries) FindOpenOrder(ctx context.Context, userID, configurationID string) (*models.Order, error) {
	defer q.lock()()
	o, ok := q.st.findOpenOrder(userID, configurationID)
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (q *memQueries) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	defer q.lock()()
	if existing, ok := q.st.findOpenOrder(order.UserID, order.ConfigurationID); ok {
		return existing, false, nil
	}
	q.st.orders[order.ID] = *order
	created := *order
	return &created, true, nil
}

// withRelations returns a copy of o with configuration, addresses and user
// attached.
func (st *memState) withRelations(o models.Order) models.Order {
	if cfg, ok := st.configurations[o.ConfigurationID]; ok {
		o.Configuration = &cfg
	}
	if o.ShippingAddressID != nil {
		if addr, ok := st.addresses[*o.ShippingAddressID]; ok {
			o.ShippingAddress = &addr
		}
	}
	if o.BillingAddressID != nil {
		if addr, ok := st.addresses[*o.BillingAddressID]; ok {
			o.BillingAddress = &addr
		}
	}
	if u, ok := st.users[o.UserID]; ok {
		o.User = &models.User{ID: u.ID, Email: u.Email}
	}
	return o
}

func (q *memQueries) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	defer q.lock()()
	o, ok := q.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	full := q.st.withRelations(o)
	return &full, nil
}

func (q *memQueries) GetOrderForUser(ctx context.Context, id, userID string) (*models.Order, error) {
	defer q.lock()()
	o, ok := q.st.orders[id]
	if !ok || o.UserID != userID {
		return nil, ErrNotFound
	}
	full := q.st.withRelations(o)
	return &full, nil
}

func (st *memState) listOrders(match func(models.Order) bool) []models.Order {
	orders := []models.Order{}
	for _, o := range st.orders {
		if match(o) {
			orders = append(orders, st.withRelations(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders
}

func (q *memQueries) ListOrdersForUser(ctx context.Context, userID string) ([]models.Order, error) {
	defer q.lock()()
	return q.st.listOrders(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (q *memQueries) ListPaidOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	defer q.lock()()
	return q.st.listOrders(func(o models.Order) bool {
		return o.IsPaid && !o.CreatedAt.Before(since)
	}), nil
}

func (q *memQueries) CancelOrder(ctx context.Context, id, userID, reason string, now time.Time) (*models.Order, bool, error) {
	defer q.lock()()
	o, ok := q.st.orders[id]
	if !ok || o.UserID != userID {
		return nil, false, ErrNotFound
	}
	changed := false
	if !o.Status.IsTerminal() {
		o.Status = models.OrderStatusCancelled
		o.CancelReason = &reason
		o.UpdatedAt = now
		q.st.orders[id] = o
		changed = true
	}
	full := q.st.withRelations(o)
	return &full, changed, nil
}

func (q *memQueries) SetOrderStatus(ctx context.Context, id, userID string, status models.OrderStatus, now time.Time) (*models.Order, error) {
	defer q.lock()()
	o, ok := q.st.orders[id]
	if !ok || o.UserID != userID {
		return nil, ErrNotFound
	}
	if !o.IsPaid && status != models.OrderStatusCancelled {
		if open, ok := q.st.findOpenOrder(o.UserID, o.ConfigurationID); ok && open.ID != o.ID {
			return nil, ErrOpenOrderExists
		}
	}
	o.Status = status
	o.UpdatedAt = now
	q.st.orders[id] = o
	full := q.st.withRelations(o)
	return &full, nil
}

func (q *memQueries) MarkOrderPaid(ctx context.Context, id, userID string, details PaymentDetails, now time.Time) (bool, error) {
	defer q.lock()()
	o, ok := q.st.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.UserID != userID {
		return false, ErrOwnership
	}
	if o.IsPaid {
		return false, nil
	}

	shipping := details.Shipping
	if shipping.ID == "" {
		shipping.ID = uuid.New().String()
	}
	billing := details.Billing
	if billing.ID == "" {
		billing.ID = uuid.New().String()
	}
	q.st.addresses[shipping.ID] = shipping
	q.st.addresses[billing.ID] = billing

	o.IsPaid = true
	o.ShippingAddressID = &shipping.ID
	o.BillingAddressID = &billing.ID
	o.UpdatedAt = now
	q.st.orders[id] = o
	return true, nil
}

// AddressCount reports how many address records exist.
func (s *MemoryStore) AddressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.addresses)
}

func (q *memQueries) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer q.lock()()
	u, ok := q.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (q *memQueries) UpsertUser(ctx context.Context, user *models.User, now time.Time) (bool, error) {
	defer q.lock()()
	existing, ok := q.st.users[user.ID]
	if !ok {
		user.CreatedAt = now
		user.UpdatedAt = now
		q.st.users[user.ID] = *user
		return true, nil
	}

	existing.Email = user.Email
	mergeField(&existing.FirstName, user.FirstName)
	mergeField(&existing.LastName, user.LastName)
	mergeField(&existing.Phone, user.Phone)
	mergeField(&existing.Address, user.Address)
	mergeField(&existing.Picture, user.Picture)
	existing.UpdatedAt = now
	q.st.users[user.ID] = existing
	*user = existing
	return false, nil
}

func mergeField(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (q *memQueries) CreateReview(ctx context.Context, review *models.Review) error {
	defer q.lock()()
	q.st.reviews = append(q.st.reviews, *review)
	return nil
}

func (q *memQueries) ListReviews(ctx context.Context) ([]models.Review, error) {
	defer q.lock()()
	reviews := append([]models.Review{}, q.st.reviews...)
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}

func (q *memQueries) CreateFeedback(ctx context.Context, feedback *models.Feedback) error {
	defer q.lock()()
	q.st.feedback = append(q.st.feedback, *feedback)
	return nil
}

func (q *memQueries) AddWishlistItem(ctx context.Context, item *models.WishlistItem) error {
	defer q.lock()()
	q.st.wishlist[item.ID] = *item
	return nil
}

func (q *memQueries) ListWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error) {
	defer q.lock()()
	items := []models.WishlistItem{}
	for _, item := range q.st.wishlist {
		if userID == "" || item.UserID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (q *memQueries) DeleteWishlistItem(ctx context.Context, id string) error {
	defer q.lock()()
	if _, ok := q.st.wishlist[id]; !ok {
		return ErrNotFound
	}
	delete(q.st.wishlist, id)
	return nil
}

// FeedbackEntries returns a copy of every stored feedback submission.
func (s *MemoryStore) FeedbackEntries() []models.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Feedback(nil), s.st.feedback...)
}
