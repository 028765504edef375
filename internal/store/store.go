// Package store is the single persistence adapter for the storefront.
// Postgres is the production backend; the in-memory backend implements
// the same interface for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/casca-store/storefront/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrOwnership is returned when a batch references an order that
	// belongs to a different user.
	ErrOwnership = errors.New("order belongs to another user")
	// ErrOpenOrderExists is returned when a write would leave a user with
	// two open orders for one configuration.
	ErrOpenOrderExists = errors.New("an open order already exists for this configuration")
)

// PaymentDetails carries the address records attached to an order when
// its payment completes.
type PaymentDetails struct {
	Shipping models.Address
	Billing  models.Address
}

// Queries is the set of operations available both directly on a Store
// and inside a transaction.
type Queries interface {
	CreateConfiguration(ctx context.Context, cfg *models.Configuration) error
	GetConfiguration(ctx context.Context, id string) (*models.Configuration, error)
	FindConfigurationByImageURL(ctx context.Context, imageURL string) (*models.Configuration, error)

	// FindOpenOrder returns the unpaid, non-cancelled order of userID for
	// configurationID.
	FindOpenOrder(ctx context.Context, userID, configurationID string) (*models.Order, error)
	// CreateOrderIfAbsent inserts order unless an open order already exists
	// for the same (user, configuration); in that case the existing order
	// is returned and created is false.
	CreateOrderIfAbsent(ctx context.Context, order *models.Order) (existing *models.Order, created bool, err error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// GetOrderForUser loads an order with its configuration and addresses,
	// scoped to its owner.
	GetOrderForUser(ctx context.Context, id, userID string) (*models.Order, error)
	ListOrdersForUser(ctx context.Context, userID string) ([]models.Order, error)
	// CancelOrder sets CANCELLED unless the order is already terminal. It
	// returns the order as stored after the call and whether it changed.
	CancelOrder(ctx context.Context, id, userID, reason string, now time.Time) (*models.Order, bool, error)
	SetOrderStatus(ctx context.Context, id, userID string, status models.OrderStatus, now time.Time) (*models.Order, error)
	// MarkOrderPaid flips is_paid and attaches fresh address records. It
	// returns false without writing anything when the order was already
	// paid.
	MarkOrderPaid(ctx context.Context, id, userID string, details PaymentDetails, now time.Time) (bool, error)
	ListPaidOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User, now time.Time) (created bool, err error)

	CreateReview(ctx context.Context, review *models.Review) error
	ListReviews(ctx context.Context) ([]models.Review, error)
	CreateFeedback(ctx context.Context, feedback *models.Feedback) error

	AddWishlistItem(ctx context.Context, item *models.WishlistItem) error
	ListWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error)
	DeleteWishlistItem(ctx context.Context, id string) error
}

type Store interface {
	Queries
	// InTx runs fn inside a transaction; any error rolls every write back.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
