package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `o.id, o.user_id, o.configuration_id, o.amount, o.status, o.is_paid,
	o.created_at, o.updated_at, o.shipping_address_id, o.billing_address_id, o.cancel_reason`

const orderWithRelationsQuery = `
	SELECT ` + orderColumns + `,
		c.id, c.image_url, c.width, c.height, c.color, c.model, c.material, c.finish,
		c.cropped_image_url, c.created_at,
		s.id, s.name, s.city, s.country, s.postal_code, s.state, s.phone_number,
		b.id, b.name, b.city, b.country, b.postal_code, b.state, b.phone_number,
		u.id, u.email
	FROM orders o
	JOIN configurations c ON c.id = o.configuration_id
	LEFT JOIN addresses s ON s.id = o.shipping_address_id
	LEFT JOIN addresses b ON b.id = o.billing_address_id
	LEFT JOIN users u ON u.id = o.user_id
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o            models.Order
		amount       int64
		status       string
		shippingID   sql.NullString
		billingID    sql.NullString
		cancelReason sql.NullString
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ConfigurationID, &amount, &status, &o.IsPaid,
		&o.CreatedAt, &o.UpdatedAt, &shippingID, &billingID, &cancelReason)
	if err != nil {
		return nil, err
	}
	o.Amount = models.Amount(amount)
	o.Status = models.OrderStatus(status)
	o.ShippingAddressID = fromNullString[string](shippingID)
	o.BillingAddressID = fromNullString[string](billingID)
	o.CancelReason = fromNullString[string](cancelReason)
	return &o, nil
}

type nullAddress struct {
	id, name, city, country, postalCode, state, phone sql.NullString
}

func (a *nullAddress) dest() []interface{} {
	return []interface{}{&a.id, &a.name, &a.city, &a.country, &a.postalCode, &a.state, &a.phone}
}

func (a *nullAddress) address() *models.Address {
	if !a.id.Valid {
		return nil
	}
	return &models.Address{
		ID:          a.id.String,
		Name:        a.name.String,
		City:        a.city.String,
		Country:     a.country.String,
		PostalCode:  a.postalCode.String,
		State:       a.state.String,
		PhoneNumber: fromNullString[string](a.phone),
	}
}

func scanOrderWithRelations(row rowScanner) (*models.Order, error) {
	var (
		o            models.Order
		amount       int64
		status       string
		shippingID   sql.NullString
		billingID    sql.NullString
		cancelReason sql.NullString
		cfg          models.Configuration
		color        sql.NullString
		model        sql.NullString
		material     sql.NullString
		finish       sql.NullString
		cropped      sql.NullString
		shipping     nullAddress
		billing      nullAddress
		userID       sql.NullString
		userEmail    sql.NullString
	)
	dest := []interface{}{&o.ID, &o.UserID, &o.ConfigurationID, &amount, &status, &o.IsPaid,
		&o.CreatedAt, &o.UpdatedAt, &shippingID, &billingID, &cancelReason,
		&cfg.ID, &cfg.ImageURL, &cfg.Width, &cfg.Height, &color, &model, &material, &finish,
		&cropped, &cfg.CreatedAt}
	dest = append(dest, shipping.dest()...)
	dest = append(dest, billing.dest()...)
	dest = append(dest, &userID, &userEmail)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	o.Amount = models.Amount(amount)
	o.Status = models.OrderStatus(status)
	o.ShippingAddressID = fromNullString[string](shippingID)
	o.BillingAddressID = fromNullString[string](billingID)
	o.CancelReason = fromNullString[string](cancelReason)

	cfg.Color = fromNullString[models.CaseColor](color)
	cfg.Model = fromNullString[models.PhoneModel](model)
	cfg.Material = fromNullString[models.CaseMaterial](material)
	cfg.Finish = fromNullString[models.CaseFinish](finish)
	cfg.CroppedImageURL = fromNullString[string](cropped)
	o.Configuration = &cfg

	o.ShippingAddress = shipping.address()
	o.BillingAddress = billing.address()
	if userID.Valid {
		o.User = &models.User{ID: userID.String, Email: userEmail.String}
	}
	return &o, nil
}

func (q *pgQueries) CreateConfiguration(ctx context.Context, cfg *models.Configuration) error {
	query := `
		INSERT INTO configurations (id, image_url, width, height, color, model, material, finish, cropped_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.db.ExecContext(ctx, query, cfg.ID, cfg.ImageURL, cfg.Width, cfg.Height,
		nullString(cfg.Color), nullString(cfg.Model), nullString(cfg.Material), nullString(cfg.Finish),
		nullString(cfg.CroppedImageURL), cfg.CreatedAt)
	return err
}

const configurationQuery = `
	SELECT id, image_url, width, height, color, model, material, finish, cropped_image_url, created_at
	FROM configurations
`

func scanConfiguration(row rowScanner) (*models.Configuration, error) {
	var (
		cfg                                    models.Configuration
		color, model, material, finish, cropped sql.NullString
	)
	err := row.Scan(&cfg.ID, &cfg.ImageURL, &cfg.Width, &cfg.Height,
		&color, &model, &material, &finish, &cropped, &cfg.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	cfg.Color = fromNullString[models.CaseColor](color)
	cfg.Model = fromNullString[models.PhoneModel](model)
	cfg.Material = fromNullString[models.CaseMaterial](material)
	cfg.Finish = fromNullString[models.CaseFinish](finish)
	cfg.CroppedImageURL = fromNullString[string](cropped)
	return &cfg, nil
}

func (q *pgQueries) GetConfiguration(ctx context.Context, id string) (*models.Configuration, error) {
	return scanConfiguration(q.db.QueryRowContext(ctx, configurationQuery+` WHERE id = $1`, id))
}

func (q *pgQueries) FindConfigurationByImageURL(ctx context.Context, imageURL string) (*models.Configuration, error) {
	return scanConfiguration(q.db.QueryRowContext(ctx,
		configurationQuery+` WHERE image_url = $1 ORDER BY created_at ASC LIMIT 1`, imageURL))
}

func (q *pgQueries) FindOpenOrder(ctx context.Context, userID, configurationID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		WHERE o.user_id = $1 AND o.configuration_id = $2 AND o.is_paid = FALSE AND o.status <> 'CANCELLED'
		LIMIT 1`
	order, err := scanOrder(q.db.QueryRowContext(ctx, query, userID, configurationID))
	if err != nil {
		return nil, notFound(err)
	}
	return order, nil
}

func (q *pgQueries) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	query := `
		INSERT INTO orders (id, user_id, configuration_id, amount, status, is_paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		ON CONFLICT (user_id, configuration_id) WHERE is_paid = FALSE AND status <> 'CANCELLED'
		DO NOTHING
	`
	res, err := q.db.ExecContext(ctx, query, order.ID, order.UserID, order.ConfigurationID,
		int64(order.Amount), string(order.Status), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return order, true, nil
	}

	existing, err := q.FindOpenOrder(ctx, order.UserID, order.ConfigurationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (q *pgQueries) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrderWithRelations(q.db.QueryRowContext(ctx, orderWithRelationsQuery+` WHERE o.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return order, nil
}

func (q *pgQueries) GetOrderForUser(ctx context.Context, id, userID string) (*models.Order, error) {
	order, err := scanOrderWithRelations(q.db.QueryRowContext(ctx,
		orderWithRelationsQuery+` WHERE o.id = $1 AND o.user_id = $2`, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return order, nil
}

func (q *pgQueries) listOrders(ctx context.Context, where string, args ...interface{}) ([]models.Order, error) {
	rows, err := q.db.QueryContext(ctx, orderWithRelationsQuery+where+` ORDER BY o.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrderWithRelations(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (q *pgQueries) ListOrdersForUser(ctx context.Context, userID string) ([]models.Order, error) {
	return q.listOrders(ctx, ` WHERE o.user_id = $1`, userID)
}

func (q *pgQueries) ListPaidOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	return q.listOrders(ctx, ` WHERE o.is_paid = TRUE AND o.created_at >= $1`, since)
}

func (q *pgQueries) CancelOrder(ctx context.Context, id, userID, reason string, now time.Time) (*models.Order, bool, error) {
	query := `
		UPDATE orders SET status = 'CANCELLED', cancel_reason = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND status NOT IN ('DELIVERED', 'CANCELLED')
	`
	res, err := q.db.ExecContext(ctx, query, id, userID, reason, now)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	order, err := q.GetOrderForUser(ctx, id, userID)
	if err != nil {
		return nil, false, err
	}
	return order, affected == 1, nil
}

func (q *pgQueries) SetOrderStatus(ctx context.Context, id, userID string, status models.OrderStatus, now time.Time) (*models.Order, error) {
	query := `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`
	res, err := q.db.ExecContext(ctx, query, id, userID, string(status), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrOpenOrderExists
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return q.GetOrderForUser(ctx, id, userID)
}

func (q *pgQueries) insertAddress(ctx context.Context, addr *models.Address) error {
	if addr.ID == "" {
		addr.ID = uuid.New().String()
	}
	query := `
		INSERT INTO addresses (id, name, city, country, postal_code, state, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.ExecContext(ctx, query, addr.ID, addr.Name, addr.City, addr.Country,
		addr.PostalCode, addr.State, nullString(addr.PhoneNumber))
	return err
}

func (q *pgQueries) MarkOrderPaid(ctx context.Context, id, userID string, details PaymentDetails, now time.Time) (bool, error) {
	var (
		owner  string
		isPaid bool
	)
	err := q.db.QueryRowContext(ctx, `SELECT user_id, is_paid FROM orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&owner, &isPaid)
	if err != nil {
		return false, notFound(err)
	}
	if owner != userID {
		return false, ErrOwnership
	}
	if isPaid {
		return false, nil
	}

	shipping := details.Shipping
	billing := details.Billing
	if err := q.insertAddress(ctx, &shipping); err != nil {
		return false, err
	}
	if err := q.insertAddress(ctx, &billing); err != nil {
		return false, err
	}

	query := `
		UPDATE orders SET is_paid = TRUE, shipping_address_id = $2, billing_address_id = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := q.db.ExecContext(ctx, query, id, shipping.ID, billing.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

// isUniqueViolation reports whether err is Postgres rejecting a duplicate
// key, here the one-open-order-per-configuration index.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
