package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/lib/pq"
)

func (q *pgQueries) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, first_name, last_name, phone, address, picture, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u models.User
	err := q.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName,
		&u.Phone, &u.Address, &u.Picture, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpsertUser inserts the user or updates its mutable fields. Empty profile
// fields in user leave the stored values untouched.
func (q *pgQueries) UpsertUser(ctx context.Context, user *models.User, now time.Time) (bool, error) {
	query := `
		INSERT INTO users (id, email, first_name, last_name, phone, address, picture, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), users.address),
			picture = COALESCE(NULLIF(EXCLUDED.picture, ''), users.picture),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0), first_name, last_name, phone, address, picture, created_at, updated_at
	`
	var created bool
	err := q.db.QueryRowContext(ctx, query, user.ID, user.Email, user.FirstName, user.LastName,
		user.Phone, user.Address, user.Picture, now).
		Scan(&created, &user.FirstName, &user.LastName, &user.Phone, &user.Address, &user.Picture,
			&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (q *pgQueries) CreateReview(ctx context.Context, review *models.Review) error {
	query := `
		INSERT INTO reviews (id, user_id, user_name, user_role, rating, review_text, photos, user_avatar, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.db.ExecContext(ctx, query, review.ID, review.UserID, review.UserName, review.UserRole,
		review.Rating, review.ReviewText, pq.Array(review.Photos), review.UserAvatar, review.CreatedAt)
	return err
}

func (q *pgQueries) ListReviews(ctx context.Context) ([]models.Review, error) {
	query := `
		SELECT id, user_id, user_name, user_role, rating, review_text, photos, user_avatar, created_at
		FROM reviews ORDER BY created_at DESC
	`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserName, &r.UserRole, &r.Rating, &r.ReviewText,
			pq.Array(&r.Photos), &r.UserAvatar, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.Photos == nil {
			r.Photos = []string{}
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (q *pgQueries) CreateFeedback(ctx context.Context, feedback *models.Feedback) error {
	query := `
		INSERT INTO feedback (id, category, nps, message, images, email, ok_to_contact, consent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var nps sql.NullInt64
	if feedback.NPS != nil {
		nps = sql.NullInt64{Int64: int64(*feedback.NPS), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, query, feedback.ID, feedback.Category, nps, feedback.Message,
		pq.Array(feedback.Images), nullString(feedback.Email), feedback.OkToContact, feedback.Consent,
		feedback.CreatedAt)
	return err
}

func (q *pgQueries) AddWishlistItem(ctx context.Context, item *models.WishlistItem) error {
	query := `
		INSERT INTO wishlist (id, configuration_id, image_url, title, description, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.ExecContext(ctx, query, item.ID, item.ConfigurationID, nullString(item.ImageURL),
		item.Title, item.Description, item.UserID, item.CreatedAt)
	return err
}

func (q *pgQueries) ListWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error) {
	query := `
		SELECT id, configuration_id, image_url, title, description, user_id, created_at
		FROM wishlist WHERE ($1::text = '' OR user_id = $1) ORDER BY created_at DESC
	`
	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var (
			item     models.WishlistItem
			imageURL sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.ConfigurationID, &imageURL, &item.Title,
			&item.Description, &item.UserID, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.ImageURL = fromNullString[string](imageURL)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *pgQueries) DeleteWishlistItem(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM wishlist WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
