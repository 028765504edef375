// Package configuration turns gallery images and cart lines into durable
// case configuration records.
package configuration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrImageURLRequired = errors.New("imageUrl is required")
	ErrNotFound         = errors.New("configuration not found")
)

type Resolver struct {
	store  store.Store
	now    func() time.Time
	logger *logrus.Logger
}

func NewResolver(s store.Store, logger *logrus.Logger) *Resolver {
	return &Resolver{store: s, now: time.Now, logger: logger}
}

// Resolve returns the configuration already created for imageURL, or
// creates one with the default 512x512 geometry.
func (r *Resolver) Resolve(ctx context.Context, imageURL string) (*models.Configuration, error) {
	return r.ResolveWith(ctx, r.store, imageURL)
}

// ResolveWith is Resolve against q, typically an open transaction.
func (r *Resolver) ResolveWith(ctx context.Context, q store.Queries, imageURL string) (*models.Configuration, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil, ErrImageURLRequired
	}

	existing, err := q.FindConfigurationByImageURL(ctx, imageURL)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up configuration: %w", err)
	}

	cfg := &models.Configuration{
		ID:        uuid.New().String(),
		ImageURL:  imageURL,
		Width:     models.DefaultConfigurationWidth,
		Height:    models.DefaultConfigurationHeight,
		CreatedAt: r.now().UTC(),
	}
	if err := q.CreateConfiguration(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"configuration_id": cfg.ID,
		"image_url":        imageURL,
	}).Info("Configuration created")
	return cfg, nil
}

func (r *Resolver) Get(ctx context.Context, id string) (*models.Configuration, error) {
	return r.GetWith(ctx, r.store, id)
}

func (r *Resolver) GetWith(ctx context.Context, q store.Queries, id string) (*models.Configuration, error) {
	cfg, err := q.GetConfiguration(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", id, err)
	}
	return cfg, nil
}

// ForCartItem resolves the configuration a cart line points at. Lines that
// carry a configId must reference an existing record; lines that only
// carry an image are resolved by image.
func (r *Resolver) ForCartItem(ctx context.Context, q store.Queries, item models.CartItem) (*models.Configuration, error) {
	if item.ConfigID != "" {
		return r.GetWith(ctx, q, item.ConfigID)
	}
	if strings.TrimSpace(item.ImageURL) == "" {
		return nil, ErrNotFound
	}
	return r.ResolveWith(ctx, q, item.ImageURL)
}
