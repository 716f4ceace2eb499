package catalog

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stackfin/payflow/internal/common"
)

// Product is a catalog entry. Prices are stored in the smallest currency unit.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the persistence contract the catalog requires.
type Store interface {
	InsertProduct(ctx context.Context, name, description string, price int64, category string) (Product, error)
	ListProducts(ctx context.Context, limit, offset int32) ([]Product, error)
}

// Service exposes product listing and creation. No lifecycle, no concurrency
// hazards: this is plain CRUD.
type Service struct {
	Q Store
}

// Create validates and persists a new product.
func (s *Service) Create(ctx context.Context, name, description string, price int64, category string) (Product, error) {
	if s == nil || s.Q == nil {
		return Product{}, errors.New("catalog: service not configured")
	}
	if strings.TrimSpace(name) == "" {
		return Product{}, common.NewAppError("VALIDATION_ERROR", "name is required", http.StatusBadRequest, nil)
	}
	if price <= 0 {
		return Product{}, common.NewAppError("VALIDATION_ERROR", "price must be positive", http.StatusBadRequest, nil)
	}
	return s.Q.InsertProduct(ctx, strings.TrimSpace(name), strings.TrimSpace(description), price, strings.TrimSpace(category))
}

// List returns products, newest first.
func (s *Service) List(ctx context.Context, limit, offset int32) ([]Product, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("catalog: service not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Q.ListProducts(ctx, limit, offset)
}
