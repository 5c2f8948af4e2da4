package service

import (
	"context"
	"fmt"

	"catalog-api/internal/domain"
	"catalog-api/internal/images"
	"catalog-api/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// CatalogService defines the catalog use cases exposed over HTTP
type CatalogService interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	ListProductsByCategory(ctx context.Context, category domain.Category) ([]*domain.Product, error)
	AttachImage(ctx context.Context, id uuid.UUID, upload images.Upload) ([]string, error)
	ImageURLs(product *domain.Product) []string
	OpenImage(id uuid.UUID, fileName string) (afero.File, error)
	Ping(ctx context.Context) error
}

type catalogService struct {
	products repository.ProductRepository
	images   *images.Manager
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(products repository.ProductRepository, imageManager *images.Manager) CatalogService {
	return &catalogService{
		products: products,
		images:   imageManager,
	}
}

// CreateProduct checks the product invariants and stores it. Invalid products
// never reach the repository.
func (s *catalogService) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.products.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	return product, nil
}

// GetProduct retrieves a product by ID
func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.products.FindByID(ctx, id)
}

// ListProducts retrieves all products
func (s *catalogService) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	return s.products.List(ctx)
}

// ListProductsByCategory retrieves the products of one category
func (s *catalogService) ListProductsByCategory(ctx context.Context, category domain.Category) ([]*domain.Product, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownCategory, int(category))
	}
	return s.products.ListByCategory(ctx, category)
}

// AttachImage stores an uploaded image for the product
func (s *catalogService) AttachImage(ctx context.Context, id uuid.UUID, upload images.Upload) ([]string, error) {
	return s.images.Attach(ctx, id, upload)
}

// ImageURLs returns the product's images as public URLs
func (s *catalogService) ImageURLs(product *domain.Product) []string {
	return s.images.PublicURLs(product)
}

// OpenImage opens a stored image of the product
func (s *catalogService) OpenImage(id uuid.UUID, fileName string) (afero.File, error) {
	return s.images.Open(id, fileName)
}

// Ping checks the product store
func (s *catalogService) Ping(ctx context.Context) error {
	return s.products.Ping(ctx)
}
