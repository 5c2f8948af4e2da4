package repository

import (
	"context"
	"sync"

	"catalog-api/internal/domain"

	"github.com/google/uuid"
)

type memoryProductRepository struct {
	mu       sync.RWMutex
	order    []uuid.UUID
	products map[uuid.UUID]*domain.Product
}

// NewMemoryProductRepository creates a ProductRepository held in process
// memory. Contents are lost on restart.
func NewMemoryProductRepository() ProductRepository {
	return &memoryProductRepository{products: make(map[uuid.UUID]*domain.Product)}
}

func (r *memoryProductRepository) Create(_ context.Context, product *domain.Product) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID != uuid.Nil {
		if _, exists := r.products[product.ID]; exists {
			return uuid.Nil, domain.ErrProductAlreadyExists
		}
	}

	doc := prepareForInsert(product)
	stored, err := doc.toDomain()
	if err != nil {
		return uuid.Nil, err
	}

	r.products[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return stored.ID, nil
}

func (r *memoryProductRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return product.Clone(), nil
}

func (r *memoryProductRepository) List(_ context.Context) ([]*domain.Product, error) {
	return r.filter(func(*domain.Product) bool { return true }), nil
}

func (r *memoryProductRepository) ListByCategory(_ context.Context, category domain.Category) ([]*domain.Product, error) {
	return r.filter(func(p *domain.Product) bool { return p.Category == category }), nil
}

// AppendImage adds ref unless the product already holds it
func (r *memoryProductRepository) AppendImage(_ context.Context, id uuid.UUID, ref string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return 0, nil
	}
	for _, existing := range product.Images {
		if existing == ref {
			return 0, nil
		}
	}
	product.Images = append(product.Images, ref)
	return 1, nil
}

func (r *memoryProductRepository) Ping(context.Context) error {
	return nil
}

func (r *memoryProductRepository) filter(keep func(*domain.Product) bool) []*domain.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]*domain.Product, 0, len(r.order))
	for _, id := range r.order {
		if p := r.products[id]; keep(p) {
			products = append(products, p.Clone())
		}
	}
	return products
}
