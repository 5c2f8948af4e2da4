package service

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"catalog-api/internal/domain"
	"catalog-api/internal/images"
	"catalog-api/internal/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingRepository records how often products reach persistence
type countingRepository struct {
	repository.ProductRepository

	mu      sync.Mutex
	creates int
}

func newCountingRepository() *countingRepository {
	return &countingRepository{ProductRepository: repository.NewMemoryProductRepository()}
}

func (r *countingRepository) Create(ctx context.Context, product *domain.Product) (uuid.UUID, error) {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.ProductRepository.Create(ctx, product)
}

func (r *countingRepository) Creates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates
}

func newTestService(repo repository.ProductRepository) CatalogService {
	manager := images.NewManager(afero.NewMemMapFs(), images.Config{
		ContentRoot:   "/srv/images",
		PublicBaseURL: "http://localhost:5047/UploadedImages",
	}, repo, zap.NewNop(), nil)
	return NewCatalogService(repo, manager)
}

func TestCreateProduct(t *testing.T) {
	repo := newCountingRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, &domain.Product{Name: "Lamp", Valuation: 10, Category: domain.CategoryHomeAppliances})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := svc.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Name)
}

func TestCreateProduct_DuplicateID(t *testing.T) {
	svc := newTestService(repository.NewMemoryProductRepository())
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.CreateProduct(ctx, &domain.Product{ID: id, Name: "Lamp", Valuation: 10})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, &domain.Product{ID: id, Name: "Lamp again", Valuation: 10})
	assert.ErrorIs(t, err, domain.ErrProductAlreadyExists)
}

func TestProperty_InvalidProductsNeverReachPersistence(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("products with a non-positive valuation are rejected before storage", prop.ForAll(
		func(name string, valuation float64) bool {
			repo := newCountingRepository()
			svc := newTestService(repo)

			_, err := svc.CreateProduct(context.Background(), &domain.Product{Name: name, Valuation: valuation})
			return domain.IsValidation(err) && repo.Creates() == 0
		},
		gen.AlphaString(),
		gen.Float64Range(-1000000, 0),
	))

	properties.Property("products with a blank name are rejected before storage", prop.ForAll(
		func(spaces int, valuation float64) bool {
			repo := newCountingRepository()
			svc := newTestService(repo)

			name := ""
			for i := 0; i < spaces; i++ {
				name += " "
			}
			_, err := svc.CreateProduct(context.Background(), &domain.Product{Name: name, Valuation: valuation})
			return domain.IsValidation(err) && repo.Creates() == 0
		},
		gen.IntRange(0, 10),
		gen.Float64Range(0.01, 1000000),
	))

	properties.TestingRun(t)
}

func TestProperty_CreatedProductsGetDistinctIDs(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every created product receives a unique id", prop.ForAll(
		func(count int) bool {
			svc := newTestService(repository.NewMemoryProductRepository())
			seen := make(map[uuid.UUID]bool, count)

			for i := 0; i < count; i++ {
				created, err := svc.CreateProduct(context.Background(), &domain.Product{Name: "Lamp", Valuation: 1})
				if err != nil || created.ID == uuid.Nil || seen[created.ID] {
					return false
				}
				seen[created.ID] = true
			}
			return true
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestListProductsByCategory(t *testing.T) {
	svc := newTestService(repository.NewMemoryProductRepository())
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, &domain.Product{Name: "Atlas", Valuation: 5, Category: domain.CategoryBooks})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, &domain.Product{Name: "Lamp", Valuation: 5, Category: domain.CategoryHomeAppliances})
	require.NoError(t, err)

	books, err := svc.ListProductsByCategory(ctx, domain.CategoryBooks)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Atlas", books[0].Name)

	_, err = svc.ListProductsByCategory(ctx, domain.Category(99))
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestAttachImageAndURLs(t *testing.T) {
	svc := newTestService(repository.NewMemoryProductRepository())
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, &domain.Product{Name: "Lamp", Valuation: 5})
	require.NoError(t, err)

	content := []byte("lamp")
	urls, err := svc.AttachImage(ctx, created.ID, images.Upload{FileName: "lamp.png", Size: int64(len(content)), Content: bytes.NewReader(content)})
	require.NoError(t, err)

	product, err := svc.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, urls, svc.ImageURLs(product))

	f, err := svc.OpenImage(created.ID, "lamp.png")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.NoError(t, svc.Ping(ctx))
}
