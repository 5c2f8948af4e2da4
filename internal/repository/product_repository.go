package repository

import (
	"context"
	"fmt"
	"time"

	"catalog-api/internal/domain"

	"github.com/google/uuid"
)

// ProductRepository defines the interface for product data access. It is the
// only component that knows how products are queried and stored.
type ProductRepository interface {
	// Create stores a new product. A zero ID is replaced with a fresh one; the
	// stored ID is always returned. An existing ID fails with
	// domain.ErrProductAlreadyExists.
	Create(ctx context.Context, product *domain.Product) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context) ([]*domain.Product, error)
	ListByCategory(ctx context.Context, category domain.Category) ([]*domain.Product, error)
	// AppendImage atomically adds a relative image reference to the product and
	// returns the number of modified products (0 or 1).
	AppendImage(ctx context.Context, id uuid.UUID, ref string) (int64, error)
	Ping(ctx context.Context) error
}

// productDocument is the stored shape of a product, shared by the document
// store and the JSONB table.
type productDocument struct {
	ID           string     `bson:"_id" json:"id"`
	Name         string     `bson:"name" json:"name"`
	Description  string     `bson:"description,omitempty" json:"description,omitempty"`
	Category     string     `bson:"category" json:"category"`
	Valuation    float64    `bson:"valuation" json:"valuation"`
	Brand        string     `bson:"brand,omitempty" json:"brand,omitempty"`
	Manufacturer string     `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Model        string     `bson:"model,omitempty" json:"model,omitempty"`
	Condition    string     `bson:"condition,omitempty" json:"condition,omitempty"`
	ProductURL   string     `bson:"productUrl,omitempty" json:"productUrl,omitempty"`
	Images       []string   `bson:"images" json:"images"`
	ReleaseDate  *time.Time `bson:"releaseDate,omitempty" json:"releaseDate,omitempty"`
	ExpiryDate   *time.Time `bson:"expiryDate,omitempty" json:"expiryDate,omitempty"`
}

// prepareForInsert assigns an ID when missing and returns the document to
// write. Image references are owned by the upload path, so a new product
// always starts with an empty list.
func prepareForInsert(product *domain.Product) productDocument {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.Images = []string{}

	return productDocument{
		ID:           product.ID.String(),
		Name:         product.Name,
		Description:  product.Description,
		Category:     product.Category.String(),
		Valuation:    product.Valuation,
		Brand:        product.Brand,
		Manufacturer: product.Manufacturer,
		Model:        product.Model,
		Condition:    product.Condition,
		ProductURL:   product.ProductURL,
		Images:       []string{},
		ReleaseDate:  product.ReleaseDate,
		ExpiryDate:   product.ExpiryDate,
	}
}

func (d *productDocument) toDomain() (*domain.Product, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed id %q", domain.ErrDataIntegrity, d.ID)
	}

	category, err := domain.ParseCategory(d.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: product %s: %v", domain.ErrDataIntegrity, d.ID, err)
	}

	images := d.Images
	if images == nil {
		images = []string{}
	}

	return &domain.Product{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		Category:     category,
		Valuation:    d.Valuation,
		Brand:        d.Brand,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Condition:    d.Condition,
		ProductURL:   d.ProductURL,
		Images:       images,
		ReleaseDate:  d.ReleaseDate,
		ExpiryDate:   d.ExpiryDate,
	}, nil
}

// single enforces the at-most-one-match contract of FindByID.
func single(id uuid.UUID, docs []productDocument) (*domain.Product, error) {
	switch len(docs) {
	case 0:
		return nil, domain.ErrProductNotFound
	case 1:
		return docs[0].toDomain()
	default:
		return nil, fmt.Errorf("%w: %d products share id %s", domain.ErrDataIntegrity, len(docs), id)
	}
}

func toDomainList(docs []productDocument) ([]*domain.Product, error) {
	products := make([]*domain.Product, 0, len(docs))
	for i := range docs {
		product, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}
