package repository

import (
	"context"
	"errors"
	"fmt"

	"catalog-api/internal/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
	"go.uber.org/zap"
)

type mongoProductRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoProductRepository creates a ProductRepository backed by a MongoDB collection
func NewMongoProductRepository(collection *mongo.Collection, logger *zap.Logger) ProductRepository {
	return &mongoProductRepository{collection: collection, logger: logger}
}

// Create inserts a new product document
func (r *mongoProductRepository) Create(ctx context.Context, product *domain.Product) (uuid.UUID, error) {
	doc := prepareForInsert(product)

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return uuid.Nil, domain.ErrProductAlreadyExists
		}
		return uuid.Nil, r.wrap("create product", err, zap.String("product_id", doc.ID))
	}

	return product.ID, nil
}

// FindByID retrieves a product by ID. Two matches are fetched at most so that
// a duplicated ID is reported instead of silently picking one.
func (r *mongoProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	docs, err := r.find(ctx, bson.M{"_id": id.String()}, options.Find().SetLimit(2))
	if err != nil {
		return nil, r.wrap("find product by ID", err, zap.String("product_id", id.String()))
	}

	product, err := single(id, docs)
	if errors.Is(err, domain.ErrDataIntegrity) {
		r.logger.Error("Product integrity violation", zap.String("product_id", id.String()), zap.Error(err))
	}
	return product, err
}

// List retrieves all products in natural (insertion) order
func (r *mongoProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	docs, err := r.find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return nil, r.wrap("list products", err)
	}
	return toDomainList(docs)
}

// ListByCategory retrieves all products in the given category
func (r *mongoProductRepository) ListByCategory(ctx context.Context, category domain.Category) ([]*domain.Product, error) {
	docs, err := r.find(ctx, bson.M{"category": category.String()}, options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return nil, r.wrap("list products by category", err, zap.Stringer("category", category))
	}
	return toDomainList(docs)
}

// AppendImage adds ref to the product's image list with $addToSet, which the
// server applies atomically per document.
func (r *mongoProductRepository) AppendImage(ctx context.Context, id uuid.UUID, ref string) (int64, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$addToSet": bson.M{"images": ref}},
	)
	if err != nil {
		return 0, r.wrap("append product image", err,
			zap.String("product_id", id.String()),
			zap.String("image", ref),
		)
	}
	return res.ModifiedCount, nil
}

// Ping checks connectivity to the server
func (r *mongoProductRepository) Ping(ctx context.Context) error {
	if err := r.collection.Database().Client().Ping(ctx, nil); err != nil {
		return r.wrap("ping product store", err)
	}
	return nil
}

func (r *mongoProductRepository) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]productDocument, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []productDocument{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// wrap logs a store failure and converts transport-level faults to
// domain.ErrStoreUnavailable.
func (r *mongoProductRepository) wrap(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	r.logger.Error("Product store operation failed", fields...)

	if isMongoUnavailable(err) {
		return fmt.Errorf("failed to %s: %w", op, domain.ErrStoreUnavailable)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isMongoUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var selErr topology.ServerSelectionError
	return errors.As(err, &selErr)
}
