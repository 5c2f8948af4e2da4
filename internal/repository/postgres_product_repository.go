package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"catalog-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

type postgresProductRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresProductRepository creates a ProductRepository that keeps each
// product as a JSONB document in PostgreSQL.
func NewPostgresProductRepository(db *sql.DB, logger *zap.Logger) ProductRepository {
	return &postgresProductRepository{db: db, logger: logger}
}

// Create inserts a new product document using parameterized queries
func (r *postgresProductRepository) Create(ctx context.Context, product *domain.Product) (uuid.UUID, error) {
	doc := prepareForInsert(product)

	payload, err := json.Marshal(doc)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode product: %w", err)
	}

	query := `
		INSERT INTO catalog_products (id, category, document)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, product.ID, doc.Category, payload); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return uuid.Nil, domain.ErrProductAlreadyExists
		}
		return uuid.Nil, r.wrap("create product", err, zap.String("product_id", doc.ID))
	}

	return product.ID, nil
}

// FindByID retrieves a product by ID
func (r *postgresProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT document FROM catalog_products WHERE id = $1 LIMIT 2`

	docs, err := r.query(ctx, query, id)
	if err != nil {
		return nil, r.wrap("find product by ID", err, zap.String("product_id", id.String()))
	}

	product, err := single(id, docs)
	if errors.Is(err, domain.ErrDataIntegrity) {
		r.logger.Error("Product integrity violation", zap.String("product_id", id.String()), zap.Error(err))
	}
	return product, err
}

// List retrieves all products in insertion order
func (r *postgresProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT document FROM catalog_products ORDER BY seq ASC`

	docs, err := r.query(ctx, query)
	if err != nil {
		return nil, r.wrap("list products", err)
	}
	return toDomainList(docs)
}

// ListByCategory retrieves all products in the given category
func (r *postgresProductRepository) ListByCategory(ctx context.Context, category domain.Category) ([]*domain.Product, error) {
	query := `SELECT document FROM catalog_products WHERE category = $1 ORDER BY seq ASC`

	docs, err := r.query(ctx, query, category.String())
	if err != nil {
		return nil, r.wrap("list products by category", err, zap.Stringer("category", category))
	}
	return toDomainList(docs)
}

// AppendImage appends ref in a single UPDATE. The row lock taken by the
// update serializes concurrent appends on the same product, and the
// containment check keeps the list free of duplicates.
func (r *postgresProductRepository) AppendImage(ctx context.Context, id uuid.UUID, ref string) (int64, error) {
	query := `
		UPDATE catalog_products
		SET document = jsonb_set(
			document,
			'{images}',
			COALESCE(document->'images', '[]'::jsonb) || to_jsonb($2::text)
		)
		WHERE id = $1
		  AND NOT (COALESCE(document->'images', '[]'::jsonb) @> jsonb_build_array($2::text))
	`

	result, err := r.db.ExecContext(ctx, query, id, ref)
	if err != nil {
		return 0, r.wrap("append product image", err,
			zap.String("product_id", id.String()),
			zap.String("image", ref),
		)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// Ping checks connectivity to the database
func (r *postgresProductRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return r.wrap("ping product store", err)
	}
	return nil
}

func (r *postgresProductRepository) query(ctx context.Context, query string, args ...interface{}) ([]productDocument, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []productDocument{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		var doc productDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: undecodable document: %v", domain.ErrDataIntegrity, err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return docs, nil
}

func (r *postgresProductRepository) wrap(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	r.logger.Error("Product store operation failed", fields...)

	if isPostgresUnavailable(err) {
		return fmt.Errorf("failed to %s: %w", op, domain.ErrStoreUnavailable)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// errDBClosed is the text database/sql returns once the pool is closed. The
// package does not export it as a sentinel.
const errDBClosed = "sql: database is closed"

func isPostgresUnavailable(err error) bool {
	if strings.Contains(err.Error(), errDBClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
