// Package images stores uploaded product images under a per-product
// directory of the content root and registers them on the owning product.
package images

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"catalog-api/internal/domain"
	"catalog-api/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrEmptyImage         = errors.New("no image provided")
	ErrInvalidFileName    = errors.New("invalid image file name")
	ErrUnsupportedType    = errors.New("unsupported image content type")
	ErrStorageUnavailable = errors.New("image storage unavailable")
)

// sniffLen is the number of leading bytes inspected before writing
const sniffLen = 512

// ProductStore is the part of the product repository the manager needs
type ProductStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	AppendImage(ctx context.Context, id uuid.UUID, ref string) (int64, error)
}

// Config configures a Manager
type Config struct {
	// ContentRoot is the directory holding one subdirectory per product
	ContentRoot string
	// PublicBaseURL prefixes every URL handed to clients
	PublicBaseURL string
	// AllowedTypes restricts uploads to these MIME types; empty allows anything
	AllowedTypes []string
}

// Upload is one uploaded file
type Upload struct {
	FileName string
	// Size as announced by the client; zero or negative means unknown
	Size    int64
	Content io.Reader
}

// Manager persists uploads and keeps product image references in sync
type Manager struct {
	fs      afero.Fs
	cfg     Config
	store   ProductStore
	logger  *zap.Logger
	metrics *metrics.CatalogMetrics
}

// NewManager creates a Manager writing to fs
func NewManager(fs afero.Fs, cfg Config, store ProductStore, logger *zap.Logger, m *metrics.CatalogMetrics) *Manager {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Manager{fs: fs, cfg: cfg, store: store, logger: logger, metrics: m}
}

// Attach writes the upload to {contentRoot}/{productID}/{fileName}, appends
// the relative reference to the product and returns the product's full list
// of public image URLs.
//
// The file is written before the product is resolved. When the product does
// not exist the file stays on disk and domain.ErrProductNotFound is returned.
func (m *Manager) Attach(ctx context.Context, productID uuid.UUID, upload Upload) ([]string, error) {
	name, err := sanitizeFileName(upload.FileName)
	if err != nil {
		m.metrics.ObserveUpload(metrics.UploadRejected, 0)
		return nil, err
	}

	if upload.Content == nil || upload.Size == 0 {
		m.metrics.ObserveUpload(metrics.UploadRejected, 0)
		return nil, ErrEmptyImage
	}

	content := bufio.NewReaderSize(upload.Content, sniffLen)
	head, err := content.Peek(sniffLen)
	if len(head) == 0 {
		m.metrics.ObserveUpload(metrics.UploadRejected, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		return nil, ErrEmptyImage
	}

	if err := m.checkType(head); err != nil {
		m.metrics.ObserveUpload(metrics.UploadRejected, 0)
		return nil, err
	}

	ref := path.Join(productID.String(), name)
	written, err := m.write(productID, name, content)
	if err != nil {
		m.metrics.ObserveUpload(metrics.UploadFailed, written)
		m.logger.Error("Failed to store image",
			zap.String("product_id", productID.String()),
			zap.String("file", name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := m.store.FindByID(ctx, productID); err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			m.metrics.ObserveUpload(metrics.UploadOrphaned, written)
			m.logger.Warn("Image stored for unknown product",
				zap.String("product_id", productID.String()),
				zap.String("file", name),
			)
		}
		return nil, err
	}

	if _, err := m.store.AppendImage(ctx, productID, ref); err != nil {
		m.metrics.ObserveUpload(metrics.UploadFailed, written)
		return nil, err
	}

	product, err := m.store.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	m.metrics.ObserveUpload(metrics.UploadStored, written)
	m.logger.Info("Image attached",
		zap.String("product_id", productID.String()),
		zap.String("file", name),
		zap.Int64("bytes", written),
		zap.Int("images", len(product.Images)),
	)

	return m.PublicURLs(product), nil
}

// PublicURLs rewrites the product's stored references into absolute URLs.
// It never modifies the product.
func (m *Manager) PublicURLs(product *domain.Product) []string {
	urls := make([]string, 0, len(product.Images))
	for _, ref := range product.Images {
		urls = append(urls, m.PublicURL(product.ID, ref))
	}
	return urls
}

// PublicURL builds {publicBaseURL}/{productID}/{base name of ref}
func (m *Manager) PublicURL(productID uuid.UUID, ref string) string {
	return m.cfg.PublicBaseURL + "/" + productID.String() + "/" + url.PathEscape(path.Base(filepath.ToSlash(ref)))
}

// Open opens a stored image for reading
func (m *Manager) Open(productID uuid.UUID, fileName string) (afero.File, error) {
	name, err := sanitizeFileName(fileName)
	if err != nil {
		return nil, err
	}

	f, err := m.fs.Open(filepath.Join(m.cfg.ContentRoot, productID.String(), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

// write creates the product directory on demand and replaces any existing
// file of the same name.
func (m *Manager) write(productID uuid.UUID, name string, content io.Reader) (int64, error) {
	dir := filepath.Join(m.cfg.ContentRoot, productID.String())
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create image directory: %w", err)
	}

	f, err := m.fs.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create image file: %w", err)
	}

	written, err := io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("failed to write image file: %w", err)
	}
	return written, nil
}

func (m *Manager) checkType(head []byte) error {
	if len(m.cfg.AllowedTypes) == 0 {
		return nil
	}

	detected := mimetype.Detect(head)
	for _, allowed := range m.cfg.AllowedTypes {
		if detected.Is(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
}

// sanitizeFileName keeps the base name so uploads cannot escape the product
// directory.
func sanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	base := path.Base(name)
	if name == "" || base == "." || base == ".." || base == "/" {
		return "", ErrInvalidFileName
	}
	return base, nil
}
