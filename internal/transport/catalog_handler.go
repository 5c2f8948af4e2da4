package transport

import (
	"errors"
	"net/http"
	"net/url"
	"os"

	"catalog-api/internal/domain"
	"catalog-api/internal/images"
	"catalog-api/internal/middleware"
	"catalog-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// multipartMemory is the part of an upload kept in memory before spilling to disk
	multipartMemory = 8 << 20

	imageFormField         = "image"
	fallbackImageFormField = "file"
)

// UploadImageResponse is returned after a successful image upload
type UploadImageResponse struct {
	ImageURLs []string `json:"imageUrls"`
}

// HandlerOptions selects optional handler behaviour
type HandlerOptions struct {
	// StrictValidation runs full struct validation on create requests. The
	// product invariants are enforced either way.
	StrictValidation bool
	// MaxUploadBytes bounds an upload request body; zero disables the bound.
	MaxUploadBytes int64
}

// RouteGuards are middleware applied to groups of catalog routes
type RouteGuards struct {
	Read  []func(http.Handler) http.Handler
	Write []func(http.Handler) http.Handler
}

// CatalogHandler handles HTTP requests for catalog operations
type CatalogHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
	opts    HandlerOptions
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalog service.CatalogService, logger *zap.Logger, opts HandlerOptions) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger,
		opts:    opts,
	}
}

// RegisterRoutes registers all catalog routes
func (h *CatalogHandler) RegisterRoutes(r chi.Router, guards RouteGuards) {
	r.Route("/Catalog", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(guards.Read...)
			r.Get("/GetAllProducts", h.GetAllProducts)
			r.Get("/GetProductById/{productId}", h.GetProductByID)
			r.Get("/GetProductsByCategory/{category}", h.GetProductsByCategory)
		})

		r.Group(func(r chi.Router) {
			r.Use(guards.Write...)
			r.Post("/AddProduct", h.AddProduct)
			r.Post("/UploadImage/{productId}", h.UploadImage)
		})
	})

	r.Get("/UploadedImages/{productId}/{fileName}", h.ServeImage)
}

// AddProduct handles product creation
func (h *CatalogHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var product domain.Product

	decode := middleware.DecodeJSON
	if h.opts.StrictValidation {
		decode = middleware.DecodeAndValidate
	}

	if err := decode(r, &product); err != nil {
		h.logger.Debug("Product request rejected", zap.Error(err))
		if domain.IsValidation(err) {
			middleware.RespondWithDomainError(w, h.logger, err)
			return
		}
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.catalog.CreateProduct(r.Context(), &product)
	if err != nil {
		h.logger.Debug("Product creation failed", zap.Error(err))
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Product created",
		zap.String("product_id", created.ID.String()),
		zap.Stringer("category", created.Category),
	)

	w.Header().Set("Location", "/Catalog/GetProductById/"+created.ID.String())
	middleware.RespondWithJSON(w, http.StatusCreated, h.present(created))
}

// GetAllProducts lists every product with image references rewritten to URLs
func (h *CatalogHandler) GetAllProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.presentAll(products))
}

// GetProductsByCategory lists the products of one category
func (h *CatalogHandler) GetProductsByCategory(w http.ResponseWriter, r *http.Request) {
	category, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	products, err := h.catalog.ListProductsByCategory(r.Context(), category)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.presentAll(products))
}

// GetProductByID returns one product
func (h *CatalogHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.present(product))
}

// UploadImage stores a multipart image for a product
func (h *CatalogHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		h.logger.Debug("Multipart parse failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(imageFormField)
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile(fallbackImageFormField)
	}
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer file.Close()

	urls, err := h.catalog.AttachImage(r.Context(), id, images.Upload{
		FileName: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, UploadImageResponse{ImageURLs: urls})
}

// ServeImage streams a stored image back to clients
func (h *CatalogHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusNotFound, "image not found")
		return
	}

	// chi matches on the raw path when the name needed escaping
	fileName := chi.URLParam(r, "fileName")
	if unescaped, err := url.PathUnescape(fileName); err == nil {
		fileName = unescaped
	}

	f, err := h.catalog.OpenImage(id, fileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, images.ErrInvalidFileName) {
			middleware.RespondWithError(w, http.StatusNotFound, "image not found")
			return
		}
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		middleware.RespondWithDomainError(w, h.logger, err)
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *CatalogHandler) productID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}

// present returns a response copy whose image references are public URLs.
// The stored product is left untouched.
func (h *CatalogHandler) present(product *domain.Product) *domain.Product {
	out := product.Clone()
	out.Images = h.catalog.ImageURLs(product)
	return out
}

func (h *CatalogHandler) presentAll(products []*domain.Product) []*domain.Product {
	out := make([]*domain.Product, 0, len(products))
	for _, p := range products {
		out = append(out, h.present(p))
	}
	return out
}
