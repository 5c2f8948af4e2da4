package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product represents a product in the catalog
type Product struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name" validate:"required,max=200"`
	Description  string     `json:"description,omitempty" validate:"max=4000"`
	Category     Category   `json:"category" validate:"category"`
	Valuation    float64    `json:"valuation" validate:"gt=0"`
	Brand        string     `json:"brand,omitempty" validate:"max=200"`
	Manufacturer string     `json:"manufacturer,omitempty" validate:"max=200"`
	Model        string     `json:"model,omitempty" validate:"max=200"`
	Condition    string     `json:"condition,omitempty" validate:"max=100"`
	ProductURL   string     `json:"productUrl,omitempty" validate:"omitempty,url"`
	Images       []string   `json:"imageUrls"`
	ReleaseDate  *time.Time `json:"releaseDate,omitempty"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
}

// Validate checks the invariants every stored product must satisfy.
// It does not compare ReleaseDate and ExpiryDate.
func (p *Product) Validate() error {
	var fields []FieldError

	if strings.TrimSpace(p.Name) == "" {
		fields = append(fields, FieldError{Field: "name", Message: "This field is required"})
	}
	if !(p.Valuation > 0) {
		fields = append(fields, FieldError{Field: "valuation", Message: "Value must be greater than 0"})
	}
	if !p.Category.Valid() {
		fields = append(fields, FieldError{Field: "category", Message: "Unknown category"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Clone returns a deep copy so callers can reshape a product for a response
// without touching the stored value.
func (p *Product) Clone() *Product {
	c := *p
	c.Images = append([]string{}, p.Images...)
	if p.ReleaseDate != nil {
		t := *p.ReleaseDate
		c.ReleaseDate = &t
	}
	if p.ExpiryDate != nil {
		t := *p.ExpiryDate
		c.ExpiryDate = &t
	}
	return &c
}
