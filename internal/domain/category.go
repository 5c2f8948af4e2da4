package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Category is the closed set of product categories. Ordinals are stable and
// match the order clients already depend on.
type Category int

const (
	CategoryElectronics Category = iota
	CategoryClothing
	CategoryHomeAppliances
	CategoryBooks
	CategoryPaintings
)

var categoryNames = []string{
	CategoryElectronics:    "Electronics",
	CategoryClothing:       "Clothing",
	CategoryHomeAppliances: "HomeAppliances",
	CategoryBooks:          "Books",
	CategoryPaintings:      "Paintings",
}

// Categories returns every known category in ordinal order.
func Categories() []Category {
	out := make([]Category, len(categoryNames))
	for i := range categoryNames {
		out[i] = Category(i)
	}
	return out
}

// Valid reports whether c is a member of the closed set.
func (c Category) Valid() bool {
	return c >= 0 && int(c) < len(categoryNames)
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory accepts a category name (case-insensitive) or its ordinal.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for i, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return Category(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Category(n).Valid() {
		return Category(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
	}
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var parsed Category
	var err error
	switch v := raw.(type) {
	case string:
		parsed, err = ParseCategory(v)
	case float64:
		if v != float64(int(v)) || !Category(int(v)).Valid() {
			err = fmt.Errorf("%w: %v", ErrUnknownCategory, v)
		}
		parsed = Category(int(v))
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownCategory, string(data))
	}
	if err != nil {
		return err
	}

	*c = parsed
	return nil
}
