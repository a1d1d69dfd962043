/*
Package factory provides JSON to Go product conversion.

PURPOSE:
  Converts JSON product definitions into engine.Product values carrying the
  right RatePolicy. Admins post this shape to create products, and the
  server can seed a default catalog from it on first start.

JSON SCHEMA:
  {
    "name": "Starter",
    "price": "100.00",
    "duration_days": 30,
    "rate": {"type": "percentage", "percent": "20"}
  }

  rate.type is "percentage" (price * percent / 100 per day) or
  "fixed" (rate.amount per day). A missing rate means the default
  percentage. Prices and amounts may be JSON strings or numbers.

USAGE:
  f := NewProductFactory()

  product, err := f.ParseProduct(jsonString)
  catalog, err := f.ParseCatalog(StandardCatalogJSON())

SEE ALSO:
  - engine/rate.go: RatePolicy implementations
  - engine/types.go: Product type definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/yield-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a product.
type ProductJSON struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days" validate:"required,gt=0,lte=3650"`
	Rate         *RateJSON       `json:"rate,omitempty"`
}

// RateJSON represents a rate policy.
type RateJSON struct {
	Type    string           `json:"type"`              // percentage, fixed
	Percent *decimal.Decimal `json:"percent,omitempty"` // percentage only
	Amount  *decimal.Decimal `json:"amount,omitempty"`  // fixed only
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// ProductFactory converts JSON products to engine products.
type ProductFactory struct {
	// DefaultPercent applies to products that omit a rate.
	DefaultPercent decimal.Decimal
}

// NewProductFactory creates a factory using engine.DefaultPercent.
func NewProductFactory() *ProductFactory {
	return &ProductFactory{DefaultPercent: engine.DefaultPercent}
}

// ParseProduct parses a JSON string into a Product.
func (f *ProductFactory) ParseProduct(jsonStr string) (engine.Product, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return engine.Product{}, fmt.Errorf("%w: failed to parse product JSON: %v", engine.ErrInvalidInput, err)
	}
	return f.FromJSON(pj)
}

// ParseCatalog parses a JSON array of products.
func (f *ProductFactory) ParseCatalog(jsonStr string) ([]engine.Product, error) {
	var list []ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog JSON: %v", engine.ErrInvalidInput, err)
	}
	products := make([]engine.Product, 0, len(list))
	for i, pj := range list {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// FromJSON converts ProductJSON to an engine.Product (ID unset).
func (f *ProductFactory) FromJSON(pj ProductJSON) (engine.Product, error) {
	name := strings.TrimSpace(pj.Name)
	if name == "" {
		return engine.Product{}, fmt.Errorf("%w: product name is required", engine.ErrInvalidInput)
	}
	if !pj.Price.IsPositive() {
		return engine.Product{}, fmt.Errorf("%w: price must be positive", engine.ErrInvalidAmount)
	}
	if pj.DurationDays <= 0 {
		return engine.Product{}, fmt.Errorf("%w: duration_days must be positive", engine.ErrInvalidInput)
	}

	rate, err := f.parseRate(pj.Rate)
	if err != nil {
		return engine.Product{}, err
	}

	return engine.Product{
		Name:         name,
		Price:        engine.AmountOf(pj.Price),
		Rate:         rate,
		DurationDays: pj.DurationDays,
	}, nil
}

// ToJSON converts a Product to ProductJSON.
func (f *ProductFactory) ToJSON(p engine.Product) ProductJSON {
	pj := ProductJSON{
		Name:         p.Name,
		Price:        p.Price.Value,
		DurationDays: p.DurationDays,
	}
	if p.Rate != nil {
		v := p.Rate.Value()
		pj.Rate = &RateJSON{Type: string(p.Rate.Kind())}
		switch p.Rate.Kind() {
		case engine.RateFixed:
			pj.Rate.Amount = &v
		default:
			pj.Rate.Percent = &v
		}
	}
	return pj
}

func (f *ProductFactory) parseRate(rj *RateJSON) (engine.RatePolicy, error) {
	if rj == nil || rj.Type == "" {
		return engine.PercentageRate{Percent: f.DefaultPercent}, nil
	}

	switch engine.RateKind(rj.Type) {
	case engine.RatePercentage:
		if rj.Percent == nil {
			return engine.PercentageRate{Percent: f.DefaultPercent}, nil
		}
		return engine.ParseRate(rj.Type, *rj.Percent)
	case engine.RateFixed:
		if rj.Amount == nil {
			return nil, fmt.Errorf("%w: fixed rate requires amount", engine.ErrInvalidInput)
		}
		return engine.ParseRate(rj.Type, *rj.Amount)
	default:
		return nil, fmt.Errorf("%w: unknown rate type %q", engine.ErrInvalidInput, rj.Type)
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardCatalogJSON is the catalog seeded on an empty database.
func StandardCatalogJSON() string {
	return `[
  {"name": "Starter", "price": "100", "duration_days": 30,
   "rate": {"type": "percentage", "percent": "20"}},
  {"name": "Growth", "price": "500", "duration_days": 60,
   "rate": {"type": "percentage", "percent": "20"}},
  {"name": "Premium", "price": "2000", "duration_days": 90,
   "rate": {"type": "fixed", "amount": "350"}}
]`
}
