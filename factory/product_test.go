package factory

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/engine"
)

func TestParseProduct_PercentageRate(t *testing.T) {
	f := NewProductFactory()

	p, err := f.ParseProduct(`{"name": " Starter ", "price": "150", "duration_days": 20,
		"rate": {"type": "percentage", "percent": "20"}}`)
	require.NoError(t, err)

	assert.Equal(t, "Starter", p.Name)
	assert.Equal(t, 20, p.DurationDays)
	assert.Equal(t, engine.RatePercentage, p.Rate.Kind())
	assert.True(t, p.DailyRate().Equal(engine.MustParseAmount("30")))
}

func TestParseProduct_FixedRate_NumericPrice(t *testing.T) {
	f := NewProductFactory()

	p, err := f.ParseProduct(`{"name": "Premium", "price": 2000, "duration_days": 90,
		"rate": {"type": "fixed", "amount": 12.5}}`)
	require.NoError(t, err)

	assert.Equal(t, engine.RateFixed, p.Rate.Kind())
	assert.True(t, p.DailyRate().Equal(engine.MustParseAmount("12.5")))
}

func TestParseProduct_MissingRateUsesFactoryDefault(t *testing.T) {
	f := &ProductFactory{DefaultPercent: decimal.NewFromInt(10)}

	p, err := f.ParseProduct(`{"name": "Plain", "price": "300", "duration_days": 7}`)
	require.NoError(t, err)
	assert.True(t, p.DailyRate().Equal(engine.MustParseAmount("30")))

	// Percentage type without a percent also falls back
	p, err = f.ParseProduct(`{"name": "Bare", "price": "300", "duration_days": 7,
		"rate": {"type": "percentage"}}`)
	require.NoError(t, err)
	assert.True(t, p.DailyRate().Equal(engine.MustParseAmount("30")))
}

func TestParseProduct_ExplicitZeroRateIsKept(t *testing.T) {
	f := &ProductFactory{DefaultPercent: decimal.NewFromInt(10)}

	for _, js := range []string{
		`{"name": "Zero", "price": "300", "duration_days": 7, "rate": {"type": "percentage", "percent": "0"}}`,
		`{"name": "Zero", "price": "300", "duration_days": 7, "rate": {"type": "fixed", "amount": "0"}}`,
	} {
		p, err := f.ParseProduct(js)
		require.NoError(t, err)
		assert.True(t, p.DailyRate().IsZero(), "%s: got %s", js, p.DailyRate())
	}
}

func TestParseProduct_Rejects(t *testing.T) {
	f := NewProductFactory()
	cases := map[string]string{
		"bad json":       `{"name":`,
		"no name":        `{"name": "", "price": "10", "duration_days": 1}`,
		"zero price":     `{"name": "x", "price": "0", "duration_days": 1}`,
		"zero duration":  `{"name": "x", "price": "10", "duration_days": 0}`,
		"unknown kind":   `{"name": "x", "price": "10", "duration_days": 1, "rate": {"type": "weekly"}}`,
		"fixed no value": `{"name": "x", "price": "10", "duration_days": 1, "rate": {"type": "fixed"}}`,
		"negative fixed": `{"name": "x", "price": "10", "duration_days": 1, "rate": {"type": "fixed", "amount": "-1"}}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseProduct(js)
			require.Error(t, err)
			assert.True(t, engine.IsClientError(err), "got %v", err)
		})
	}
}

func TestStandardCatalog(t *testing.T) {
	catalog, err := NewProductFactory().ParseCatalog(StandardCatalogJSON())
	require.NoError(t, err)
	require.Len(t, catalog, 3)

	assert.Equal(t, "Starter", catalog[0].Name)
	assert.True(t, catalog[0].DailyRate().Equal(engine.MustParseAmount("20")))
	assert.Equal(t, "Growth", catalog[1].Name)
	assert.True(t, catalog[1].DailyRate().Equal(engine.MustParseAmount("100")))
	assert.Equal(t, "Premium", catalog[2].Name)
	assert.Equal(t, engine.RateFixed, catalog[2].Rate.Kind())
	assert.True(t, catalog[2].DailyRate().Equal(engine.MustParseAmount("350")))
}

func TestToJSON_ParsesBack(t *testing.T) {
	f := NewProductFactory()
	orig := engine.Product{
		Name:         "Premium",
		Price:        engine.MustParseAmount("2000"),
		Rate:         engine.FixedRate{PerDay: engine.MustParseAmount("350")},
		DurationDays: 90,
	}

	raw, err := json.Marshal(f.ToJSON(orig))
	require.NoError(t, err)
	got, err := f.ParseProduct(string(raw))
	require.NoError(t, err)

	assert.Equal(t, orig.Name, got.Name)
	assert.True(t, got.Price.Equal(orig.Price))
	assert.Equal(t, orig.Rate.Kind(), got.Rate.Kind())
	assert.True(t, got.DailyRate().Equal(orig.DailyRate()))
}
