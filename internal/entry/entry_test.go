package entry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStores = []string{"Amazon", "Walmart", "Other"}

func completeValues() Values {
	return Values{
		FieldProductName:   "Widget",
		FieldDatePurchased: "01/15/2025",
		FieldQuantity:      "3",
		FieldCostPerUnit:   "2.50",
		FieldTax:           "0.20",
		FieldStore:         "Amazon",
	}
}

func TestParseForm_Positional(t *testing.T) {
	v, err := ParseForm(1, "Widget\n01/15/2025\n3\n2.50\n0.20\n")
	require.NoError(t, err)
	assert.Equal(t, Values{
		FieldProductName:   "Widget",
		FieldDatePurchased: "01/15/2025",
		FieldQuantity:      "3",
		FieldCostPerUnit:   "2.50",
		FieldTax:           "0.20",
	}, v)
}

func TestParseForm_Keyed(t *testing.T) {
	v, err := ParseForm(1, "Name: Pokemon Card - Charizard\nDate: 01/15/2025\nqty: 5\ncost: 25.50\ntax: 5.25")
	require.NoError(t, err)
	assert.Equal(t, "Pokemon Card - Charizard", v[FieldProductName])
	assert.Equal(t, "5", v[FieldQuantity])

	v, err = ParseForm(3, "link: https://example.com/p?id=1\nretail: 50")
	require.NoError(t, err)
	assert.Equal(t, Values{FieldLink: "https://example.com/p?id=1", FieldRetailPrice: "50"}, v)
}

func TestParseForm_Errors(t *testing.T) {
	tests := []struct {
		name string
		step int
		text string
	}{
		{"empty step 1", 1, "  "},
		{"too few lines", 1, "Widget\n01/15/2025"},
		{"unknown key", 1, "name: a\ncolour: red"},
		{"field from another step", 3, "store: Amazon"},
		{"duplicate key", 3, "link: https://a.example\nlinks: https://b.example"},
		{"bare line in step 3", 3, "https://a.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseForm(tt.step, tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestParseForm_SkipStep3(t *testing.T) {
	for _, text := range []string{"", "/skip", "/SKIP"} {
		v, err := ParseForm(3, text)
		require.NoError(t, err)
		assert.Empty(t, v)
	}
}

func TestValidate_Success(t *testing.T) {
	rec, err := Validate(completeValues(), testStores)
	require.NoError(t, err)

	assert.Equal(t, "Widget", rec.ProductName)
	assert.Equal(t, 3, rec.Quantity)
	assert.Equal(t, "01/15/2025", rec.DatePurchased.Format(DateLayout))

	vals := rec.Values()
	assert.Len(t, vals, 6)
	assert.NotContains(t, vals, FieldLink)
	assert.NotContains(t, vals, FieldRetailPrice)
}

func TestValidate_OptionalFields(t *testing.T) {
	v := completeValues()
	v[FieldLink] = "https://example.com/product"
	v[FieldRetailPrice] = "$50.00"

	rec, err := Validate(v, testStores)
	require.NoError(t, err)
	assert.Equal(t, "50.00", rec.RetailPrice)
	assert.Len(t, rec.Values(), 8)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		value string
	}{
		{"impossible date", FieldDatePurchased, "13/45/2025"},
		{"wrong date layout", FieldDatePurchased, "2025-01-15"},
		{"zero quantity", FieldQuantity, "0"},
		{"fractional quantity", FieldQuantity, "1.5"},
		{"negative cost", FieldCostPerUnit, "-1"},
		{"zero cost", FieldCostPerUnit, "0"},
		{"text tax", FieldTax, "some"},
		{"unknown store", FieldStore, "Corner shop"},
		{"missing name", FieldProductName, ""},
		{"bad link", FieldLink, "example.com"},
		{"zero retail", FieldRetailPrice, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := completeValues()
			v[tt.field] = tt.value

			_, err := Validate(v, testStores)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Problems, tt.field)
			assert.Len(t, verr.Problems, 1)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestValidate_ZeroTaxAllowed(t *testing.T) {
	v := completeValues()
	v[FieldTax] = "0"
	_, err := Validate(v, testStores)
	require.NoError(t, err)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	_, err := Validate(Values{FieldDatePurchased: "nope"}, testStores)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 6)
	assert.Equal(t, "must be a real date in MM/DD/YYYY format", verr.Problems[FieldDatePurchased])
}

func TestCheckStep(t *testing.T) {
	require.NoError(t, Values{FieldStore: "Amazon"}.CheckStep(2))
	assert.ErrorIs(t, Values{FieldTax: "1"}.CheckStep(2), ErrInvalidInput)
	assert.ErrorIs(t, Values{}.CheckStep(4), ErrInvalidInput)
}

func TestParseFields(t *testing.T) {
	v, err := ParseFields("qty: 4\nstore: Walmart\nretail price: 19.99")
	require.NoError(t, err)
	assert.Equal(t, Values{FieldQuantity: "4", FieldStore: "Walmart", FieldRetailPrice: "19.99"}, v)

	for _, text := range []string{"", "Widget", "colour: red", "qty:", "qty: 1\nquantity: 2"} {
		_, err := ParseFields(text)
		assert.ErrorIs(t, err, ErrInvalidInput, text)
	}
}

func TestValidateFields(t *testing.T) {
	v, err := ValidateFields(Values{FieldCostPerUnit: "$1,200.50", FieldQuantity: "2"}, testStores)
	require.NoError(t, err)
	assert.Equal(t, Values{FieldCostPerUnit: "1200.50", FieldQuantity: "2"}, v)

	_, err = ValidateFields(Values{FieldStore: "Corner shop", FieldDatePurchased: "2025-01-15", FieldTax: "0"}, testStores)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[Field]string{
		FieldStore:         "must be one of the listed stores",
		FieldDatePurchased: "must be a real date in MM/DD/YYYY format",
	}, verr.Problems)
}
