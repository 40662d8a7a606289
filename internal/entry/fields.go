// Package entry describes the inventory fields collected by the /add form,
// how they are parsed out of chat messages and how a complete set of them
// is validated into a FieldRecord.
package entry

import (
	"errors"
	"fmt"
)

// Field is the semantic name of one inventory column.
type Field string

const (
	FieldID            Field = "id"
	FieldProductName   Field = "product_name"
	FieldDatePurchased Field = "date_purchased"
	FieldQuantity      Field = "quantity"
	FieldCostPerUnit   Field = "cost_per_unit"
	FieldTax           Field = "tax"
	FieldStore         Field = "store"
	FieldLink          Field = "link"
	FieldRetailPrice   Field = "retail_price"
)

// ErrInvalidInput marks user supplied values that cannot be accepted as is.
var ErrInvalidInput = errors.New("invalid input")

var stepFields = map[int][]Field{
	1: {FieldProductName, FieldDatePurchased, FieldQuantity, FieldCostPerUnit, FieldTax},
	2: {FieldStore},
	3: {FieldLink, FieldRetailPrice},
}

// Steps is the number of form steps.
const Steps = 3

// StepFields returns the fields a given step contributes, in prompt order.
func StepFields(step int) []Field {
	return append([]Field(nil), stepFields[step]...)
}

// StepOf reports which step collects f. The id field is never collected.
func StepOf(f Field) (int, bool) {
	for step, fields := range stepFields {
		for _, x := range fields {
			if x == f {
				return step, true
			}
		}
	}
	return 0, false
}

// Known reports whether f is a field the column mapping may reference.
func Known(f Field) bool {
	if f == FieldID {
		return true
	}
	_, ok := StepOf(f)
	return ok
}

// Required reports whether f must be present in a complete record.
func Required(f Field) bool {
	switch f {
	case FieldLink, FieldRetailPrice, FieldID:
		return false
	}
	return Known(f)
}

// Label is the human readable name used in prompts and error messages.
func (f Field) Label() string {
	switch f {
	case FieldProductName:
		return "Product name"
	case FieldDatePurchased:
		return "Date purchased"
	case FieldQuantity:
		return "Quantity"
	case FieldCostPerUnit:
		return "Cost per unit"
	case FieldTax:
		return "Tax"
	case FieldStore:
		return "Store"
	case FieldLink:
		return "Link"
	case FieldRetailPrice:
		return "Retail price"
	case FieldID:
		return "ID"
	}
	return string(f)
}

// Values maps fields to the raw text the user supplied.
type Values map[Field]string

// Clone returns an independent copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// CheckStep verifies that v only carries fields belonging to step.
func (v Values) CheckStep(step int) error {
	allowed, ok := stepFields[step]
	if !ok {
		return fmt.Errorf("%w: unknown step %d", ErrInvalidInput, step)
	}
	for k := range v {
		found := false
		for _, f := range allowed {
			if f == k {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: field %q does not belong to step %d", ErrInvalidInput, k, step)
		}
	}
	return nil
}
