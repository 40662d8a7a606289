package entry

import (
	"fmt"
	"strings"
)

// SkipCommand submits a step without any of its optional fields.
const SkipCommand = "/skip"

var aliases = map[string]Field{
	"name":           FieldProductName,
	"product":        FieldProductName,
	"product name":   FieldProductName,
	"product_name":   FieldProductName,
	"date":           FieldDatePurchased,
	"date purchased": FieldDatePurchased,
	"date_purchased": FieldDatePurchased,
	"purchased":      FieldDatePurchased,
	"qty":            FieldQuantity,
	"quantity":       FieldQuantity,
	"cost":           FieldCostPerUnit,
	"cost per unit":  FieldCostPerUnit,
	"cost_per_unit":  FieldCostPerUnit,
	"price":          FieldCostPerUnit,
	"tax":            FieldTax,
	"store":          FieldStore,
	"link":           FieldLink,
	"links":          FieldLink,
	"url":            FieldLink,
	"retail":         FieldRetailPrice,
	"retail price":   FieldRetailPrice,
	"retail_price":   FieldRetailPrice,
}

// ParseForm turns a chat message into the values of one form step.
//
// Each non-empty line is "key: value". Step 1 additionally accepts exactly
// five bare lines in prompt order. Step 3 accepts SkipCommand or an empty
// message, meaning no optional fields. Values are not validated here.
func ParseForm(step int, text string) (Values, error) {
	text = strings.TrimSpace(text)
	if step == 3 && (text == "" || strings.EqualFold(text, SkipCommand)) {
		return Values{}, nil
	}

	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	if step == 1 && !anyKeyed(lines) {
		order := stepFields[1]
		if len(lines) != len(order) {
			return nil, fmt.Errorf("%w: expected %d lines, got %d", ErrInvalidInput, len(order), len(lines))
		}
		out := make(Values, len(order))
		for i, f := range order {
			out[f] = lines[i]
		}
		return out, nil
	}

	out, err := parseKeyed(lines)
	if err != nil {
		return nil, err
	}
	if err := out.CheckStep(step); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFields reads "key: value" lines naming any fields, as used to
// change an existing row. At least one value must be given.
func ParseFields(text string) (Values, error) {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	out, err := parseKeyed(lines)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no values given", ErrInvalidInput)
	}
	return out, nil
}

func parseKeyed(lines []string) (Values, error) {
	out := make(Values)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %q is not \"field: value\"", ErrInvalidInput, line)
		}
		f, ok := aliases[normalizeKey(key)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidInput, strings.TrimSpace(key))
		}
		if _, dup := out[f]; dup {
			return nil, fmt.Errorf("%w: %s given twice", ErrInvalidInput, f.Label())
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out[f] = value
	}
	return out, nil
}

// anyKeyed reports whether some line starts with a known "field:" prefix.
// Links contain colons too, so only recognised keys count.
func anyKeyed(lines []string) bool {
	for _, line := range lines {
		key, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if _, known := aliases[normalizeKey(key)]; known {
			return true
		}
	}
	return false
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.TrimSuffix(k, " ($)")
	return strings.Join(strings.Fields(k), " ")
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
