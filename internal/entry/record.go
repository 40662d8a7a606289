package entry

import (
	"errors"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted purchase date format (MM/DD/YYYY).
const DateLayout = "01/02/2006"

// FieldRecord is a complete, validated inventory entry.
type FieldRecord struct {
	ProductName   string
	DatePurchased time.Time
	Quantity      int
	CostPerUnit   string
	Tax           string
	Store         string
	Link          string
	RetailPrice   string
}

// Values returns the cell text for every field present in the record.
// Optional fields that were not supplied are omitted.
func (r FieldRecord) Values() Values {
	out := Values{
		FieldProductName:   r.ProductName,
		FieldDatePurchased: r.DatePurchased.Format(DateLayout),
		FieldQuantity:      strconv.Itoa(r.Quantity),
		FieldCostPerUnit:   r.CostPerUnit,
		FieldTax:           r.Tax,
		FieldStore:         r.Store,
	}
	if r.Link != "" {
		out[FieldLink] = r.Link
	}
	if r.RetailPrice != "" {
		out[FieldRetailPrice] = r.RetailPrice
	}
	return out
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Problems map[Field]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Problems))
	for f := range e.Problems {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("invalid input: ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(e.Problems[Field(f)])
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Validate checks a fully collected set of values. stores is the list of
// allowed store choices; an empty list accepts any non-empty store.
func Validate(v Values, stores []string) (FieldRecord, error) {
	problems := make(map[Field]string)
	get := func(f Field) string { return strings.TrimSpace(v[f]) }

	for _, step := range []int{1, 2} {
		for _, f := range stepFields[step] {
			if get(f) == "" {
				problems[f] = "is required"
			}
		}
	}

	clean := make(Values, len(v))
	for f, raw := range v {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		norm, problem := checkField(f, s, stores)
		if problem != "" {
			problems[f] = problem
			continue
		}
		clean[f] = norm
	}

	if len(problems) > 0 {
		return FieldRecord{}, &ValidationError{Problems: problems}
	}

	rec := FieldRecord{
		ProductName: clean[FieldProductName],
		CostPerUnit: clean[FieldCostPerUnit],
		Tax:         clean[FieldTax],
		Store:       clean[FieldStore],
		Link:        clean[FieldLink],
		RetailPrice: clean[FieldRetailPrice],
	}
	rec.DatePurchased, _ = time.Parse(DateLayout, clean[FieldDatePurchased])
	rec.Quantity, _ = strconv.Atoi(clean[FieldQuantity])
	return rec, nil
}

// ValidateFields checks a partial set of values, such as the changes to an
// existing row, and returns them as cell text. Unlike Validate nothing is
// required, but every value given must be valid.
func ValidateFields(v Values, stores []string) (Values, error) {
	problems := make(map[Field]string)
	out := make(Values, len(v))
	for f, raw := range v {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		norm, problem := checkField(f, s, stores)
		if problem != "" {
			problems[f] = problem
			continue
		}
		out[f] = norm
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

// checkField returns the cell text for one non-empty value, or a problem
// describing why it is not acceptable.
func checkField(f Field, s string, stores []string) (string, string) {
	switch f {
	case FieldDatePurchased:
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return "", "must be a real date in MM/DD/YYYY format"
		}
		return t.Format(DateLayout), ""
	case FieldQuantity:
		n, err := parsePositiveInt(s)
		if err != nil {
			return "", "must be a positive whole number"
		}
		return strconv.Itoa(n), ""
	case FieldCostPerUnit, FieldRetailPrice:
		d, err := parseDecimal(s, false)
		if err != nil {
			return "", "must be a positive amount"
		}
		return d, ""
	case FieldTax:
		d, err := parseDecimal(s, true)
		if err != nil {
			return "", "must be a non-negative amount"
		}
		return d, ""
	case FieldStore:
		if len(stores) > 0 && !contains(stores, s) {
			return "", "must be one of the listed stores"
		}
	case FieldLink:
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", "must be an http(s) link"
		}
	}
	return s, ""
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil || n <= 0 {
		return 0, errors.New("not positive int")
	}
	return n, nil
}

// parseDecimal accepts amounts like "2.50", "$2.50" or "1,200" and returns
// the number as written without currency symbol and separators.
func parseDecimal(s string, allowZero bool) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New("not a number")
	}
	if f < 0 || (f == 0 && !allowZero) {
		return "", errors.New("out of range")
	}
	return s, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
