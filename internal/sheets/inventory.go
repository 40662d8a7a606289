package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultStartRow is the first data row below the inventory header block.
const DefaultStartRow = 8

// Item is one inventory row as shown by /inventory.
type Item struct {
	Row           int
	ProductName   string
	DatePurchased string
	QtyPurchased  int
	QtyAvailable  int
	Store         string
	CostPerUnit   float64
	TaxPerUnit    float64
	Sold          bool
}

// Offsets within the B:T block read by ReadInventory.
const (
	colProduct      = 0  // B
	colDate         = 1  // C
	colQtyPurchased = 2  // D
	colQtyAvailable = 3  // E
	colStore        = 6  // H
	colCost         = 10 // L
	colTax          = 11 // M
	colSold         = 18 // T
	inventoryWidth  = 19
)

// ReadInventory returns the rows between startRow and the Total row, which
// is always the last row with a product name column value. Rows without a
// product name are skipped.
func (c *Client) ReadInventory(ctx context.Context, spreadsheetID, sheet string, startRow int) ([]Item, error) {
	if startRow < 1 {
		startRow = DefaultStartRow
	}
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	names, err := c.srv.Spreadsheets.Values.Get(spreadsheetID, quoteSheet(sheet)+"!B:B").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, classify(err))
	}
	lastRow := len(names.Values)
	if lastRow <= startRow {
		return nil, nil
	}

	rng := fmt.Sprintf("%s!B%d:T%d", quoteSheet(sheet), startRow, lastRow-1)
	resp, err := c.srv.Spreadsheets.Values.Get(spreadsheetID, rng).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, classify(err))
	}

	items := make([]Item, 0, len(resp.Values))
	for i, raw := range resp.Values {
		row := normalizeRow(raw)
		if row[colProduct] == "" {
			continue
		}
		it := Item{
			Row:           startRow + i,
			ProductName:   row[colProduct],
			DatePurchased: row[colDate],
			QtyPurchased:  cleanInt(row[colQtyPurchased]),
			QtyAvailable:  cleanInt(row[colQtyAvailable]),
			Store:         row[colStore],
			CostPerUnit:   cleanCurrency(row[colCost]),
			Sold:          truthy(row[colSold]),
		}
		if tax := cleanCurrency(row[colTax]); tax > 0 && it.QtyPurchased > 0 {
			it.TaxPerUnit = tax / float64(it.QtyPurchased)
		}
		items = append(items, it)
	}
	return items, nil
}

func normalizeRow(values []interface{}) []string {
	res := make([]string, inventoryWidth)
	for i, v := range values {
		if i >= inventoryWidth {
			break
		}
		res[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return res
}

func cleanCurrency(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func cleanInt(s string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func truthy(s string) bool {
	switch strings.ToUpper(s) {
	case "TRUE", "YES", "1":
		return true
	}
	return false
}
