package intake

import (
	"fmt"
	"strings"

	"invbot/internal/entry"
	"invbot/internal/sheets"
)

const (
	welcomeText = "👋 I add purchases to your inventory spreadsheet.\n\n" +
		"First register your sheet with /setup, then use /add for every purchase."

	helpText = "/setup <spreadsheet url> <tab name> - choose where entries go\n" +
		"/add - record a purchase in three steps\n" +
		"/skip - leave the optional step 3 fields empty\n" +
		"/cancel - drop the entry in progress\n" +
		"/inventory - list the items in your tab\n" +
		"/edit <row> then field: value lines - change an item\n" +
		"/remove <row> - delete an item"

	editUsage = "Send /edit with the row number and the fields to change, for example:\n\n" +
		"/edit 12\n" +
		"qty: 4\n" +
		"cost: 3.10\n\n" +
		"Use /inventory to see row numbers."

	removeUsage = "Send /remove with the row number, for example /remove 12. Use /inventory to see row numbers."

	confirmWord = "yes"

	setupUsage = "Run /setup <spreadsheet url> <tab name>, for example:\n" +
		"/setup https://docs.google.com/spreadsheets/d/abc123/edit Inventory"

	step1Prompt = "Step 1/3: send the purchase details, one per line:\n\n" +
		"name: Pikachu plush\n" +
		"date: 01/15/2025\n" +
		"qty: 3\n" +
		"cost: 12.50\n" +
		"tax: 2.25\n\n" +
		"Or send just the five values in that order. /cancel to stop."

	step2Prompt = "Step 2/3: which store was it?"

	step3Prompt = "Step 3/3: optional extras, one per line:\n\n" +
		"link: https://...\n" +
		"retail: 19.99\n\n" +
		"Send /skip to leave them empty."

	idleText       = "Use /add to record a purchase, or /help for all commands."
	staleText      = "⌛ That form is no longer active. Use /add to start a new entry."
	genericFailure = "💀 Something went wrong on my side. Please try again in a minute."
)

// validationText lists every problem. Step 3 can be resent as is; problems
// in earlier steps need a fresh form.
func validationText(err *entry.ValidationError) string {
	var b strings.Builder
	b.WriteString(problemsText(err))
	b.WriteString("\n\n")
	restart := false
	for f := range err.Problems {
		if step, ok := entry.StepOf(f); ok && step < entry.Steps {
			restart = true
		}
	}
	if restart {
		b.WriteString("Those came from an earlier step, so please start over with /add.")
	} else {
		b.WriteString("Send step 3 again, or /skip to leave it empty.")
	}
	return b.String()
}

// problemsText lists each problem in form order.
func problemsText(err *entry.ValidationError) string {
	var b strings.Builder
	b.WriteString("😵‍💫 Some details need fixing:")
	for step := 1; step <= entry.Steps; step++ {
		for _, f := range entry.StepFields(step) {
			if msg, ok := err.Problems[f]; ok {
				fmt.Fprintf(&b, "\n• %s %s", f.Label(), msg)
			}
		}
	}
	return b.String()
}

func formatItem(it sheets.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s - %d/%d left", it.Row, it.ProductName, it.QtyAvailable, it.QtyPurchased)
	if it.CostPerUnit > 0 {
		fmt.Fprintf(&b, " - $%.2f", it.CostPerUnit)
		if it.TaxPerUnit > 0 {
			fmt.Fprintf(&b, " +$%.2f tax", it.TaxPerUnit)
		}
	}
	if it.Store != "" {
		b.WriteString(" - " + it.Store)
	}
	if it.DatePurchased != "" {
		b.WriteString(" - " + it.DatePurchased)
	}
	if it.Sold {
		b.WriteString(" - sold")
	}
	return b.String()
}
