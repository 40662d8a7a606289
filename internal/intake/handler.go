// Package intake turns chat commands and messages into form submissions,
// spreadsheet registrations and replies. It knows nothing about the chat
// transport; the telegram package renders its Replies.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"invbot/internal/columns"
	"invbot/internal/entry"
	"invbot/internal/materialize"
	"invbot/internal/session"
	"invbot/internal/sheets"
	"invbot/internal/userconfig"
)

// Outcome tells the transport how a reply ended the interaction.
type Outcome int

const (
	None Outcome = iota
	Success
	Failure
)

// Reply is what the bot answers to one user action.
type Reply struct {
	Text    string
	Outcome Outcome
	// Keyboard holds store choices to offer as buttons.
	Keyboard []string
	// Pages holds one line per inventory item for paginated display.
	Pages []string
}

type Forms interface {
	Begin(userID int64)
	State(userID int64) session.Step
	Cancel(userID int64) bool
	Submit(ctx context.Context, userID int64, step int, values entry.Values) (session.Update, error)
}

type Configs interface {
	Get(ctx context.Context, userID int64) (userconfig.UserConfig, error)
	Put(ctx context.Context, userID int64, urlOrID, sheetName string) (userconfig.UserConfig, error)
}

type Spreadsheets interface {
	VerifySheet(ctx context.Context, spreadsheetID, sheet string) error
	ReadInventory(ctx context.Context, spreadsheetID, sheet string, startRow int) ([]sheets.Item, error)
	WriteCell(ctx context.Context, spreadsheetID, sheet string, row int, column, value string) error
	DeleteRow(ctx context.Context, spreadsheetID, sheet string, row int) error
}

type Materializer interface {
	Materialize(ctx context.Context, userID int64, rec entry.FieldRecord) materialize.Result
}

type Handler struct {
	forms        Forms
	configs      Configs
	spreadsheets Spreadsheets
	rows         Materializer
	table        *columns.Table
	serviceEmail string
	logger       *slog.Logger
}

type Option func(*Handler)

// WithServiceEmail sets the service account address shown in setup hints.
func WithServiceEmail(email string) Option {
	return func(h *Handler) { h.serviceEmail = email }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func New(forms Forms, configs Configs, spreadsheets Spreadsheets, rows Materializer, table *columns.Table, opts ...Option) *Handler {
	h := &Handler{
		forms:        forms,
		configs:      configs,
		spreadsheets: spreadsheets,
		rows:         rows,
		table:        table,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) Start(context.Context, int64) Reply {
	return Reply{Text: welcomeText + "\n\n" + h.setupHint()}
}

func (h *Handler) Help(context.Context, int64) Reply {
	return Reply{Text: helpText}
}

// Setup registers the spreadsheet and tab named in args, which is
// "<spreadsheet url or id> <tab name>". The tab name may contain spaces.
func (h *Handler) Setup(ctx context.Context, userID int64, args string) Reply {
	urlOrID, sheetName, _ := strings.Cut(strings.TrimSpace(args), " ")
	if urlOrID == "" || strings.TrimSpace(sheetName) == "" {
		return Reply{Text: setupUsage + "\n\n" + h.setupHint(), Outcome: Failure}
	}

	cfg, err := userconfig.Prepare(userID, urlOrID, sheetName)
	if err != nil {
		return Reply{Text: "😵‍💫 " + userMessage(err, userconfig.ErrInvalidInput) + "\n\n" + setupUsage, Outcome: Failure}
	}

	if err := h.spreadsheets.VerifySheet(ctx, cfg.SpreadsheetID, cfg.SheetName); err != nil {
		switch {
		case errors.Is(err, sheets.ErrSheetNotFound):
			return Reply{Text: fmt.Sprintf("😵‍💫 The spreadsheet has no tab named %q. Tab names are case sensitive.", cfg.SheetName), Outcome: Failure}
		case errors.Is(err, sheets.ErrSpreadsheetNotFound), errors.Is(err, sheets.ErrPermissionDenied):
			return Reply{Text: "🔒 I can't open that spreadsheet. " + h.setupHint(), Outcome: Failure}
		}
		h.logger.Error("verify sheet failed", "user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "error", err)
		return Reply{Text: genericFailure, Outcome: Failure}
	}

	saved, err := h.configs.Put(ctx, userID, urlOrID, sheetName)
	if err != nil {
		h.logger.Error("save config failed", "user_id", userID, "error", err)
		return Reply{Text: genericFailure, Outcome: Failure}
	}
	h.logger.Info("user configured", "user_id", userID, "spreadsheet_id", saved.SpreadsheetID, "sheet", saved.SheetName)
	return Reply{
		Text:    fmt.Sprintf("✅ All set. New entries go to the %q tab.\n\nUse /add to record a purchase.", saved.SheetName),
		Outcome: Success,
	}
}

// Add opens a new form, dropping any unfinished one.
func (h *Handler) Add(ctx context.Context, userID int64) Reply {
	if _, err := h.configs.Get(ctx, userID); err != nil {
		return h.configFailure(userID, err)
	}
	h.forms.Begin(userID)
	return Reply{Text: step1Prompt}
}

// Text handles a plain message according to where the user is in the form.
func (h *Handler) Text(ctx context.Context, userID int64, text string) Reply {
	switch h.forms.State(userID) {
	case session.Step1Pending:
		return h.step1(ctx, userID, text)
	case session.Step2Pending:
		return h.SelectStore(ctx, userID, storeFromText(text))
	case session.Step3Pending:
		return h.step3(ctx, userID, text)
	}
	return Reply{Text: idleText}
}

// SelectStore submits step 2.
func (h *Handler) SelectStore(ctx context.Context, userID int64, store string) Reply {
	if h.forms.State(userID) != session.Step2Pending {
		return Reply{Text: staleText}
	}
	if !h.table.IsStore(store) {
		return Reply{Text: "Please pick one of the stores below.", Keyboard: h.table.Stores()}
	}
	if _, err := h.forms.Submit(ctx, userID, 2, entry.Values{entry.FieldStore: store}); err != nil {
		return h.submitFailure(userID, 2, err)
	}
	return Reply{Text: fmt.Sprintf("Store: %s\n\n%s", store, step3Prompt)}
}

func (h *Handler) Cancel(_ context.Context, userID int64) Reply {
	if h.forms.Cancel(userID) {
		return Reply{Text: "Ok, cancelled. Use /add to start again."}
	}
	return Reply{Text: "Nothing to cancel."}
}

// Inventory lists the items in the user's tab.
func (h *Handler) Inventory(ctx context.Context, userID int64) Reply {
	cfg, err := h.configs.Get(ctx, userID)
	if err != nil {
		return h.configFailure(userID, err)
	}
	items, err := h.spreadsheets.ReadInventory(ctx, cfg.SpreadsheetID, cfg.SheetName, sheets.DefaultStartRow)
	if err != nil {
		if errors.Is(err, sheets.ErrSpreadsheetNotFound) || errors.Is(err, sheets.ErrPermissionDenied) {
			return Reply{Text: "🔒 I can't open your spreadsheet anymore. " + h.setupHint(), Outcome: Failure}
		}
		h.logger.Error("read inventory failed", "user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "error", err)
		return Reply{Text: genericFailure, Outcome: Failure}
	}
	if len(items) == 0 {
		return Reply{Text: fmt.Sprintf("The %q tab has no items yet. Use /add to record one.", cfg.SheetName)}
	}
	pages := make([]string, len(items))
	for i, it := range items {
		pages[i] = formatItem(it)
	}
	return Reply{Text: fmt.Sprintf("📦 %d items in %q", len(items), cfg.SheetName), Pages: pages}
}

// Edit changes cells of an existing item. args is the row number followed
// by "key: value" lines; only the fields given are written.
func (h *Handler) Edit(ctx context.Context, userID int64, args string) Reply {
	rowArg, rest := splitRow(args)
	if rowArg == "" || strings.TrimSpace(rest) == "" {
		return Reply{Text: editUsage}
	}
	values, err := entry.ParseFields(rest)
	if err != nil {
		return Reply{Text: "😵‍💫 " + userMessage(err, entry.ErrInvalidInput) + "\n\n" + editUsage}
	}
	changes, err := entry.ValidateFields(values, h.table.Stores())
	if err != nil {
		var verr *entry.ValidationError
		if errors.As(err, &verr) {
			return Reply{Text: problemsText(verr) + "\n\n" + editUsage, Outcome: Failure}
		}
		return Reply{Text: genericFailure, Outcome: Failure}
	}

	cfg, item, fail, ok := h.item(ctx, userID, rowArg)
	if !ok {
		return fail
	}
	log := h.logger.With("user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "row", item.Row)

	var written, failed, unmapped []string
	for step := 1; step <= entry.Steps; step++ {
		for _, f := range entry.StepFields(step) {
			v, given := changes[f]
			if !given {
				continue
			}
			col, mapped := h.table.Column(f)
			if !mapped {
				unmapped = append(unmapped, f.Label())
				continue
			}
			if err := h.spreadsheets.WriteCell(ctx, cfg.SpreadsheetID, cfg.SheetName, item.Row, col, v); err != nil {
				log.Warn("cell write failed", "field", string(f), "column", col, "error", err)
				failed = append(failed, fmt.Sprintf("%s (column %s)", f.Label(), col))
				continue
			}
			written = append(written, fmt.Sprintf("• %s: %s", f.Label(), v))
		}
	}

	var b strings.Builder
	switch {
	case len(written) == 0 && len(failed) == 0:
		b.WriteString("No changes were made.")
	case len(written) > 0:
		fmt.Fprintf(&b, "✅ Updated row %d (%s):\n%s", item.Row, item.ProductName, strings.Join(written, "\n"))
	}
	if len(unmapped) > 0 {
		fmt.Fprintf(&b, "\n\nNot in your sheet layout, skipped: %s", strings.Join(unmapped, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\n\n⚠️ Could not write:\n%s\n\nPlease fix them by hand.", strings.Join(failed, "\n"))
		log.Error("row partially updated", "failed", len(failed), "written", len(written))
		return Reply{Text: strings.TrimSpace(b.String()), Outcome: Failure}
	}
	if len(written) == 0 {
		return Reply{Text: strings.TrimSpace(b.String())}
	}
	log.Info("row updated", "fields", len(written))
	return Reply{Text: b.String(), Outcome: Success}
}

// Remove deletes an item's row. Without a trailing "yes" it only shows the
// item and asks for confirmation.
func (h *Handler) Remove(ctx context.Context, userID int64, args string) Reply {
	rowArg, rest := splitRow(args)
	if rowArg == "" {
		return Reply{Text: removeUsage}
	}
	cfg, item, fail, ok := h.item(ctx, userID, rowArg)
	if !ok {
		return fail
	}
	if !strings.EqualFold(strings.TrimSpace(rest), confirmWord) {
		return Reply{Text: fmt.Sprintf("This will delete row %d:\n%s\n\nSend /remove %d %s to confirm.",
			item.Row, formatItem(item), item.Row, confirmWord)}
	}

	if err := h.spreadsheets.DeleteRow(ctx, cfg.SpreadsheetID, cfg.SheetName, item.Row); err != nil {
		if errors.Is(err, sheets.ErrSpreadsheetNotFound) || errors.Is(err, sheets.ErrPermissionDenied) {
			return Reply{Text: "🔒 I can't change your spreadsheet. " + h.setupHint(), Outcome: Failure}
		}
		h.logger.Error("delete row failed", "user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "row", item.Row, "error", err)
		return Reply{Text: genericFailure, Outcome: Failure}
	}
	h.logger.Info("row deleted", "user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "row", item.Row)
	return Reply{
		Text:    fmt.Sprintf("🗑 Deleted %s from row %d. Rows below it moved up by one.", item.ProductName, item.Row),
		Outcome: Success,
	}
}

// item resolves rowArg to an existing inventory item of the user's tab.
// When ok is false the returned Reply explains why.
func (h *Handler) item(ctx context.Context, userID int64, rowArg string) (userconfig.UserConfig, sheets.Item, Reply, bool) {
	var none sheets.Item
	row, err := strconv.Atoi(strings.TrimPrefix(rowArg, "#"))
	if err != nil || row < sheets.DefaultStartRow {
		return userconfig.UserConfig{}, none, Reply{Text: fmt.Sprintf("😵‍💫 %q is not an item row. Use /inventory to see row numbers.", rowArg)}, false
	}

	cfg, err := h.configs.Get(ctx, userID)
	if err != nil {
		return cfg, none, h.configFailure(userID, err), false
	}
	items, err := h.spreadsheets.ReadInventory(ctx, cfg.SpreadsheetID, cfg.SheetName, sheets.DefaultStartRow)
	if err != nil {
		if errors.Is(err, sheets.ErrSpreadsheetNotFound) || errors.Is(err, sheets.ErrPermissionDenied) {
			return cfg, none, Reply{Text: "🔒 I can't open your spreadsheet anymore. " + h.setupHint(), Outcome: Failure}, false
		}
		h.logger.Error("read inventory failed", "user_id", userID, "spreadsheet_id", cfg.SpreadsheetID, "error", err)
		return cfg, none, Reply{Text: genericFailure, Outcome: Failure}, false
	}
	for _, it := range items {
		if it.Row == row {
			return cfg, it, Reply{}, true
		}
	}
	return cfg, none, Reply{Text: fmt.Sprintf("😵‍💫 There is no item in row %d. Use /inventory to see row numbers.", row)}, false
}

func (h *Handler) step1(ctx context.Context, userID int64, text string) Reply {
	values, err := entry.ParseForm(1, text)
	if err != nil {
		return Reply{Text: "😵‍💫 " + userMessage(err, entry.ErrInvalidInput) + "\n\n" + step1Prompt}
	}
	if _, err := h.forms.Submit(ctx, userID, 1, values); err != nil {
		return h.submitFailure(userID, 1, err)
	}
	return Reply{Text: step2Prompt, Keyboard: h.table.Stores()}
}

func (h *Handler) step3(ctx context.Context, userID int64, text string) Reply {
	values, err := entry.ParseForm(3, text)
	if err != nil {
		return Reply{Text: "😵‍💫 " + userMessage(err, entry.ErrInvalidInput) + "\n\n" + step3Prompt}
	}
	upd, err := h.forms.Submit(ctx, userID, 3, values)
	if err != nil {
		return h.submitFailure(userID, 3, err)
	}
	if upd.Record == nil {
		h.logger.Error("form ended without a record", "user_id", userID, "step", upd.Step)
		return Reply{Text: genericFailure, Outcome: Failure}
	}
	return h.materialized(h.rows.Materialize(ctx, userID, *upd.Record))
}

func (h *Handler) materialized(res materialize.Result) Reply {
	switch res.Status {
	case materialize.Success:
		return Reply{
			Text:    fmt.Sprintf("✅ Added to row %d of %q.\n\nUse /add to record another.", res.Row, res.Target.SheetName),
			Outcome: Success,
		}
	case materialize.PartialFailure:
		failed := make([]string, len(res.Failed))
		for i, f := range res.Failed {
			failed[i] = fmt.Sprintf("%s (column %s)", f.Field.Label(), f.Column)
		}
		return Reply{
			Text: fmt.Sprintf("⚠️ Row %d was added to %q but some cells could not be written:\n%s\n\nPlease fill them in by hand.",
				res.Row, res.Target.SheetName, strings.Join(failed, "\n")),
			Outcome: Failure,
		}
	case materialize.NotConfigured:
		return Reply{Text: "Your spreadsheet isn't set up yet. " + setupUsage, Outcome: Failure}
	}
	if res.Stage == materialize.StageRowCreation {
		return Reply{Text: "💀 I couldn't create a new row, so nothing was written. Please try again with /add.", Outcome: Failure}
	}
	return Reply{Text: genericFailure, Outcome: Failure}
}

func (h *Handler) submitFailure(userID int64, step int, err error) Reply {
	var verr *entry.ValidationError
	switch {
	case errors.As(err, &verr):
		return Reply{Text: validationText(verr), Outcome: Failure}
	case errors.Is(err, session.ErrOutOfOrderStep):
		return Reply{Text: staleText}
	case errors.Is(err, session.ErrDuplicateField), errors.Is(err, entry.ErrInvalidInput):
		return Reply{Text: "😵‍💫 " + err.Error()}
	}
	h.logger.Error("submit failed", "user_id", userID, "step", step, "error", err)
	return Reply{Text: genericFailure, Outcome: Failure}
}

func (h *Handler) configFailure(userID int64, err error) Reply {
	if errors.Is(err, userconfig.ErrNotFound) {
		return Reply{Text: "Your spreadsheet isn't set up yet. " + setupUsage + "\n\n" + h.setupHint(), Outcome: Failure}
	}
	h.logger.Error("config lookup failed", "user_id", userID, "error", err)
	return Reply{Text: genericFailure, Outcome: Failure}
}

func (h *Handler) setupHint() string {
	if h.serviceEmail == "" {
		return "Share your spreadsheet with the bot's service account as an editor."
	}
	return fmt.Sprintf("Share your spreadsheet with %s as an editor.", h.serviceEmail)
}

// storeFromText accepts either a bare store name or "store: name".
func storeFromText(text string) string {
	if values, err := entry.ParseForm(2, text); err == nil {
		return values[entry.FieldStore]
	}
	return strings.TrimSpace(text)
}

// splitRow separates the leading row number from the rest of args.
func splitRow(args string) (string, string) {
	args = strings.TrimSpace(args)
	i := strings.IndexFunc(args, unicode.IsSpace)
	if i < 0 {
		return args, ""
	}
	return args[:i], args[i:]
}

// userMessage strips the sentinel prefix from err so only the detail is shown.
func userMessage(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}
