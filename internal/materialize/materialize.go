// Package materialize turns a completed inventory form into a spreadsheet
// row: it resolves the user's sheet, asks the row-insertion endpoint for a
// fresh row and fills the mapped cells one by one.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"invbot/internal/columns"
	"invbot/internal/entry"
	"invbot/internal/rowinsert"
	"invbot/internal/userconfig"
)

type ConfigGetter interface {
	Get(ctx context.Context, userID int64) (userconfig.UserConfig, error)
}

type RowCreator interface {
	CreateRow(ctx context.Context, spreadsheetID, sheetName, function string) rowinsert.Result
}

type CellWriter interface {
	WriteCell(ctx context.Context, spreadsheetID, sheet string, row int, column, value string) error
}

// Status is the overall outcome of a materialization.
type Status int

const (
	Success Status = iota + 1
	NotConfigured
	Failure
	PartialFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case NotConfigured:
		return "not_configured"
	case Failure:
		return "failure"
	case PartialFailure:
		return "partial_failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Stage names the step at which a Failure happened.
type Stage string

const (
	StageConfig      Stage = "config"
	StageRowCreation Stage = "row_creation"
)

// FieldError is one cell that could not be written.
type FieldError struct {
	Field  entry.Field
	Column string
	Err    error
}

type Result struct {
	Status  Status
	EntryID uuid.UUID
	Target  userconfig.UserConfig
	// Row is set for Success and PartialFailure.
	Row int
	// Stage and Err describe a Failure.
	Stage Stage
	Err   error
	// Succeeded and Failed list the cell writes of a created row.
	Succeeded []entry.Field
	Failed    []FieldError
}

type Materializer struct {
	configs   ConfigGetter
	rows      RowCreator
	cells     CellWriter
	table     *columns.Table
	function  string
	attempts  int
	backoff   time.Duration
	serialize bool
	locks     *keyedMutex
	logger    *slog.Logger
	newID     func() uuid.UUID
}

type Option func(*Materializer)

// WithFunction selects the Apps Script row-creation function.
func WithFunction(name string) Option {
	return func(m *Materializer) {
		if name != "" {
			m.function = name
		}
	}
}

// WithRowAttempts allows retrying row creation after transport errors.
// A transport error may hide a row that was in fact created, so each retry
// can leave an empty row behind; the default of 1 never retries.
func WithRowAttempts(n int, backoff time.Duration) Option {
	return func(m *Materializer) {
		if n >= 1 {
			m.attempts = n
		}
		m.backoff = backoff
	}
}

// WithSheetSerialization makes row creation for the same spreadsheet tab
// run one at a time within this process.
func WithSheetSerialization(on bool) Option {
	return func(m *Materializer) { m.serialize = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) { m.logger = l }
}

func New(configs ConfigGetter, rows RowCreator, cells CellWriter, table *columns.Table, opts ...Option) *Materializer {
	m := &Materializer{
		configs:   configs,
		rows:      rows,
		cells:     cells,
		table:     table,
		function:  rowinsert.DefaultFunction,
		attempts:  1,
		serialize: true,
		locks:     newKeyedMutex(),
		logger:    slog.Default(),
		newID:     uuid.New,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Materialize writes rec into a new row of the user's inventory tab.
//
// No cell is written unless a row was created. Once it was, every mapped
// field is attempted even if some writes fail, and the row number is
// always reported so the user can finish the row by hand.
func (m *Materializer) Materialize(ctx context.Context, userID int64, rec entry.FieldRecord) Result {
	res := Result{EntryID: m.newID()}
	log := m.logger.With("user_id", userID, "entry_id", res.EntryID)

	cfg, err := m.configs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, userconfig.ErrNotFound) {
			res.Status = NotConfigured
			return res
		}
		log.Error("config lookup failed", "error", err)
		res.Status, res.Stage, res.Err = Failure, StageConfig, err
		return res
	}
	res.Target = cfg
	log = log.With("spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName)

	created := m.createRow(ctx, log, cfg)
	if !created.OK() {
		log.Error("row creation failed", "kind", created.Failure.Kind.String(), "error", created.Failure)
		res.Status, res.Stage, res.Err = Failure, StageRowCreation, created.Failure
		return res
	}
	res.Row = created.Row
	log = log.With("row", res.Row)

	values := rec.Values()
	if _, ok := m.table.Column(entry.FieldID); ok {
		values[entry.FieldID] = res.EntryID.String()
	}

	for _, f := range m.table.Fields() {
		v, ok := values[f]
		if !ok {
			continue
		}
		col, _ := m.table.Column(f)
		if err := m.cells.WriteCell(ctx, cfg.SpreadsheetID, cfg.SheetName, res.Row, col, v); err != nil {
			log.Warn("cell write failed", "field", string(f), "column", col, "error", err)
			res.Failed = append(res.Failed, FieldError{Field: f, Column: col, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, f)
	}

	if len(res.Failed) > 0 {
		res.Status = PartialFailure
		log.Error("row partially written", "failed", failedNames(res.Failed), "succeeded", len(res.Succeeded))
		return res
	}
	res.Status = Success
	log.Info("row written", "fields", len(res.Succeeded))
	return res
}

func (m *Materializer) createRow(ctx context.Context, log *slog.Logger, cfg userconfig.UserConfig) rowinsert.Result {
	if m.serialize {
		unlock := m.locks.Lock(cfg.SpreadsheetID + "\x00" + cfg.SheetName)
		defer unlock()
	}

	var res rowinsert.Result
	for attempt := 1; attempt <= m.attempts; attempt++ {
		res = m.rows.CreateRow(ctx, cfg.SpreadsheetID, cfg.SheetName, m.function)
		if res.OK() || res.Failure == nil || res.Failure.Kind != rowinsert.TransportError || attempt == m.attempts {
			return res
		}
		log.Warn("retrying row creation", "attempt", attempt, "attempts", m.attempts, "error", res.Failure)
		select {
		case <-ctx.Done():
			return res
		case <-time.After(m.backoff * time.Duration(attempt)):
		}
	}
	return res
}

func failedNames(fe []FieldError) string {
	names := make([]string, len(fe))
	for i, f := range fe {
		names[i] = string(f.Field)
	}
	return strings.Join(names, ",")
}
