package materialize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invbot/internal/columns"
	"invbot/internal/entry"
	"invbot/internal/rowinsert"
	"invbot/internal/userconfig"
)

type fakeConfigs struct {
	cfg userconfig.UserConfig
	err error
}

func (f *fakeConfigs) Get(_ context.Context, userID int64) (userconfig.UserConfig, error) {
	if f.err != nil {
		return userconfig.UserConfig{}, f.err
	}
	cfg := f.cfg
	cfg.UserID = userID
	return cfg, nil
}

type fakeRows struct {
	mu      sync.Mutex
	results []rowinsert.Result
	calls   int
	fns     []string
}

func (f *fakeRows) CreateRow(_ context.Context, _, _, function string) rowinsert.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, function)
	res := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	return res
}

type write struct {
	row         int
	column, val string
}

type fakeCells struct {
	mu     sync.Mutex
	writes []write
	fail   map[string]error
}

func (f *fakeCells) WriteCell(_ context.Context, _, _ string, row int, column, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{row, column, value})
	return f.fail[column]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord() entry.FieldRecord {
	return entry.FieldRecord{
		ProductName:   "Widget",
		DatePurchased: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Quantity:      3,
		CostPerUnit:   "2.50",
		Tax:           "0.45",
		Store:         "Amazon",
	}
}

func newTest(t *testing.T, rows *fakeRows, cells *fakeCells, opts ...Option) *Materializer {
	t.Helper()
	table, err := columns.Default()
	require.NoError(t, err)
	cfgs := &fakeConfigs{cfg: userconfig.UserConfig{SpreadsheetID: "sid", SheetName: "Inventory"}}
	return New(cfgs, rows, cells, table, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestMaterialize_Success(t *testing.T) {
	rows := &fakeRows{results: []rowinsert.Result{{Row: 42}}}
	cells := &fakeCells{}
	m := newTest(t, rows, cells)

	res := m.Materialize(context.Background(), 7, testRecord())

	require.Equal(t, Success, res.Status)
	assert.Equal(t, 42, res.Row)
	assert.NotEqual(t, uuid.Nil, res.EntryID)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []write{
		{42, "B", "Widget"},
		{42, "C", "01/15/2025"},
		{42, "D", "3"},
		{42, "H", "Amazon"},
		{42, "L", "2.50"},
		{42, "M", "0.45"},
	}, cells.writes)
	assert.Equal(t, []string{rowinsert.DefaultFunction}, rows.fns)
}

func TestMaterialize_OptionalFieldsWritten(t *testing.T) {
	rows := &fakeRows{results: []rowinsert.Result{{Row: 9}}}
	cells := &fakeCells{}
	m := newTest(t, rows, cells)

	rec := testRecord()
	rec.Link = "https://example.com/w"
	rec.RetailPrice = "9.99"
	res := m.Materialize(context.Background(), 7, rec)

	require.Equal(t, Success, res.Status)
	assert.Len(t, cells.writes, 8)
	assert.Contains(t, cells.writes, write{9, "J", "https://example.com/w"})
	assert.Contains(t, cells.writes, write{9, "O", "9.99"})
}

func TestMaterialize_RowCreationFailure(t *testing.T) {
	for _, kind := range []rowinsert.FailureKind{rowinsert.TransportError, rowinsert.RemoteLogicError, rowinsert.MalformedResponse} {
		t.Run(kind.String(), func(t *testing.T) {
			rows := &fakeRows{results: []rowinsert.Result{{Failure: &rowinsert.Failure{Kind: kind, Message: "boom"}}}}
			cells := &fakeCells{}
			m := newTest(t, rows, cells)

			res := m.Materialize(context.Background(), 7, testRecord())

			assert.Equal(t, Failure, res.Status)
			assert.Equal(t, StageRowCreation, res.Stage)
			var f *rowinsert.Failure
			require.ErrorAs(t, res.Err, &f)
			assert.Equal(t, kind, f.Kind)
			assert.Empty(t, cells.writes, "no cell may be written without a row")
			assert.Equal(t, 1, rows.calls)
		})
	}
}

func TestMaterialize_PartialFailure(t *testing.T) {
	rows := &fakeRows{results: []rowinsert.Result{{Row: 42}}}
	cells := &fakeCells{fail: map[string]error{"D": errors.New("quota")}}
	m := newTest(t, rows, cells)

	res := m.Materialize(context.Background(), 7, testRecord())

	require.Equal(t, PartialFailure, res.Status)
	assert.Equal(t, 42, res.Row)
	assert.Len(t, cells.writes, 6, "writes continue after a failure")
	require.Len(t, res.Failed, 1)
	assert.Equal(t, entry.FieldQuantity, res.Failed[0].Field)
	assert.Equal(t, "D", res.Failed[0].Column)
	assert.Len(t, res.Succeeded, 5)
	assert.NotContains(t, res.Succeeded, entry.FieldQuantity)
}

func TestMaterialize_NotConfigured(t *testing.T) {
	rows := &fakeRows{results: []rowinsert.Result{{Row: 42}}}
	cells := &fakeCells{}
	table, err := columns.Default()
	require.NoError(t, err)
	m := New(&fakeConfigs{err: userconfig.ErrNotFound}, rows, cells, table, WithLogger(quietLogger()))

	res := m.Materialize(context.Background(), 7, testRecord())

	assert.Equal(t, NotConfigured, res.Status)
	assert.Zero(t, rows.calls)
	assert.Empty(t, cells.writes)
}

func TestMaterialize_ConfigStoreFailure(t *testing.T) {
	rows := &fakeRows{results: []rowinsert.Result{{Row: 42}}}
	table, err := columns.Default()
	require.NoError(t, err)
	storeErr := &userconfig.StoreError{Op: "get", Err: errors.New("db down")}
	m := New(&fakeConfigs{err: storeErr}, rows, &fakeCells{}, table, WithLogger(quietLogger()))

	res := m.Materialize(context.Background(), 7, testRecord())

	assert.Equal(t, Failure, res.Status)
	assert.Equal(t, StageConfig, res.Stage)
	assert.ErrorIs(t, res.Err, storeErr)
	assert.Zero(t, rows.calls)
}

func TestMaterialize_RetriesTransportOnly(t *testing.T) {
	transport := rowinsert.Result{Failure: &rowinsert.Failure{Kind: rowinsert.TransportError, Message: "reset"}}
	remote := rowinsert.Result{Failure: &rowinsert.Failure{Kind: rowinsert.RemoteLogicError, Message: "no Total row"}}

	rows := &fakeRows{results: []rowinsert.Result{transport, {Row: 11}}}
	cells := &fakeCells{}
	m := newTest(t, rows, cells, WithRowAttempts(3, time.Millisecond))
	res := m.Materialize(context.Background(), 7, testRecord())
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, 11, res.Row)
	assert.Equal(t, 2, rows.calls)

	rows = &fakeRows{results: []rowinsert.Result{remote, {Row: 11}}}
	m = newTest(t, rows, &fakeCells{}, WithRowAttempts(3, time.Millisecond))
	res = m.Materialize(context.Background(), 7, testRecord())
	assert.Equal(t, Failure, res.Status)
	assert.Equal(t, 1, rows.calls)

	rows = &fakeRows{results: []rowinsert.Result{transport}}
	m = newTest(t, rows, &fakeCells{}, WithRowAttempts(2, time.Millisecond))
	res = m.Materialize(context.Background(), 7, testRecord())
	assert.Equal(t, Failure, res.Status)
	assert.Equal(t, 2, rows.calls)
}

func TestMaterialize_IDColumn(t *testing.T) {
	table, err := columns.Parse([]byte(`
columns:
  id: A
  product_name: B
  date_purchased: C
  quantity: D
  store: H
  cost_per_unit: L
  tax: M
stores: [Amazon]
`))
	require.NoError(t, err)

	cells := &fakeCells{}
	rows := &fakeRows{results: []rowinsert.Result{{Row: 5}}}
	cfgs := &fakeConfigs{cfg: userconfig.UserConfig{SpreadsheetID: "sid", SheetName: "Inventory"}}
	m := New(cfgs, rows, cells, table, WithLogger(quietLogger()))

	res := m.Materialize(context.Background(), 7, testRecord())

	require.Equal(t, Success, res.Status)
	require.Len(t, cells.writes, 7)
	assert.Equal(t, write{5, "A", res.EntryID.String()}, cells.writes[0])
}

type blockingRows struct {
	active, peak atomic.Int32
	next         atomic.Int32
}

func (b *blockingRows) CreateRow(context.Context, string, string, string) rowinsert.Result {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	b.active.Add(-1)
	return rowinsert.Result{Row: int(b.next.Add(1)) + 7}
}

func TestMaterialize_SerializesPerSheet(t *testing.T) {
	table, err := columns.Default()
	require.NoError(t, err)
	rows := &blockingRows{}
	cfgs := &fakeConfigs{cfg: userconfig.UserConfig{SpreadsheetID: "sid", SheetName: "Inventory"}}
	m := New(cfgs, rows, &fakeCells{}, table, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			res := m.Materialize(context.Background(), user, testRecord())
			assert.Equal(t, Success, res.Status)
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), rows.peak.Load())
	assert.Empty(t, m.locks.locks)
}
