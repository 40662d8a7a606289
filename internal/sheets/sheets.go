// Package sheets writes inventory cells and reads inventory rows through the
// Google Sheets API using a service account shared with each spreadsheet.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scope grants read and write access to spreadsheets.
const Scope = "https://www.googleapis.com/auth/spreadsheets"

var (
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrSheetNotFound       = errors.New("sheet not found")
)

// cachedTabs maps tab titles to their numeric sheet IDs.
type cachedTabs struct {
	ids     map[string]int64
	expires time.Time
}

type Client struct {
	srv     *sheets.Service
	timeout time.Duration

	cacheMu  sync.Mutex
	cache    map[string]cachedTabs
	cacheTTL time.Duration
}

// NewClient builds a client. timeout bounds each API call; zero keeps
// the caller's deadline only.
func NewClient(ctx context.Context, timeout time.Duration, opts ...option.ClientOption) (*Client, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Client{
		srv:      srv,
		timeout:  timeout,
		cache:    make(map[string]cachedTabs),
		cacheTTL: 5 * time.Minute,
	}, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// A1 builds a range such as 'My Tab'!B42.
func A1(sheet string, column string, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(sheet), column, row)
}

func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// WriteCell writes one value as if typed by a user, so numbers and dates
// are parsed by Sheets rather than stored as text.
func (c *Client) WriteCell(ctx context.Context, spreadsheetID, sheet string, row int, column, value string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	vr := &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}
	_, err := c.srv.Spreadsheets.Values.Update(spreadsheetID, A1(sheet, column, row), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", A1(sheet, column, row), classify(err))
	}
	return nil
}

// VerifySheet checks that the service account can open the spreadsheet and
// that it has a tab named sheet.
func (c *Client) VerifySheet(ctx context.Context, spreadsheetID, sheet string) error {
	_, err := c.sheetID(ctx, spreadsheetID, sheet)
	return err
}

// DeleteRow removes a whole row from the tab, shifting the rows below it up.
func (c *Client) DeleteRow(ctx context.Context, spreadsheetID, sheet string, row int) error {
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}
	id, err := c.sheetID(ctx, spreadsheetID, sheet)
	if err != nil {
		return err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    id,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
					// The first tab has ID 0 and the first row index 0.
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	_, err = c.srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete row %d of %s: %w", row, quoteSheet(sheet), classify(err))
	}
	return nil
}

func (c *Client) sheetID(ctx context.Context, spreadsheetID, sheet string) (int64, error) {
	ids, err := c.tabs(ctx, spreadsheetID)
	if err != nil {
		return 0, err
	}
	id, ok := ids[sheet]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}
	return id, nil
}

func (c *Client) tabs(ctx context.Context, spreadsheetID string) (map[string]int64, error) {
	c.cacheMu.Lock()
	if e, ok := c.cache[spreadsheetID]; ok && time.Now().Before(e.expires) {
		defer c.cacheMu.Unlock()
		return e.ids, nil
	}
	c.cacheMu.Unlock()

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.srv.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	ids := make(map[string]int64, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			ids[s.Properties.Title] = s.Properties.SheetId
		}
	}

	c.cacheMu.Lock()
	c.cache[spreadsheetID] = cachedTabs{ids: ids, expires: time.Now().Add(c.cacheTTL)}
	c.cacheMu.Unlock()

	return ids, nil
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrSpreadsheetNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return err
}

// ServiceAccountEmail reads client_email from a service account key file,
// the address users must share their spreadsheet with.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials: %w", err)
	}
	var key struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return "", fmt.Errorf("failed to parse credentials: %w", err)
	}
	if key.ClientEmail == "" {
		return "", errors.New("credentials have no client_email")
	}
	return key.ClientEmail, nil
}
