// Package rowinsert talks to the Apps Script web app that inserts a new row
// into an inventory tab while keeping its formulas and formatting intact.
package rowinsert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// DefaultFunction is the Apps Script function that inserts a row above the
// Total row, copying formulas only into selected columns.
const DefaultFunction = "addRowAboveTotalSelective"

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// FailureKind classifies why a row could not be created.
type FailureKind int

const (
	TransportError FailureKind = iota + 1
	RemoteLogicError
	MalformedResponse
)

func (k FailureKind) String() string {
	switch k {
	case TransportError:
		return "transport_error"
	case RemoteLogicError:
		return "remote_logic_error"
	case MalformedResponse:
		return "malformed_response"
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

// Failure is the error half of a Result.
type Failure struct {
	Kind FailureKind
	// Message carries the remote error text for RemoteLogicError and a
	// diagnostic for the other kinds. It is meant for logs, not users.
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is either a created row number or a Failure.
type Result struct {
	Row     int
	Failure *Failure
}

// OK reports whether a row was created.
func (r Result) OK() bool { return r.Failure == nil && r.Row >= 1 }

type request struct {
	SpreadsheetID string `json:"spreadsheetId"`
	SheetName     string `json:"sheetName"`
	FunctionName  string `json:"functionName"`
}

type response struct {
	NewRow json.RawMessage `json:"newRow"`
	Error  *string         `json:"error"`
}

// Client calls the row-insertion endpoint. It never retries.
type Client struct {
	url  string
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-call timeout. A client passed with
// WithHTTPClient is copied rather than modified.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			hc := *cl.http
			hc.Timeout = d
			cl.http = &hc
		}
	}
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateRow asks the endpoint to insert a row into sheetName and returns
// the new row's 1-based number.
func (c *Client) CreateRow(ctx context.Context, spreadsheetID, sheetName, function string) Result {
	if function == "" {
		function = DefaultFunction
	}
	body, err := json.Marshal(request{SpreadsheetID: spreadsheetID, SheetName: sheetName, FunctionName: function})
	if err != nil {
		return fail(TransportError, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fail(TransportError, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(TransportError, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(TransportError, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(TransportError, fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(raw)), nil)
	}

	return classify(raw)
}

func classify(raw []byte) Result {
	if !json.Valid(raw) {
		return fail(TransportError, "unparseable body: "+snippet(raw), nil)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fail(MalformedResponse, "unexpected body: "+snippet(raw), err)
	}

	if r.Error != nil {
		return fail(RemoteLogicError, *r.Error, nil)
	}
	if len(r.NewRow) == 0 || string(r.NewRow) == "null" {
		return fail(MalformedResponse, "no newRow or error: "+snippet(raw), nil)
	}
	n, ok := rowNumber(r.NewRow)
	if !ok {
		return fail(MalformedResponse, "invalid newRow "+snippet(r.NewRow), nil)
	}
	return Result{Row: n}
}

// rowNumber accepts bare integral JSON numbers, including 42.0 as sent by
// JavaScript, and rejects strings and anything below 1.
func rowNumber(raw json.RawMessage) (int, bool) {
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	num := json.Number(raw)
	if n, err := num.Int64(); err == nil {
		return int(n), n >= 1
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health probes the endpoint with GET and expects {"status":"ok"}.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d: %s", resp.StatusCode, snippet(raw))
	}
	var h healthResponse
	if err := json.Unmarshal(raw, &h); err != nil {
		return fmt.Errorf("unparseable health response: %w", err)
	}
	if h.Status != "ok" {
		return errors.New("endpoint reported status " + h.Status)
	}
	return nil
}

func fail(kind FailureKind, msg string, err error) Result {
	return Result{Failure: &Failure{Kind: kind, Message: msg, Err: err}}
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
