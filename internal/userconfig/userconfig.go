// Package userconfig persists which spreadsheet and tab each user writes to.
package userconfig

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSheetNameLength matches the longest tab name Google Sheets accepts.
const MaxSheetNameLength = 100

var (
	ErrNotFound     = errors.New("user is not configured")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError wraps a failure of the underlying database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("config store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// UserConfig is the spreadsheet target registered by /setup.
type UserConfig struct {
	UserID        int64
	SpreadsheetID string
	SheetName     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Backend is the storage contract. Load returns ErrNotFound for unknown
// users; Upsert inserts or replaces the spreadsheet target and keeps the
// original creation time.
type Backend interface {
	Load(ctx context.Context, userID int64) (UserConfig, error)
	Upsert(ctx context.Context, cfg UserConfig) (UserConfig, error)
	Close() error
}

// Store validates input before it reaches the Backend.
type Store struct {
	backend Backend
}

func New(b Backend) *Store {
	return &Store{backend: b}
}

// Get returns the user's configuration or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (UserConfig, error) {
	cfg, err := s.backend.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserConfig{}, ErrNotFound
		}
		return UserConfig{}, &StoreError{Op: "get", Err: err}
	}
	return cfg, nil
}

// Put registers the spreadsheet at urlOrID and the tab sheetName for the
// user, replacing any earlier registration.
func (s *Store) Put(ctx context.Context, userID int64, urlOrID, sheetName string) (UserConfig, error) {
	cfg, err := Prepare(userID, urlOrID, sheetName)
	if err != nil {
		return UserConfig{}, err
	}
	saved, err := s.backend.Upsert(ctx, cfg)
	if err != nil {
		return UserConfig{}, &StoreError{Op: "put", Err: err}
	}
	return saved, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Prepare validates setup input without storing it.
func Prepare(userID int64, urlOrID, sheetName string) (UserConfig, error) {
	id, err := ExtractSpreadsheetID(urlOrID)
	if err != nil {
		return UserConfig{}, err
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		return UserConfig{}, fmt.Errorf("%w: sheet name is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(sheetName) > MaxSheetNameLength {
		return UserConfig{}, fmt.Errorf("%w: sheet name longer than %d characters", ErrInvalidInput, MaxSheetNameLength)
	}
	return UserConfig{UserID: userID, SpreadsheetID: id, SheetName: sheetName}, nil
}

var spreadsheetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ExtractSpreadsheetID accepts a bare spreadsheet ID or a Google Sheets URL
// of the form https://docs.google.com/spreadsheets/d/<ID>/edit...
func ExtractSpreadsheetID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)
	if s == "" {
		return "", fmt.Errorf("%w: spreadsheet URL is empty", ErrInvalidInput)
	}

	id := s
	if strings.Contains(s, "/") {
		_, rest, ok := strings.Cut(s, "/d/")
		if !ok {
			return "", fmt.Errorf("%w: not a Google Sheets URL", ErrInvalidInput)
		}
		id, _, _ = strings.Cut(rest, "/")
		id, _, _ = strings.Cut(id, "?")
		id, _, _ = strings.Cut(id, "#")
	}

	if !spreadsheetIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: could not extract spreadsheet ID", ErrInvalidInput)
	}
	return id, nil
}

// Open connects to the database named by url: postgres:// and
// postgresql:// select Postgres, sqlite:// and file: select SQLite.
func Open(ctx context.Context, url string) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		b, err = OpenPostgres(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		b, err = OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		b, err = OpenSQLite(url)
	default:
		return nil, fmt.Errorf("unsupported database URL scheme in %q", redact(url))
	}
	if err != nil {
		return nil, err
	}
	return New(b), nil
}

// redact hides credentials in a URL before it is logged.
func redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***" + rest[at:]
	}
	return scheme + "://" + rest
}
