// Package config loads bot settings from the environment, an optional .env
// file and an optional invbot.yaml.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyToken          = "TELEGRAM_BOT_TOKEN"
	keyScriptURL      = "GOOGLE_SCRIPT_URL"
	keyCredentials    = "GOOGLE_CREDENTIALS_FILE"
	keyDatabaseURL    = "DATABASE_URL"
	keyAllowedUsers   = "ALLOWED_USER_IDS"
	keyColumnsFile    = "COLUMNS_FILE"
	keyIdleTimeout    = "SESSION_IDLE_TIMEOUT"
	keyRemoteTimeout  = "REMOTE_TIMEOUT"
	keyFunction       = "ROW_INSERT_FUNCTION"
	keyAttempts       = "ROW_INSERT_ATTEMPTS"
	keySerialize      = "SERIALIZE_PER_SHEET"
	keyPort           = "PORT"
	keyLogLevel       = "LOG_LEVEL"
	keyLogFormat      = "LOG_FORMAT"
	defaultConfigName = "invbot"
)

type Config struct {
	TelegramToken      string
	ScriptURL          string
	CredentialsFile    string
	DatabaseURL        string
	AllowedUserIDs     []int64
	ColumnsFile        string
	SessionIdleTimeout time.Duration
	RemoteTimeout      time.Duration
	RowInsertFunction  string
	RowInsertAttempts  int
	SerializePerSheet  bool
	Port               int
	LogLevel           slog.Level
	LogFormat          string
}

// Load reads the configuration. dir is searched for .env and invbot.yaml;
// an empty dir means the working directory. Environment variables win over
// both files. Every missing or invalid key is reported in one error.
func Load(dir string) (Config, error) {
	if dir == "" {
		dir = "."
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	v.SetDefault(keyIdleTimeout, "10m")
	v.SetDefault(keyRemoteTimeout, "30s")
	v.SetDefault(keyFunction, "addRowAboveTotalSelective")
	v.SetDefault(keyAttempts, "1")
	v.SetDefault(keySerialize, "true")
	v.SetDefault(keyPort, "10000")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var (
		cfg  Config
		errs []error
	)
	get := func(key string) string { return strings.TrimSpace(v.GetString(key)) }
	required := func(key string) string {
		s := get(key)
		if s == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return s
	}
	duration := func(key string) time.Duration {
		d, err := time.ParseDuration(get(key))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, get(key)))
		}
		return d
	}
	integer := func(key string, least int) int {
		n, err := strconv.Atoi(get(key))
		if err != nil || n < least {
			errs = append(errs, fmt.Errorf("%s must be an integer >= %d, got %q", key, least, get(key)))
		}
		return n
	}

	cfg.TelegramToken = required(keyToken)
	cfg.ScriptURL = required(keyScriptURL)
	cfg.CredentialsFile = required(keyCredentials)
	cfg.DatabaseURL = required(keyDatabaseURL)
	cfg.ColumnsFile = get(keyColumnsFile)
	cfg.SessionIdleTimeout = duration(keyIdleTimeout)
	cfg.RemoteTimeout = duration(keyRemoteTimeout)
	cfg.RowInsertFunction = get(keyFunction)
	cfg.RowInsertAttempts = integer(keyAttempts, 1)
	cfg.Port = integer(keyPort, 1)
	cfg.LogFormat = strings.ToLower(get(keyLogFormat))

	if cfg.ScriptURL != "" && !strings.HasPrefix(cfg.ScriptURL, "https://") && !strings.HasPrefix(cfg.ScriptURL, "http://") {
		errs = append(errs, fmt.Errorf("%s must be an http(s) URL", keyScriptURL))
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", keyCredentials, err))
		}
	}
	if cfg.RowInsertFunction == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", keyFunction))
	}
	if b, err := strconv.ParseBool(get(keySerialize)); err != nil {
		errs = append(errs, fmt.Errorf("%s must be true or false, got %q", keySerialize, get(keySerialize)))
	} else {
		cfg.SerializePerSheet = b
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(get(keyLogLevel))); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", keyLogLevel, err))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("%s must be text or json, got %q", keyLogFormat, cfg.LogFormat))
	}
	ids, err := ParseUserIDs(get(keyAllowedUsers))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", keyAllowedUsers, err))
	}
	cfg.AllowedUserIDs = ids

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// ParseUserIDs parses a comma separated list of Telegram user IDs.
func ParseUserIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("non-integer user ID %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

// NewLogger builds the process logger in the configured format and level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
