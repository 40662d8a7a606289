package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"invbot/internal/columns"
	"invbot/internal/config"
	"invbot/internal/httpserver"
	"invbot/internal/intake"
	"invbot/internal/materialize"
	"invbot/internal/rowinsert"
	"invbot/internal/session"
	"invbot/internal/sheets"
	"invbot/internal/telegram"
	"invbot/internal/userconfig"
)

// rowRetryBackoff is the base delay between row creation attempts.
const rowRetryBackoff = time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot and its health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, rootOpts, cmd)
		},
	}
}

func run(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	table, err := columns.Load(cfg.ColumnsFile)
	if err != nil {
		return err
	}

	store, err := userconfig.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}
	defer store.Close()

	sheetsClient, err := sheets.NewClient(ctx, cfg.RemoteTimeout,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.Scope),
	)
	if err != nil {
		return err
	}
	email, err := sheets.ServiceAccountEmail(cfg.CredentialsFile)
	if err != nil {
		logger.Warn("service account email unavailable", "error", err)
	}

	rows := rowinsert.New(cfg.ScriptURL, rowinsert.WithTimeout(cfg.RemoteTimeout))
	forms := session.New(session.NewMemoryStore(), table.Stores(),
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithLogger(logger),
	)
	materializer := materialize.New(store, rows, sheetsClient, table,
		materialize.WithFunction(cfg.RowInsertFunction),
		materialize.WithRowAttempts(cfg.RowInsertAttempts, rowRetryBackoff),
		materialize.WithSheetSerialization(cfg.SerializePerSheet),
		materialize.WithLogger(logger),
	)
	handler := intake.New(forms, store, sheetsClient, materializer, table,
		intake.WithServiceEmail(email),
		intake.WithLogger(logger),
	)

	bot, err := telegram.New(cfg.TelegramToken, handler,
		telegram.WithAllowedUsers(cfg.AllowedUserIDs),
		telegram.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	health := httpserver.New(fmt.Sprintf(":%d", cfg.Port), logger)

	logger.Info("starting invbot",
		"version", Version,
		"fields", len(table.Fields()),
		"stores", len(table.Stores()),
		"row_function", cfg.RowInsertFunction,
		"row_attempts", cfg.RowInsertAttempts,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return health.Serve(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("invbot stopped")
	return nil
}
