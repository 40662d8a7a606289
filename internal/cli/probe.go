package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"invbot/internal/columns"
	"invbot/internal/config"
	"invbot/internal/rowinsert"
	"invbot/internal/sheets"
	"invbot/internal/userconfig"
)

const probeTimeout = 15 * time.Second

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check configuration and external dependencies",
		Long: `Check that the configuration loads, the column mapping is valid, the
config database opens, the service account key is readable and the
row-insertion endpoint answers its health check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			return probe(ctx, rootOpts, cmd.OutOrStdout())
		},
	}
}

func probe(ctx context.Context, opts *RootOptions, out io.Writer) error {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		fmt.Fprintf(out, "✗ configuration\n%v\n", err)
		return fmt.Errorf("probe failed")
	}
	fmt.Fprintln(out, "✓ configuration")

	failed := 0
	check := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "✓ %s\n", name)
	}

	table, err := columns.Load(cfg.ColumnsFile)
	if err == nil {
		fmt.Fprintf(out, "  %d mapped fields, %d stores\n", len(table.Fields()), len(table.Stores()))
	}
	check("column mapping", err)

	store, err := userconfig.Open(ctx, cfg.DatabaseURL)
	if err == nil {
		err = store.Close()
	}
	check("config database", err)

	email, err := sheets.ServiceAccountEmail(cfg.CredentialsFile)
	if err == nil {
		fmt.Fprintf(out, "  service account %s\n", email)
	}
	check("service account key", err)

	check("row-insertion endpoint", rowinsert.New(cfg.ScriptURL, rowinsert.WithTimeout(cfg.RemoteTimeout)).Health(ctx))

	if failed > 0 {
		return fmt.Errorf("probe failed: %d check(s)", failed)
	}
	return nil
}
