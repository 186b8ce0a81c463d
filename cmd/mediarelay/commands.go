package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/mediarelay/internal/config"
	"github.com/njoerd114/mediarelay/internal/contenttype"
	"github.com/njoerd114/mediarelay/internal/model"
	"github.com/njoerd114/mediarelay/internal/state"
	syncp "github.com/njoerd114/mediarelay/internal/sync"
)

func newDaemonCmd(g globals) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Poll every source on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.verbose())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, g.configPath(), logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			a.registerSources(ctx)

			logger.Info("daemon starting", "poll_interval", a.cfg.PollInterval)
			if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sync engine: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

func newSyncOnceCmd(g globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run a single pass over every source then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.verbose())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, g.configPath(), logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			a.registerSources(ctx)

			logger.Info("running single sync pass")
			stats, err := a.engine.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%d source(s): %d imported, %d skipped, %d error(s)\n",
				stats.Sources, stats.Imported, stats.Skipped, stats.Errors)
			return err
		},
	}
}

func newBackfillCmd(g globals) *cobra.Command {
	var (
		limit int
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "backfill <provider> <source-id>",
		Short: "Import the items a source already had when it was added",
		Long: `Import the items a source already had when it was registered.

The provider returns at most 50 items, so only the newest 50 existing items
can be imported. A backfill runs once per source; after a successful run it
cannot be repeated.

Examples:
  mediarelay backfill instagram 17841400000000001
  mediarelay backfill youtube UCxxxxxxxxxxxxxxxxxxxxxx --yes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := model.ParseProvider(args[0])
			if err != nil {
				return err
			}
			sourceID := args[1]

			logger := newLogger(g.verbose())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, g.configPath(), logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			sc, ok := a.findSource(provider, sourceID)
			if !ok {
				return fmt.Errorf("%s source %q is not in the config file", provider, sourceID)
			}
			if _, err := a.registrar.Ensure(ctx, sc); err != nil {
				return fmt.Errorf("registering source: %w", err)
			}

			limit = syncp.EffectiveBackfillLimit(limit)
			if !yes {
				q := fmt.Sprintf("Import up to %d existing items of %s source %q? This can only be done once.", limit, provider, sourceID)
				if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), q) {
					fmt.Fprintln(cmd.OutOrStdout(), "Backfill cancelled.")
					return nil
				}
			}

			out, err := a.engine.Backfill(ctx, provider, sourceID, limit)
			if err != nil {
				return err
			}
			return printBackfill(cmd.OutOrStdout(), out, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", syncp.BackfillPageLimit, "maximum number of existing items to import (at most 50)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func printBackfill(w io.Writer, out syncp.Outcome, limit int) error {
	fmt.Fprintf(w, "Imported %d item(s), %d already present.\n", out.ImportedCount, out.SkippedCount)
	if out.CapacityReached {
		fmt.Fprintf(w, "Note: the provider maximum of %d items was reached; older items were not imported.\n", limit)
	}
	if err := out.Err(); err != nil {
		fmt.Fprintln(w, "The backfill had errors and was not recorded; it can be run again:")
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  - %v\n", e)
		}
		return err
	}
	fmt.Fprintln(w, "Backfill complete.")
	return nil
}

func newStatusCmd(g globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and the ledger of every source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			cfgPath := g.configPath()

			fmt.Fprintln(w, "MediaRelay Status")
			fmt.Fprintln(w, "─────────────────")

			cfg, cfgErr := config.Load(cfgPath)
			switch {
			case cfgErr == nil:
				fmt.Fprintf(w, "  Config:    %s ✓\n", cfgPath)
				fmt.Fprintf(w, "  Poll:      %s\n", cfg.PollInterval)
				fmt.Fprintf(w, "  Content:   %s\n", cfg.ContentDir)
			case errors.Is(cfgErr, os.ErrNotExist):
				fmt.Fprintf(w, "  Config:    not found (%s)\n", cfgPath)
			default:
				fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", cfgPath, cfgErr)
			}

			dbPath, err := state.DefaultDBPath()
			if err != nil {
				return err
			}
			if cfg != nil && cfg.StateDB != "" {
				dbPath = cfg.StateDB
			}
			info, err := os.Stat(dbPath)
			if err != nil {
				fmt.Fprintln(w, "  State DB:  not found")
				return nil
			}
			fmt.Fprintf(w, "  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

			store, err := state.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening state DB: %w", err)
			}
			defer store.Close()

			sources, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing sources: %w", err)
			}
			fmt.Fprintln(w)
			return printSources(w, sources, contenttype.NewRegistry())
		},
	}
}

func printSources(w io.Writer, sources []*model.TrackedSource, registry *contenttype.Registry) error {
	if len(sources) == 0 {
		fmt.Fprintln(w, "No sources registered yet. Run 'mediarelay sync-once' to register configured sources.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSOURCE\tTITLE\tCONTENT TYPE\tKNOWN\tIMPORTED\tBACKFILL\tLAST SYNC")
	var notes []string
	for _, src := range sources {
		backfill := "done"
		if !src.BackfillCompleted {
			pending := src.PendingBackfill()
			backfill = fmt.Sprintf("pending (%d)", pending)
			if pending == syncp.BackfillPageLimit {
				notes = append(notes, fmt.Sprintf("%s %s: the provider maximum of %d items was reached at registration; older items cannot be backfilled.",
					src.Provider, src.SourceID, syncp.BackfillPageLimit))
			}
		}
		lastSync := "never"
		if !src.LastSyncedAt.IsZero() {
			lastSync = src.LastSyncedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			src.Provider, src.SourceID, src.Title, registry.Resolve(src).Key,
			src.AllKnown.Len(), src.Imported.Len(), backfill, lastSync)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Fprintln(w, "Note:", n)
	}
	return nil
}

func (a *app) findSource(p model.Provider, id string) (syncp.SourceConfig, bool) {
	for _, sc := range a.sources {
		if sc.Provider == p && sc.SourceID == id {
			return sc, true
		}
	}
	return syncp.SourceConfig{}, false
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		a.log.Error("shutdown error", "error", err)
	}
}

// confirm asks a yes/no question; anything but y/yes is no.
func confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
