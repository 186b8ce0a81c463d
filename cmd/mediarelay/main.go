// MediaRelay polls Instagram accounts and YouTube channels and imports every
// newly published item into a local Markdown content store exactly once.
//
// Usage:
//
//	mediarelay daemon [--config <path>]           # poll on the configured interval
//	mediarelay sync-once [--config <path>]        # one pass over all sources then exit
//	mediarelay backfill <provider> <source-id>    # one-shot import of existing items
//	mediarelay status                             # show every source's ledger
//	mediarelay version                            # print version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/njoerd114/mediarelay/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags, resolved through viper so they can
// also come from MEDIARELAY_CONFIG and MEDIARELAY_VERBOSE.
type globals struct {
	v *viper.Viper
}

func (g globals) configPath() string { return g.v.GetString("config") }
func (g globals) verbose() bool      { return g.v.GetBool("verbose") }

func newRootCmd() *cobra.Command {
	g := globals{v: viper.New()}
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:           "mediarelay",
		Short:         "Import new Instagram and YouTube items into a local content store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	g.v.SetEnvPrefix(config.EnvPrefix)
	g.v.AutomaticEnv()
	_ = g.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = g.v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))

	root.AddCommand(
		newDaemonCmd(g),
		newSyncOnceCmd(g),
		newBackfillCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mediarelay", version)
		},
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
