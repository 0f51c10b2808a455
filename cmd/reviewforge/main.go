// Command reviewforge runs the hierarchical review service and its tooling.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/ReviewForge/internal/adapter/http"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewforge",
		Short:         "Hierarchical multi-reviewer draft review service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	collect := config.RegisterFlags(root.PersistentFlags())

	serve := newServeCmd(collect)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		newDiffCmd(collect),
		newMigrateCmd(collect),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "reviewforge", cfhttp.Version)
		},
	}
}

// loadConfig resolves the configuration hierarchy and installs the default
// logger. The returned Closer flushes buffered log records.
func loadConfig(collect func() config.CLIFlags) (*config.Config, string, logger.Closer, error) {
	cfg, path, err := config.LoadWithCLI(collect())
	if err != nil {
		return nil, "", nil, err
	}
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return cfg, path, closer, nil
}
