package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quire/pkg/notebook"
	"github.com/TFMV/quire/pkg/registry"
	"github.com/TFMV/quire/pkg/render"
)

var runCmd = &cobra.Command{
	Use:   "run <notebook" + notebook.Extension + ">...",
	Short: "Execute the code cells of notebook documents",
	Long: `Open each notebook, run its code cells in order and print their outputs.
In per-document mode every notebook gets its own session, discarded when the
document is closed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNotebooks,
}

func runNotebooks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel)
	format := viper.GetString("format")

	collector, stopMetrics := startMetrics(cfg.Metrics, logger)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kernel := newKernel(cfg, cmd.ErrOrStderr(), collector, logger)
	defer func() {
		if err := kernel.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Error closing kernel")
		}
	}()

	failed := 0
	for _, path := range args {
		nb, err := notebook.Open(path)
		if err != nil {
			return err
		}
		key := registry.Key(nb.Path)
		cells := nb.CodeCells()

		logger.Info().
			Str("notebook", nb.Path).
			Int("cells", len(cells)).
			Msg("Running notebook")
		fmt.Fprintf(cmd.OutOrStdout(), "== %s\n", nb.Path)

		for _, out := range kernel.ExecuteBatch(ctx, key, cells) {
			if out.IsError() {
				failed++
			}
			if err := render.Output(cmd.OutOrStdout(), out, format); err != nil {
				return err
			}
		}

		kernel.OnDocumentClosed(context.Background(), key)
	}

	if failed > 0 {
		return fmt.Errorf("%d cell(s) failed", failed)
	}
	return nil
}
