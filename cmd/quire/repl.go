package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quire/pkg/coordinator"
	"github.com/TFMV/quire/pkg/registry"
	"github.com/TFMV/quire/pkg/render"
	"github.com/TFMV/quire/pkg/server"
)

const (
	replPrompt     = "quire> "
	replContinue   = "   ...> "
	replSessionKey = registry.Key("repl")
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Every block ending in a semicolon is run as
one cell in the same session.`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel)
	format := viper.GetString("format")

	collector, stopMetrics := startMetrics(cfg.Metrics, logger)
	defer stopMetrics()

	kernel := newKernel(cfg, cmd.ErrOrStderr(), collector, logger)
	defer func() {
		if err := kernel.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Error closing kernel")
		}
	}()

	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".quire_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "quire %s (%s backend, %s sessions)\n", server.Version, cfg.Backend, cfg.SessionMode)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")

	ctx := cmd.Context()
	var block strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			block.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		trimmed := strings.TrimSpace(line)
		if block.Len() == 0 {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ".") {
				var quit bool
				format, quit = handleDotCommand(ctx, cmd, kernel, trimmed, format)
				if quit {
					break
				}
				continue
			}
		}

		block.WriteString(line)
		block.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			rl.SetPrompt(replContinue)
			continue
		}
		rl.SetPrompt(replPrompt)

		result := kernel.Execute(ctx, replSessionKey, block.String())
		block.Reset()
		if err := render.Output(out, result, format); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}

	return nil
}

// handleDotCommand runs a REPL command and returns the output format in effect
// afterwards and whether to quit.
func handleDotCommand(ctx context.Context, cmd *cobra.Command, kernel *coordinator.Coordinator, line, format string) (string, bool) {
	parts := strings.Fields(line)
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return format, true

	case ".help":
		printREPLHelp(out)

	case ".format":
		if len(parts) < 2 || !slices.Contains(render.Formats, parts[1]) {
			_, _ = fmt.Fprintf(errOut, "Usage: .format <%s>\n", strings.Join(render.Formats, "|"))
			return format, false
		}
		return parts[1], false

	case ".reset":
		if err := kernel.Reset(ctx); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return format, false
		}
		_, _ = fmt.Fprintln(out, "All sessions reset")

	case ".sessions":
		render.Sessions(out, kernel.Sessions())

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return format, false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .format <fmt>     Switch output format (table, json, csv, markdown)
  .sessions         List live sessions
  .reset            Discard every session
  .quit / .exit     Exit the REPL

Cells end with a semicolon (;) and may span lines.
`
	_, _ = fmt.Fprintln(w, help)
}

func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".format",
			readline.PcItem(render.FormatTable),
			readline.PcItem(render.FormatJSON),
			readline.PcItem(render.FormatCSV),
			readline.PcItem(render.FormatMarkdown),
		),
		readline.PcItem(".sessions"),
		readline.PcItem(".reset"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
