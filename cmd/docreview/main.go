// Command docreview reviews and annotates .docx contracts from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docreview/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "docreview",
		Short:         "Review .docx contracts and write findings back as Word comments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			a.cfg = config.Load()
			a.log = newLogger(logOut, os.Getenv("LOG_LEVEL"))
		},
	}
	cmd.AddCommand(newParseCommand(a))
	cmd.AddCommand(newChunkCommand(a))
	cmd.AddCommand(newLocateCommand(a))
	cmd.AddCommand(newAnnotateCommand(a))
	cmd.AddCommand(newReviewCommand(a))
	cmd.AddCommand(newRenderCommand(a))
	return cmd
}

// newLogger builds a text logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
