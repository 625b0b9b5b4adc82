// Command docworker runs the individual document stages the pipeline
// executor schedules: page extraction, OCR, and PDF and image conversions.
// Progress is written to stdout, logs to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docpipe/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "docworker",
		Short:         "Run one document pipeline stage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		extractPagesCmd(),
		processDirectoryCmd(),
		markdownToPDFCmd(),
		splitReorderCmd(),
		mergePDFsCmd(),
		imagesToPDFCmd(),
		convertImageCmd(),
	)
	return root
}

// reportProgress writes one structured progress line for the executor.
func reportProgress(w io.Writer, u worker.Update) {
	fmt.Fprintln(w, worker.FormatProgress(u))
}

func requireFlags(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		_ = cmd.MarkFlagRequired(n)
	}
}
