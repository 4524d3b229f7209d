// Package cli implements the pixelpress command line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion overrides the version printed by --version.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

type rootOptions struct {
	verbose bool
}

// NewRootCommand builds the command tree. Output goes to the command's
// configured writers so tests can capture it.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pixelpress",
		Short: "Adaptive multi-strategy image compression",
		Long: `pixelpress compresses JPEG, PNG and WebP images by trying several
encoding strategies and keeping the smallest result. An image is never
made larger: when nothing beats the source, the original bytes are kept.

Example usage:
  pixelpress compress photo.jpg -q 60          # auto format, balanced tier
  pixelpress compress *.png -f webp -o dist     # force WebP
  pixelpress tiers                              # show the quality tiers`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"pixelpress %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every strategy attempt to stderr")

	root.AddCommand(
		newCompressCommand(opts),
		newTiersCommand(),
	)
	return root
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("component", "cli")
}

// Main is the process entry point shared by cmd/pixelpress.
func Main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pixelpress:", err)
		os.Exit(1)
	}
}
