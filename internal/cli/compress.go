package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/sniff"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/spf13/cobra"
)

type compressOptions struct {
	root       *rootOptions
	quality    int
	format     string
	maxWidth   int
	maxHeight  int
	keepAspect bool
	outDir     string
	workers    int
	rasterOnly bool
	jsonOutput bool
}

// fileReport is one line of the compress report.
type fileReport struct {
	Input  string           `json:"input"`
	Output string           `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
	Result *compress.Result `json:"result,omitempty"`
}

func newCompressCommand(root *rootOptions) *cobra.Command {
	opts := &compressOptions{root: root}

	cmd := &cobra.Command{
		Use:   "compress <file>...",
		Short: "Compress images and write the smallest encoding of each",
		Long: `Compresses every file independently on a worker pool. Each output is
written to the output directory as <name>.<ext>, where ext follows the
chosen format. Files that fail are reported and make the command exit
non-zero once every file has been processed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.quality, "quality", "q", 60, "quality level 0-100 (clamped)")
	f.StringVarP(&opts.format, "format", "f", "auto", "output format: auto, jpeg, png, webp")
	f.IntVar(&opts.maxWidth, "max-width", 0, "maximum output width in pixels (0 = unbounded)")
	f.IntVar(&opts.maxHeight, "max-height", 0, "maximum output height in pixels (0 = unbounded)")
	f.BoolVar(&opts.keepAspect, "keep-aspect", true, "preserve aspect ratio when bounding")
	f.StringVarP(&opts.outDir, "out", "o", "./pixelpress_out", "output directory")
	f.IntVarP(&opts.workers, "workers", "w", 0, "parallel workers (0 = NumCPU)")
	f.BoolVar(&opts.rasterOnly, "raster-only", false, "skip the libvips encoder even when compiled in")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func runCompress(cmd *cobra.Command, opts *compressOptions, paths []string) error {
	start := time.Now()

	format, ok := compress.ParseFormat(opts.format)
	if !ok {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	outDir, err := filepath.Abs(opts.outDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logger := opts.root.logger(cmd.ErrOrStderr())
	if !opts.rasterOnly {
		if err := compress.Startup(); err != nil {
			logger.Warn("primary encoder unavailable, using raster fallback", "err", err)
		}
		defer compress.Shutdown()
	}
	engine := compress.NewEngine(compress.Config{
		Workers:        opts.workers,
		DisablePrimary: opts.rasterOnly,
		Reporter:       telemetry.LogReporter{Logger: logger},
	})
	logger.Debug("engine ready", "primary", compress.PrimaryBackend(), "workers", engine.Workers(), "out", outDir)

	reports := make([]fileReport, len(paths))
	reqs := make([]compress.Request, 0, len(paths))
	index := make([]int, 0, len(paths))
	for i, path := range paths {
		reports[i].Input = path
		data, err := os.ReadFile(path)
		if err != nil {
			reports[i].Error = err.Error()
			continue
		}
		reqs = append(reqs, compress.Request{
			Source:              data,
			MimeType:            sniff.Resolve(data, mime.TypeByExtension(filepath.Ext(path))),
			Quality:             opts.quality,
			Format:              format,
			MaxWidth:            opts.maxWidth,
			MaxHeight:           opts.maxHeight,
			MaintainAspectRatio: opts.keepAspect,
		})
		index = append(index, i)
	}

	outcomes := engine.CompressBatch(cmd.Context(), reqs)
	names := newOutputNamer(outDir)
	for j, outcome := range outcomes {
		r := &reports[index[j]]
		if outcome.Err != nil {
			r.Error = outcome.Err.Error()
			continue
		}
		res := outcome.Result
		target := names.next(r.Input, res.OutputFormat)
		if err := os.WriteFile(target, res.Output, 0o644); err != nil {
			r.Error = fmt.Sprintf("write output: %v", err)
			continue
		}
		r.Output = target
		r.Result = &res
	}

	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printCompressReport(out, reports, time.Since(start))
	}

	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reports))
	}
	return nil
}

func printCompressReport(w io.Writer, reports []fileReport, elapsed time.Duration) {
	var inTotal, outTotal int64
	ok := 0
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(w, "  %-40s FAILED: %s\n", truncate(r.Input, 40), r.Error)
			continue
		}
		res := r.Result
		ok++
		inTotal += int64(res.OriginalSize)
		outTotal += int64(res.CompressedSize)

		note := res.Strategy
		if res.PassThrough {
			note = "kept original"
		}
		fmt.Fprintf(w, "  %-40s %8s -> %8s  (-%.1f%%)  %-5s %4dx%-4d -> %4dx%-4d  %s\n",
			truncate(r.Input, 40),
			formatBytes(int64(res.OriginalSize)),
			formatBytes(int64(res.CompressedSize)),
			res.RatioPercent,
			res.OutputFormat,
			res.OriginalDimensions.Width, res.OriginalDimensions.Height,
			res.CompressedDimensions.Width, res.CompressedDimensions.Height,
			note,
		)
	}

	saved := 0.0
	if inTotal > 0 {
		saved = float64(inTotal-outTotal) / float64(inTotal) * 100
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Files:   %d ok, %d failed\n", ok, len(reports)-ok)
	fmt.Fprintf(w, "  Total:   %s -> %s (-%.1f%%)\n", formatBytes(inTotal), formatBytes(outTotal), saved)
	fmt.Fprintf(w, "  Time:    %s\n", elapsed.Round(time.Millisecond))
}

// outputNamer maps inputs to unique output paths inside dir. A name that
// would overwrite its own input or an earlier output gets a numeric suffix.
type outputNamer struct {
	dir  string
	used map[string]bool
}

func newOutputNamer(dir string) *outputNamer {
	return &outputNamer{dir: dir, used: map[string]bool{}}
}

func (n *outputNamer) next(input string, format compress.Format) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if base == "" {
		base = "image"
	}
	absInput, _ := filepath.Abs(input)

	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name += "-" + strconv.Itoa(i)
		}
		target := filepath.Join(n.dir, name+"."+format.Extension())
		if n.used[target] || target == absInput {
			continue
		}
		n.used[target] = true
		return target
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
