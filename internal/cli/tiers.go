package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/spf13/cobra"
)

// tierRanges are the inclusive quality bands MapQuality distinguishes.
var tierRanges = [][2]int{{0, 30}, {31, 60}, {61, 80}, {81, 100}}

func newTiersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers [quality]",
		Short: "Show how quality levels map to encoder settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LEVELS\tLOSSY\tENCODER Q\tMAX DIM\tRESOLUTION")

			if len(args) == 1 {
				level, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("quality must be an integer: %q", args[0])
				}
				writeTier(w, strconv.Itoa(level), compress.MapQuality(level))
				return w.Flush()
			}

			for _, r := range tierRanges {
				writeTier(w, fmt.Sprintf("%d-%d", r[0], r[1]), compress.MapQuality(r[1]))
			}
			return w.Flush()
		},
	}
}

func writeTier(w *tabwriter.Writer, levels string, t compress.Tier) {
	resolution := "may downscale"
	if t.LockResolution {
		resolution = "locked"
	}
	fmt.Fprintf(w, "%s\t%.2f\t%d\t%dpx\t%s\n", levels, t.LossyQuality, t.EncoderQuality(), t.MaxDimensionPx, resolution)
}
