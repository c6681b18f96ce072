package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/stereowls/internal/config"
	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
)

func (a *app) newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter GUIDE DEPTH",
		Short: "Refine a precomputed depth map with the WLS filter and a guide image",
		Long: `Refine an existing disparity or depth map, using a colour or gray image of
the same size as the edge guide.

8-bit and floating point maps are taken as whole pixels, 16 and 32-bit
integer maps as 1/16 pixel units. The output holds 1/16 pixel units.

Examples:
  stereowls filter left.png depth.png -o filtered.png
  stereowls filter left.png depth.tiff -o filtered.png --lambda 12000 --sigma 1.5`,
		Args: cobra.ExactArgs(2),
		RunE: a.runFilter,
	}
	addOutputFlags(cmd.Flags())
	addSampleTypeFlag(cmd.Flags())
	d := pipeline.DefaultFilterOptions()
	cmd.Flags().Int("window-size", d.WindowSize, "window size the discontinuity radius derives from")
	cmd.Flags().Float64("lambda", d.Lambda, "WLS regularisation strength")
	cmd.Flags().Float64("sigma", d.Sigma, "WLS sensitivity to guide edges")
	cmd.Flags().Int("threads", 0, "goroutines per image (0 = number of CPUs)")
	return cmd
}

func (a *app) runFilter(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	out, preview, format := outputFlags(fs)
	t, err := fileSampleType(fs, a.cfg)
	if err != nil {
		return err
	}

	opts := filterOptions(fs, a.cfg.ToFilterOptions(filterBase(a.cfg)))
	opts.Observer = pipeline.LogStageObserver{}

	guide, _, err := depthio.Load(args[0], imgbuf.ReadColor)
	if err != nil {
		return err
	}
	depth, _, err := depthio.Load(args[1], imgbuf.ReadUnchanged)
	if err != nil {
		return err
	}

	start := time.Now()
	filtered, err := pipeline.FilterOnly(cmd.Context(), guide, depth, opts)
	if err != nil {
		return fmt.Errorf("depth filtering failed: %w", err)
	}
	return finishDepth(cmd, depthJob{
		command:    "filter",
		inputs:     args,
		out:        filtered,
		sampleType: t,
		statsScale: stereo.DisparityScale,
		settings:   filterSettings(opts),
		path:       out,
		preview:    preview,
		format:     format,
		elapsed:    time.Since(start),
	})
}

func (a *app) newSmoothCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smooth DEPTH",
		Short: "Smooth a depth map guided by itself",
		Long: `Smooth a depth map without a guide image: a 3x3 median prefilter, then the
WLS filter guided by the normalised depth. The output keeps the input's
sample type when an image file can hold it.

Examples:
  stereowls smooth depth.png -o smoothed.png
  stereowls smooth depth.tiff -o smoothed.tiff --lambda 30000`,
		Args: cobra.ExactArgs(1),
		RunE: a.runSmooth,
	}
	addOutputFlags(cmd.Flags())
	addSampleTypeFlag(cmd.Flags())
	d := pipeline.DefaultSelfGuidedOptions()
	cmd.Flags().Int("window-size", d.WindowSize, "window size the discontinuity radius derives from")
	cmd.Flags().Float64("lambda", d.Lambda, "WLS regularisation strength")
	cmd.Flags().Float64("sigma", d.Sigma, "WLS sensitivity to guide edges")
	cmd.Flags().Int("threads", 0, "goroutines per image (0 = number of CPUs)")
	return cmd
}

func (a *app) runSmooth(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	out, preview, format := outputFlags(fs)
	t, err := fileSampleType(fs, a.cfg)
	if err != nil {
		return err
	}
	opts := filterOptions(fs, pipeline.DefaultSelfGuidedOptions())
	opts.Observer = pipeline.LogStageObserver{}

	depth, _, err := depthio.Load(args[0], imgbuf.ReadUnchanged)
	if err != nil {
		return err
	}

	start := time.Now()
	smoothed, err := pipeline.SelfGuided(cmd.Context(), depth, opts)
	if err != nil {
		return fmt.Errorf("depth smoothing failed: %w", err)
	}
	return finishDepth(cmd, depthJob{
		command:    "smooth",
		inputs:     args,
		out:        smoothed,
		sampleType: storedType(smoothed, t),
		statsScale: depthScale(depth.Type),
		settings:   filterSettings(opts),
		path:       out,
		preview:    preview,
		format:     format,
		elapsed:    time.Since(start),
	})
}

// filterBase is the guided filter setup with the configured smoothing.
func filterBase(cfg *config.Config) pipeline.FilterOptions {
	o := pipeline.DefaultFilterOptions()
	o.Lambda = cfg.Filter.Lambda
	o.Sigma = cfg.Filter.Sigma
	return o
}

// filterOptions applies the changed WLS flags over base.
func filterOptions(fs *pflag.FlagSet, base pipeline.FilterOptions) pipeline.FilterOptions {
	if fs.Changed("window-size") {
		base.WindowSize, _ = fs.GetInt("window-size")
	}
	if fs.Changed("lambda") {
		base.Lambda, _ = fs.GetFloat64("lambda")
	}
	if fs.Changed("sigma") {
		base.Sigma, _ = fs.GetFloat64("sigma")
	}
	if fs.Changed("threads") {
		base.Workers, _ = fs.GetInt("threads")
	}
	return base
}

func filterSettings(o pipeline.FilterOptions) map[string]any {
	return map[string]any{
		"window_size": o.WindowSize,
		"lambda":      o.Lambda,
		"sigma":       o.Sigma,
	}
}

// depthScale converts stored values of type t to pixels.
func depthScale(t imgbuf.SampleType) float64 {
	fp, err := pipeline.FixedPointScale(t)
	if err != nil {
		return 1
	}
	return stereo.DisparityScale / fp
}
