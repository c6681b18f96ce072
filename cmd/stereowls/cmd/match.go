package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

func (a *app) newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match LEFT RIGHT",
		Short: "Compute the disparity of a rectified stereo pair",
		Long: `Match a rectified stereo pair, refine the disparity with the WLS filter and
write the results.

The filtered and raw maps hold disparity in 1/16 pixel units. Confidence is
only produced with --filter wls_conf. Previews are 8-bit images for viewing.

Supported formats: PNG, JPEG, BMP, TIFF

Examples:
  stereowls match left.png right.png -o disparity.png
  stereowls match left.png right.png --algorithm sgbm --filter wls_conf --confidence conf.png
  stereowls match left.png right.png -n 64 --downscale 0.5 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: a.runMatch,
	}

	addStereoFlags(cmd.Flags())
	addSampleTypeFlag(cmd.Flags())
	cmd.Flags().StringP("output", "o", "", "filtered disparity output path")
	cmd.Flags().String("raw", "", "raw disparity output path")
	cmd.Flags().String("confidence", "", "confidence map output path (wls_conf only)")
	cmd.Flags().String("raw-preview", "", "8-bit raw disparity preview path")
	cmd.Flags().String("filtered-preview", "", "8-bit filtered disparity preview path")
	cmd.Flags().Float64("visualize-scale", 0, "raw preview scale (0 = default 0.3)")
	cmd.Flags().StringP("format", "f", outputFormatText, "report format: text, json, yaml")
	return cmd
}

func (a *app) runMatch(cmd *cobra.Command, args []string) error {
	cfg := *a.cfg
	fs := cmd.Flags()
	applyStereoFlags(fs, &cfg)
	if fs.Changed("output") {
		cfg.Output.Filtered, _ = fs.GetString("output")
	}
	if fs.Changed("raw") {
		cfg.Output.Raw, _ = fs.GetString("raw")
	}
	if fs.Changed("confidence") {
		cfg.Output.Confidence, _ = fs.GetString("confidence")
	}
	if fs.Changed("visualize-scale") {
		cfg.Output.VisualizeScale, _ = fs.GetFloat64("visualize-scale")
	}
	t, err := fileSampleType(fs, &cfg)
	if err != nil {
		return err
	}
	format, _ := fs.GetString("format")

	pl, err := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithObserver(pipeline.LogStageObserver{}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build stereo pipeline: %w", err)
	}

	left, right, err := depthio.LoadPair(args[0], args[1], imgbuf.ReadColor)
	if err != nil {
		return err
	}
	res, err := pl.Run(cmd.Context(), left, right)
	if err != nil {
		return fmt.Errorf("stereo matching failed: %w", err)
	}

	rawPreview, _ := fs.GetString("raw-preview")
	filtPreview, _ := fs.GetString("filtered-preview")
	sink := &depthio.FileSink{
		Paths: map[depthio.Output]string{
			depthio.OutputFiltered:    cfg.Output.Filtered,
			depthio.OutputRaw:         cfg.Output.Raw,
			depthio.OutputConfidence:  cfg.Output.Confidence,
			depthio.OutputFiltPreview: filtPreview,
		},
		SampleType: t,
	}
	// A custom raw preview scale bypasses the sink's default preview.
	if s := cfg.Output.VisualizeScale; s > 0 && rawPreview != "" {
		if err := depthio.Save(rawPreview, depthio.Visualize(res.Raw, s), imgbuf.U8); err != nil {
			return err
		}
	} else {
		sink.Paths[depthio.OutputRawPreview] = rawPreview
	}
	if sink.Wants(depthio.OutputConfidence) && res.Confidence == nil {
		slog.Warn("Confidence output needs --filter wls_conf, skipping", "path", cfg.Output.Confidence)
	}
	if err := res.WriteOutputs(sink); err != nil {
		return err
	}

	report := &depthReport{
		Command:    "match",
		Inputs:     args,
		Width:      res.Filtered.Width,
		Height:     res.Filtered.Height,
		SampleType: t.String(),
		ROI:        []int{res.ROI.Min.X, res.ROI.Min.Y, res.ROI.Dx(), res.ROI.Dy()},
		Stats:      &res.Stats,
		Timings: map[string]float64{
			"matching":   ms(res.Timings.Matching),
			"confidence": ms(res.Timings.Confidence),
			"filtering":  ms(res.Timings.Filtering),
			"total":      ms(res.Timings.Total),
		},
		Settings: pl.Info(),
		Outputs:  writtenOutputs(sink, res),
	}
	if rawPreview != "" && sink.Paths[depthio.OutputRawPreview] == "" {
		report.Outputs = append(report.Outputs, rawPreview)
	}
	return writeReport(cmd.OutOrStdout(), format, report)
}

// writtenOutputs lists the paths the sink received a map for.
func writtenOutputs(sink *depthio.FileSink, res *pipeline.Result) []string {
	present := map[depthio.Output]bool{
		depthio.OutputFiltered:    res.Filtered != nil,
		depthio.OutputRaw:         res.Raw != nil,
		depthio.OutputConfidence:  res.Confidence != nil,
		depthio.OutputRawPreview:  res.Raw != nil,
		depthio.OutputFiltPreview: res.Filtered != nil,
	}
	var paths []string
	for _, out := range []depthio.Output{
		depthio.OutputFiltered, depthio.OutputRaw, depthio.OutputConfidence,
		depthio.OutputRawPreview, depthio.OutputFiltPreview,
	} {
		if sink.Wants(out) && present[out] {
			paths = append(paths, sink.Paths[out])
		}
	}
	return paths
}
