package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/stereowls/internal/batch"
	"github.com/MeKo-Tech/stereowls/internal/config"
)

func (a *app) newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [files or directories...]",
		Short: "Process many stereo pairs in parallel",
		Long: `Find stereo pairs named <name>_l.<ext> and <name>_r.<ext> in the given files
and directories and process them in parallel. Each pair writes
<name>_filtered.png and, on request, raw, confidence and preview images.

Supported formats: JPEG, PNG, BMP, TIFF

Examples:
  stereowls batch pairs/
  stereowls batch pairs/ --recursive --workers 8 --output-dir out/
  stereowls batch pairs/ --format json --output report.json --raw --previews`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runBatch,
	}

	addStereoFlags(cmd.Flags())
	addSampleTypeFlag(cmd.Flags())
	d := config.DefaultConfig()

	// Output flags
	cmd.Flags().String("output-dir", d.Batch.OutputDir, "directory for pair outputs (default: next to the left view)")
	cmd.Flags().Bool("raw", false, "also write raw disparity")
	cmd.Flags().Bool("confidence", false, "also write confidence maps (wls_conf only)")
	cmd.Flags().Bool("previews", false, "also write 8-bit previews")
	cmd.Flags().StringP("format", "f", outputFormatText, "report format: text, json, yaml")
	cmd.Flags().StringP("output", "o", "", "report file (default: stdout)")

	// Pair discovery flags
	cmd.Flags().String("left-suffix", d.Batch.LeftSuffix, "file name suffix of left views")
	cmd.Flags().String("right-suffix", d.Batch.RightSuffix, "file name suffix of right views")
	cmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	cmd.Flags().StringSlice("include", []string{}, "file patterns to include")
	cmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Parallel processing flags
	cmd.Flags().IntP("workers", "w", d.Batch.Workers,
		fmt.Sprintf("number of pairs processed at once (0 = %d)", runtime.NumCPU()))
	cmd.Flags().Bool("continue-on-error", d.Batch.ContinueOnError, "keep going when a pair fails")

	// Progress flags
	cmd.Flags().Bool("progress", false, "show progress bar")
	cmd.Flags().Bool("quiet", false, "suppress progress output")
	cmd.Flags().Bool("stats", false, "show processing statistics")
	cmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")
	return cmd
}

// batchConfig maps the configuration and the changed flags to a
// batch.Config.
func (a *app) batchConfig(cmd *cobra.Command) (*batch.Config, error) {
	cfg := *a.cfg
	fs := cmd.Flags()
	applyStereoFlags(fs, &cfg)
	if fs.Changed("output-dir") {
		cfg.Batch.OutputDir, _ = fs.GetString("output-dir")
	}
	if fs.Changed("left-suffix") {
		cfg.Batch.LeftSuffix, _ = fs.GetString("left-suffix")
	}
	if fs.Changed("right-suffix") {
		cfg.Batch.RightSuffix, _ = fs.GetString("right-suffix")
	}
	if fs.Changed("workers") {
		cfg.Batch.Workers, _ = fs.GetInt("workers")
	}
	if fs.Changed("continue-on-error") {
		cfg.Batch.ContinueOnError, _ = fs.GetBool("continue-on-error")
	}

	bc := cfg.ToBatchConfig()
	t, err := fileSampleType(fs, &cfg)
	if err != nil {
		return nil, err
	}
	bc.SampleType = t
	bc.WriteRaw, _ = fs.GetBool("raw")
	bc.WriteConfidence, _ = fs.GetBool("confidence")
	bc.WritePreviews, _ = fs.GetBool("previews")

	// File discovery and progress settings are CLI-only
	bc.Recursive, _ = fs.GetBool("recursive")
	bc.IncludePatterns, _ = fs.GetStringSlice("include")
	bc.ExcludePatterns, _ = fs.GetStringSlice("exclude")
	bc.ShowProgress, _ = fs.GetBool("progress")
	bc.Quiet, _ = fs.GetBool("quiet")
	bc.ProgressInterval, _ = fs.GetDuration("progress-interval")
	return &bc, nil
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	bc, err := a.batchConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	outputFile, _ := cmd.Flags().GetString("output")
	showStats, _ := cmd.Flags().GetBool("stats")
	out := cmd.OutOrStdout()

	result, err := batch.ProcessBatch(cmd.Context(), args, bc)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	if err := result.SaveResults(out, format, outputFile, bc.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if showStats {
		result.PrintStats(out, bc.Quiet)
	}

	if failed := result.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d pairs failed", failed, len(result.Pairs))
	}
	return nil
}
