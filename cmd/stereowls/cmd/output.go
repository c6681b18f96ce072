package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// addOutputFlags registers the flags of the single-image commands.
func addOutputFlags(fs *pflag.FlagSet) {
	fs.StringP("output", "o", "", "output image path (required)")
	fs.String("preview", "", "8-bit preview output path")
	fs.StringP("format", "f", outputFormatText, "report format: text, json, yaml")
	_ = cobra.MarkFlagRequired(fs, "output")
}

func outputFlags(fs *pflag.FlagSet) (out, preview, format string) {
	out, _ = fs.GetString("output")
	preview, _ = fs.GetString("preview")
	format, _ = fs.GetString("format")
	return out, preview, format
}

// depthJob is the product of a single-image command.
type depthJob struct {
	command    string
	inputs     []string
	out        *imgbuf.Mat
	sampleType imgbuf.SampleType
	// statsScale divides stored values into pixels; 0 skips statistics.
	statsScale float64
	settings   map[string]any
	path       string
	preview    string
	format     string
	elapsed    time.Duration
}

// finishDepth writes the job's image and preview and prints its report.
func finishDepth(cmd *cobra.Command, j depthJob) error {
	if err := depthio.Save(j.path, j.out, j.sampleType); err != nil {
		return err
	}
	outputs := []string{j.path}
	if j.preview != "" {
		if err := depthio.Save(j.preview, depthio.Visualize(j.out, depthio.FilteredPreviewScale), imgbuf.U8); err != nil {
			return err
		}
		outputs = append(outputs, j.preview)
	}

	report := &depthReport{
		Command:    j.command,
		Inputs:     j.inputs,
		Width:      j.out.Width,
		Height:     j.out.Height,
		SampleType: j.sampleType.String(),
		Timings:    map[string]float64{"total": ms(j.elapsed)},
		Settings:   j.settings,
		Outputs:    outputs,
	}
	if j.statsScale > 0 {
		stats := pipeline.ComputeStats(j.out, j.out.Bounds(), j.statsScale, nil)
		report.Stats = &stats
	}
	return writeReport(cmd.OutOrStdout(), j.format, report)
}
