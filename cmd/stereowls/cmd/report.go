package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

// depthReport describes one processed image or pair.
type depthReport struct {
	Command    string             `json:"command" yaml:"command"`
	Inputs     []string           `json:"inputs" yaml:"inputs"`
	Width      int                `json:"width" yaml:"width"`
	Height     int                `json:"height" yaml:"height"`
	SampleType string             `json:"sample_type,omitempty" yaml:"sample_type,omitempty"`
	ROI        []int              `json:"roi,omitempty" yaml:"roi,omitempty,flow"`
	Stats      *pipeline.Stats    `json:"stats,omitempty" yaml:"stats,omitempty"`
	Timings    map[string]float64 `json:"timings_ms,omitempty" yaml:"timings_ms,omitempty"`
	Settings   map[string]any     `json:"settings,omitempty" yaml:"settings,omitempty"`
	Outputs    []string           `json:"outputs" yaml:"outputs"`
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// writeReport renders r in format to w.
func writeReport(w io.Writer, format string, r *depthReport) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case outputFormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case outputFormatText, "":
		_, err := io.WriteString(w, r.text())
		return err
	}
	return fmt.Errorf("unsupported format: %s (must be text, json or yaml)", format)
}

func (r *depthReport) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (%dx%d)\n", r.Command, strings.Join(r.Inputs, ", "), r.Width, r.Height)
	if len(r.ROI) == 4 {
		fmt.Fprintf(&b, "roi: x=%d y=%d w=%d h=%d\n", r.ROI[0], r.ROI[1], r.ROI[2], r.ROI[3])
	}
	if r.Stats != nil {
		fmt.Fprintf(&b, "valid: %.1f%%  median: %.2f px  range: %.2f..%.2f px\n",
			100*r.Stats.ValidRatio, r.Stats.Median, r.Stats.Min, r.Stats.Max)
	}
	if len(r.Timings) > 0 {
		fmt.Fprintf(&b, "time: %.1f ms\n", r.Timings["total"])
	}
	for _, o := range r.Outputs {
		fmt.Fprintf(&b, "wrote %s\n", o)
	}
	return b.String()
}
