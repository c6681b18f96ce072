package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// PairSummary is the report entry of one pair.
type PairSummary struct {
	Pair       `yaml:",inline"`
	Outputs    []string        `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Stats      *pipeline.Stats `json:"stats,omitempty" yaml:"stats,omitempty"`
	MatchingMs float64         `json:"matching_ms" yaml:"matching_ms"`
	FilterMs   float64         `json:"filtering_ms" yaml:"filtering_ms"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result holds the result of batch processing.
type Result struct {
	Pairs       []PairSummary
	Unpaired    []string
	Duration    time.Duration
	WorkerCount int
	Settings    map[string]any

	outcomes []pipeline.PairOutcome
}

// Failed counts the pairs that did not produce outputs.
func (r *Result) Failed() int {
	n := 0
	for _, p := range r.Pairs {
		if p.Error != "" {
			n++
		}
	}
	return n
}

func summarize(p Pair, o pipeline.PairOutcome, written []string) PairSummary {
	s := PairSummary{Pair: p, Outputs: written}
	if o.Err != nil {
		s.Error = o.Err.Error()
		return s
	}
	if o.Result != nil {
		stats := o.Result.Stats
		s.Stats = &stats
		s.MatchingMs = ms(o.Result.Timings.Matching)
		s.FilterMs = ms(o.Result.Timings.Filtering)
	}
	return s
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

type report struct {
	Pairs      []PairSummary  `json:"pairs" yaml:"pairs"`
	Unpaired   []string       `json:"unpaired,omitempty" yaml:"unpaired,omitempty"`
	Settings   map[string]any `json:"settings" yaml:"settings"`
	Total      int            `json:"total" yaml:"total"`
	Failed     int            `json:"failed" yaml:"failed"`
	Workers    int            `json:"workers" yaml:"workers"`
	DurationMs float64        `json:"duration_ms" yaml:"duration_ms"`
}

func (r *Result) report() report {
	return report{
		Pairs:      r.Pairs,
		Unpaired:   r.Unpaired,
		Settings:   r.Settings,
		Total:      len(r.Pairs),
		Failed:     r.Failed(),
		Workers:    r.WorkerCount,
		DurationMs: ms(r.Duration),
	}
}

// FormatResults renders the batch report as yaml, json or text.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case "json":
		bts, err := json.MarshalIndent(r.report(), "", "  ")
		return string(bts), err
	case "yaml", "yml":
		bts, err := yaml.Marshal(r.report())
		return string(bts), err
	default: // text
		return r.formatText(), nil
	}
}

func (r *Result) formatText() string {
	var b strings.Builder
	for i, p := range r.Pairs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s\n", p.Name)
		if p.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", p.Error)
			continue
		}
		if p.Stats != nil {
			fmt.Fprintf(&b, "valid: %.1f%%  median: %.2f px  range: %.2f..%.2f px\n",
				100*p.Stats.ValidRatio, p.Stats.Median, p.Stats.Min, p.Stats.Max)
		}
		for _, o := range p.Outputs {
			fmt.Fprintf(&b, "wrote %s\n", o)
		}
	}
	return b.String()
}

// SaveResults writes the formatted report to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(w, output)
	}

	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer, quiet bool) {
	if quiet {
		return
	}
	stats := pipeline.CalculateParallelStats(r.outcomes, r.Duration, r.WorkerCount)
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total pairs: %d\n", len(r.Pairs))
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", stats.ProcessedPairs)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", stats.FailedPairs)
	_, _ = fmt.Fprintf(w, "  Unpaired: %d\n", len(r.Unpaired))
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", stats.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per pair: %v\n", stats.AveragePerPair.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f pairs/sec\n", stats.ThroughputPerSec)
}
