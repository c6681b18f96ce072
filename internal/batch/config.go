package batch

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Stereo settings
	Pipeline pipeline.Config

	// Pair discovery settings
	LeftSuffix      string
	RightSuffix     string
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Output settings
	OutputDir       string
	SampleType      imgbuf.SampleType
	WriteRaw        bool
	WriteConfidence bool
	WritePreviews   bool

	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		Pipeline:         pipeline.DefaultConfig(),
		LeftSuffix:       "_l",
		RightSuffix:      "_r",
		SampleType:       imgbuf.U16,
		Workers:          2,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks the batch settings and the embedded pipeline config.
func (c *Config) Validate() error {
	if c.LeftSuffix == "" || c.RightSuffix == "" {
		return errs.Parameter("suffix", fmt.Sprintf("%q/%q", c.LeftSuffix, c.RightSuffix), "left and right suffixes must be set")
	}
	if c.LeftSuffix == c.RightSuffix {
		return errs.Parameter("right_suffix", c.RightSuffix, "must differ from left_suffix")
	}
	if c.Workers < 0 {
		return errs.Parameter("workers", c.Workers, "must be non-negative")
	}
	if c.SampleType != imgbuf.U8 && c.SampleType != imgbuf.U16 {
		return fmt.Errorf("%w: image outputs hold u8 or u16, got %s", errs.ErrUnsupportedSampleFormat, c.SampleType)
	}
	return c.Pipeline.Validate()
}
