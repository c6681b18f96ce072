package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/batch"
	"github.com/MeKo-Tech/stereowls/internal/confidence"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
)

// DefaultConfig returns the default configuration, matching pipeline.DefaultConfig.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Stereo: StereoConfig{
			Algorithm:      string(pc.Algorithm),
			MinDisparity:   pc.MinDisparity,
			NumDisparities: pc.NumDisparities,
			WindowSize:     0,
			Downscale:      pc.Downscale,
			Workers:        0,
		},
		Filter: FilterConfig{
			Mode:         string(pc.Filter),
			Lambda:       pc.Lambda,
			Sigma:        pc.Sigma,
			LRCThreshold: confidence.DefaultThreshold,
		},
		Output: OutputConfig{
			SampleType: imgbuf.U16.String(),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit:       0,
		},
		Batch: BatchConfig{
			Workers:         2,
			ContinueOnError: false,
			LeftSuffix:      "_l",
			RightSuffix:     "_r",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.ToPipelineConfig().Validate(); err != nil {
		return err
	}
	if c.Stereo.Workers < 0 {
		return fmt.Errorf("invalid stereo workers: %d (must be non-negative)", c.Stereo.Workers)
	}

	if _, err := c.OutputSampleType(); err != nil {
		return err
	}
	if c.Output.VisualizeScale < 0 {
		return fmt.Errorf("invalid visualize scale: %.2f (must be non-negative)", c.Output.VisualizeScale)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d (must be non-negative)", c.Server.RateLimit)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Batch.LeftSuffix == "" || c.Batch.LeftSuffix == c.Batch.RightSuffix {
		return fmt.Errorf("invalid batch suffixes: %q/%q (must be set and distinct)", c.Batch.LeftSuffix, c.Batch.RightSuffix)
	}

	return nil
}

// OutputSampleType parses output.sample_type.
func (c *Config) OutputSampleType() (imgbuf.SampleType, error) {
	return imgbuf.ParseSampleType(c.Output.SampleType)
}

// ToPipelineConfig converts the configuration to a pipeline.Config.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Algorithm:           stereo.Algorithm(strings.ToLower(c.Stereo.Algorithm)),
		MinDisparity:        c.Stereo.MinDisparity,
		NumDisparities:      c.Stereo.NumDisparities,
		WindowSize:          c.Stereo.WindowSize,
		Downscale:           c.Stereo.Downscale,
		Filter:              pipeline.FilterMode(strings.ToLower(c.Filter.Mode)),
		Lambda:              c.Filter.Lambda,
		Sigma:               c.Filter.Sigma,
		LRCThreshold:        c.Filter.LRCThreshold,
		DiscontinuityRadius: c.Filter.DiscontinuityRadius,
		Workers:             c.Stereo.Workers,
	}
}

// ToFilterOptions converts the refinement settings for the filter-only
// modes. The window falls back to the tool default when automatic.
func (c *Config) ToFilterOptions(base pipeline.FilterOptions) pipeline.FilterOptions {
	if c.Stereo.WindowSize > 0 {
		base.WindowSize = c.Stereo.WindowSize
	}
	base.Workers = c.Stereo.Workers
	return base
}

// ToBatchConfig converts the configuration to a batch.Config.
func (c *Config) ToBatchConfig() batch.Config {
	bc := batch.DefaultConfig()
	bc.Pipeline = c.ToPipelineConfig()
	bc.Workers = c.Batch.Workers
	bc.OutputDir = c.Batch.OutputDir
	bc.ContinueOnError = c.Batch.ContinueOnError
	bc.LeftSuffix = c.Batch.LeftSuffix
	bc.RightSuffix = c.Batch.RightSuffix
	if t, err := c.OutputSampleType(); err == nil {
		bc.SampleType = t
	}
	bc.ProgressInterval = 100 * time.Millisecond
	return bc
}
