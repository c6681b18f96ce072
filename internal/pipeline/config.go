package pipeline

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/MeKo-Tech/stereowls/internal/confidence"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/wls"
)

// FilterMode selects the refinement applied to the raw disparity.
type FilterMode string

const (
	// FilterWLSConf matches both views and feeds the left-right confidence
	// to the WLS filter.
	FilterWLSConf FilterMode = "wls_conf"
	// FilterWLSNoConf matches the left view only and trusts the ROI.
	FilterWLSNoConf FilterMode = "wls_no_conf"
	// FilterNone returns the raw disparity.
	FilterNone FilterMode = "none"
)

// ParseFilterMode resolves a user supplied filter name.
func ParseFilterMode(name string) (FilterMode, error) {
	switch m := FilterMode(strings.ToLower(strings.TrimSpace(name))); m {
	case FilterWLSConf, FilterWLSNoConf, FilterNone:
		return m, nil
	}
	return "", errs.Algorithm("filter", name, string(FilterWLSConf), string(FilterWLSNoConf), string(FilterNone))
}

// Config holds the stereo depth settings.
type Config struct {
	Algorithm      stereo.Algorithm
	MinDisparity   int
	NumDisparities int
	// WindowSize is the matcher block size; 0 picks it from the algorithm
	// and filter mode.
	WindowSize int
	// Downscale in (0, 1] shrinks the pair before matching.
	Downscale float64

	Filter       FilterMode
	Lambda       float64
	Sigma        float64
	LRCThreshold float64
	// DiscontinuityRadius of 0 derives it from the window size.
	DiscontinuityRadius int

	Workers int
}

// DefaultConfig returns the defaults of the command line tool.
func DefaultConfig() Config {
	return Config{
		Algorithm:      stereo.AlgorithmBM,
		NumDisparities: 48,
		Downscale:      1,
		Filter:         FilterWLSNoConf,
		Lambda:         8000,
		Sigma:          1,
		LRCThreshold:   confidence.DefaultThreshold,
	}
}

// Downscaled reports whether matching runs on a reduced pair.
func (c Config) Downscaled() bool { return c.Downscale > 0 && c.Downscale < 1 }

// Window resolves the matcher block size: 3 for sgbm, 7 for bm with
// confidence on a downscaled pair, 15 otherwise.
func (c Config) Window() int {
	switch {
	case c.WindowSize > 0:
		return c.WindowSize
	case c.Algorithm == stereo.AlgorithmSGBM:
		return 3
	case c.Filter == FilterWLSConf && c.Downscaled():
		return 7
	}
	return 15
}

// Radius resolves the discontinuity radius: ceil(0.33*window) for bm and
// ceil(0.5*window) for sgbm.
func (c Config) Radius() int {
	if c.DiscontinuityRadius > 0 {
		return c.DiscontinuityRadius
	}
	if c.Algorithm == stereo.AlgorithmSGBM {
		return wls.RadiusForWindow(c.Window(), 0.5)
	}
	return wls.RadiusForWindow(c.Window(), 0.33)
}

// matchRange is the disparity range searched at matching resolution: on a
// downscaled pair the count shrinks with the factor and is rounded up to a
// multiple of 16.
func (c Config) matchRange() (minD, num int) {
	if !c.Downscaled() {
		return c.MinDisparity, c.NumDisparities
	}
	num = int(float64(c.NumDisparities) * c.Downscale)
	if num%16 != 0 {
		num += 16 - num%16
	}
	num = max(num, 16)
	return int(math.Round(float64(c.MinDisparity) * c.Downscale)), num
}

// MatcherParams builds the left matcher parameters for the configured
// algorithm and filter mode.
func (c Config) MatcherParams() stereo.Params {
	minD, num := c.matchRange()
	win := c.Window()
	confMode := c.Filter == FilterWLSConf

	switch {
	case c.Algorithm == stereo.AlgorithmSGBM && confMode:
		p := stereo.DefaultSGBMParams(minD, num, win)
		p.P1 = 24 * win * win
		p.P2 = 96 * win * win
		p.PreFilterCap = 63
		p.Mode = stereo.Mode3Way
		return p
	case c.Algorithm == stereo.AlgorithmSGBM:
		p := stereo.DefaultSGBMParams(minD, num, win)
		p.P1, p.P2 = 0, 0
		p.Disp12MaxDiff = 1
		p.PreFilterCap = 31
		p.UniquenessRatio = 15
		p.SpeckleWindowSize = 100
		p.SpeckleRange = 2
		return p
	case confMode:
		p := stereo.DefaultBMParams(num, win)
		p.MinDisparity = minD
		return p
	default:
		p := stereo.DefaultBMParams(num, win)
		p.MinDisparity = minD
		p.PreFilterType = stereo.PreFilterNormalizedResponse
		p.SpeckleWindowSize = 100
		p.SpeckleRange = 2
		return p
	}
}

// FilterParams builds the WLS settings.
func (c Config) FilterParams() wls.Params {
	p := wls.DefaultParams()
	p.Lambda = c.Lambda
	p.SigmaColor = c.Sigma
	p.DiscontinuityRadius = c.Radius()
	p.Workers = c.Workers
	return p
}

// Validate checks every setting that does not depend on the image size.
func (c Config) Validate() error {
	if _, err := stereo.ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if _, err := ParseFilterMode(string(c.Filter)); err != nil {
		return err
	}
	if c.NumDisparities <= 0 || c.NumDisparities%16 != 0 {
		return errs.Parameter("num_disparities", c.NumDisparities, "must be a positive multiple of 16")
	}
	if c.WindowSize < 0 || (c.WindowSize > 0 && c.WindowSize%2 == 0) {
		return errs.Parameter("window_size", c.WindowSize, "must be a positive odd integer, or 0 for automatic")
	}
	if !(c.Downscale > 0 && c.Downscale <= 1) {
		return errs.Parameter("downscale", c.Downscale, "must be in (0, 1]")
	}
	if c.DiscontinuityRadius < 0 {
		return errs.Parameter("discontinuity_radius", c.DiscontinuityRadius, "must be non-negative")
	}
	if c.LRCThreshold < 0 {
		return errs.Parameter("lrc_threshold", c.LRCThreshold, "must be non-negative")
	}
	if err := c.MatcherParams().Validate(c.Algorithm); err != nil {
		return err
	}
	if c.Filter != FilterNone {
		if err := c.FilterParams().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFor adds the size dependent checks for a pair of the given size:
// the downscaled pair must not vanish and the ROI must not be degenerate.
func (c Config) ValidateFor(size image.Point) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ms := c.matchSize(size)
	if ms.X < 1 || ms.Y < 1 {
		return errs.Parameter("downscale", c.Downscale, fmt.Sprintf("reduces %dx%d to nothing", size.X, size.Y))
	}
	p := c.MatcherParams()
	if _, err := stereo.ComputeROI(ms, p.MinDisparity, p.NumDisparities, p.BlockSize); err != nil {
		return err
	}
	return nil
}

// matchSize is the pair size the matcher sees.
func (c Config) matchSize(size image.Point) image.Point {
	if !c.Downscaled() {
		return size
	}
	return image.Pt(
		int(math.Round(float64(size.X)*c.Downscale)),
		int(math.Round(float64(size.Y)*c.Downscale)),
	)
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	observer StageObserver
	metrics  *Metrics
}

// NewBuilder creates a builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(c Config) *Builder {
	b.cfg = c
	return b
}

// WithAlgorithm sets the matcher strategy.
func (b *Builder) WithAlgorithm(a stereo.Algorithm) *Builder {
	b.cfg.Algorithm = a
	return b
}

// WithDisparityRange sets the searched range.
func (b *Builder) WithDisparityRange(minD, num int) *Builder {
	b.cfg.MinDisparity = minD
	b.cfg.NumDisparities = num
	return b
}

// WithWindowSize sets the block size; 0 restores the automatic choice.
func (b *Builder) WithWindowSize(w int) *Builder {
	b.cfg.WindowSize = w
	return b
}

// WithDownscale sets the matching scale factor.
func (b *Builder) WithDownscale(f float64) *Builder {
	b.cfg.Downscale = f
	return b
}

// WithFilter sets the refinement mode.
func (b *Builder) WithFilter(m FilterMode) *Builder {
	b.cfg.Filter = m
	return b
}

// WithSmoothing sets lambda and sigma.
func (b *Builder) WithSmoothing(lambda, sigma float64) *Builder {
	b.cfg.Lambda = lambda
	b.cfg.Sigma = sigma
	return b
}

// WithWorkers sets the worker count of the per-row kernels.
func (b *Builder) WithWorkers(n int) *Builder {
	if n >= 0 {
		b.cfg.Workers = n
	}
	return b
}

// WithObserver receives stage events.
func (b *Builder) WithObserver(o StageObserver) *Builder {
	b.observer = o
	return b
}

// WithMetrics records stage timings into m.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	p, err := New(b.cfg)
	if err != nil {
		return nil, err
	}
	p.observer = b.observer
	p.metrics = b.metrics
	return p, nil
}
