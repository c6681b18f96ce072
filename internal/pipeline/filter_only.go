package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/depthfilter"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/wls"
)

// FixedPointScale is the factor that brings a loaded map of type t to the
// x16 working domain: 8-bit and floating point maps hold whole pixels,
// 16 and 32-bit integer maps are taken as already scaled.
func FixedPointScale(t imgbuf.SampleType) (float64, error) {
	switch t {
	case imgbuf.U8, imgbuf.F32, imgbuf.F64:
		return stereo.DisparityScale, nil
	case imgbuf.U16, imgbuf.S16, imgbuf.S32:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %v", errs.ErrUnsupportedSampleFormat, t)
}

// ToFixedPoint reduces a depth map to one channel and converts it to the
// S16 working type.
func ToFixedPoint(depth *imgbuf.Mat) (*imgbuf.Mat, error) {
	s, err := FixedPointScale(depth.Type)
	if err != nil {
		return nil, err
	}
	return depth.Gray().ConvertTo(imgbuf.S16, s, 0), nil
}

// FilterOptions configures the guide-based filter modes.
type FilterOptions struct {
	// WindowSize only sets the discontinuity radius, ceil(0.33*window).
	WindowSize int
	Lambda     float64
	Sigma      float64
	Workers    int
	Observer   StageObserver
	Metrics    *Metrics
}

// DefaultFilterOptions are the settings of the filter-only tool.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{WindowSize: 15, Lambda: 8000, Sigma: 1}
}

// DefaultSelfGuidedOptions are the settings of the depth-only smoother.
func DefaultSelfGuidedOptions() FilterOptions {
	return FilterOptions{WindowSize: 15, Lambda: 20000, Sigma: 0.5}
}

func (o FilterOptions) params() (wls.Params, error) {
	if o.WindowSize < 1 || o.WindowSize%2 == 0 {
		return wls.Params{}, errs.Parameter("window_size", o.WindowSize, "must be a positive odd integer")
	}
	p := wls.DefaultParams()
	p.Lambda = o.Lambda
	p.SigmaColor = o.Sigma
	p.DiscontinuityRadius = wls.RadiusForWindow(o.WindowSize, 0.33)
	p.Workers = o.Workers
	return p, p.Validate()
}

// FilterOnly refines a precomputed disparity or depth map with a guide
// image. The map is brought to the S16 x16 domain with FixedPointScale and
// the whole image is trusted. The result is S16 at x16 scale.
func FilterOnly(ctx context.Context, guide, depth *imgbuf.Mat, opts FilterOptions) (out *imgbuf.Mat, err error) {
	start := time.Now()
	defer func() { opts.Metrics.ObserveFilter("filter_only", time.Since(start), err) }()

	p, err := opts.params()
	if err != nil {
		return nil, err
	}
	if guide.Empty() || depth.Empty() {
		return nil, errs.Parameter("images", "empty", "guide and depth must have positive size")
	}
	if !guide.SameSize(depth) {
		return nil, errs.Parameter("depth", fmt.Sprintf("%dx%d", depth.Width, depth.Height),
			fmt.Sprintf("must match guide size %dx%d", guide.Width, guide.Height))
	}
	fixed, err := ToFixedPoint(depth)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := wls.New(p)
	if err != nil {
		return nil, err
	}
	var d time.Duration
	err = runStage(opts.Observer, opts.Metrics, StageFilter, &d, func() error {
		var err error
		out, err = f.Apply(wls.Input{
			Disparity: fixed,
			Guide:     guide,
			ROI:       image.Rect(0, 0, fixed.Width, fixed.Height),
		})
		return err
	})
	return out, err
}

// SelfGuided smooths a depth map with no external guide: a 3x3 median
// prefilter, a guide made by min-max normalising the depth to 8 bits
// (128 for a flat map), WLS in the x16 domain, and conversion back to the
// input's sample type.
func SelfGuided(ctx context.Context, depth *imgbuf.Mat, opts FilterOptions) (out *imgbuf.Mat, err error) {
	start := time.Now()
	defer func() { opts.Metrics.ObserveFilter("self_guided", time.Since(start), err) }()

	p, err := opts.params()
	if err != nil {
		return nil, err
	}
	if depth.Empty() {
		return nil, errs.Parameter("depth", "empty", "must have positive size")
	}
	if _, err := FixedPointScale(depth.Type); err != nil {
		return nil, err
	}

	work := depth.Gray().ConvertTo(imgbuf.F32, 1, 0)
	var d time.Duration
	err = runStage(opts.Observer, opts.Metrics, StageMedian, &d, func() error {
		work = depthfilter.Median3x3(work, opts.Workers)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	guide := normalizedGuide(work)
	fixed := work.ConvertTo(imgbuf.S16, stereo.DisparityScale, 0)

	f, err := wls.New(p)
	if err != nil {
		return nil, err
	}
	var filtered *imgbuf.Mat
	err = runStage(opts.Observer, opts.Metrics, StageFilter, &d, func() error {
		var err error
		filtered, err = f.Apply(wls.Input{
			Disparity: fixed,
			Guide:     guide,
			ROI:       image.Rect(0, 0, fixed.Width, fixed.Height),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return filtered.ConvertTo(imgbuf.F32, 1.0/stereo.DisparityScale, 0).ConvertTo(depth.Type, 1, 0), nil
}

// normalizedGuide maps m's range onto [0, 255].
func normalizedGuide(m *imgbuf.Mat) *imgbuf.Mat {
	lo, hi := m.MinMax()
	if hi-lo < 1e-6 {
		return imgbuf.NewFilled(m.Width, m.Height, imgbuf.U8, 128)
	}
	s := 255 / (hi - lo)
	return m.ConvertTo(imgbuf.U8, s, -lo*s)
}

// runStage is Pipeline.stage for the stand-alone filter modes.
func runStage(o StageObserver, m *Metrics, s Stage, d *time.Duration, fn func() error) error {
	p := Pipeline{observer: o, metrics: m}
	return p.stage(s, d, fn)
}
