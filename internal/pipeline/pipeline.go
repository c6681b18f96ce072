// Package pipeline wires stereo matching, left-right confidence and WLS
// refinement into the depth tools' processing modes.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/stereowls/internal/confidence"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/wls"
)

// Timings records how long each part of a run took.
type Timings struct {
	Matching   time.Duration `json:"matching_ns"`
	Confidence time.Duration `json:"confidence_ns"`
	Filtering  time.Duration `json:"filtering_ns"`
	Total      time.Duration `json:"total_ns"`
}

// Result is the output of a stereo run. Maps are full resolution.
type Result struct {
	// Filtered is the refined S16 disparity (x16); with FilterNone it is
	// the raw map.
	Filtered *imgbuf.Mat
	// Raw is the unrefined left disparity.
	Raw *imgbuf.Mat
	// Confidence is set in FilterWLSConf mode only.
	Confidence *imgbuf.Mat
	// ROI is the geometrically valid region of Raw.
	ROI image.Rectangle
	// Invalid is the sentinel marking unmatched pixels of Raw.
	Invalid float64
	Params  stereo.Params
	Stats   Stats
	Timings Timings
}

// Pipeline runs one configuration over any number of pairs. It is safe for
// concurrent use.
type Pipeline struct {
	cfg      Config
	left     stereo.Matcher
	right    stereo.Matcher
	filter   *wls.Filter
	observer StageObserver
	metrics  *Metrics
}

// New validates cfg and builds the matchers and the filter.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	var err error
	if p.left, err = stereo.NewMatcher(cfg.Algorithm, cfg.MatcherParams(), cfg.Workers); err != nil {
		return nil, fmt.Errorf("init left matcher: %w", err)
	}
	if cfg.Filter == FilterWLSConf {
		if p.right, err = stereo.NewRightMatcher(p.left, cfg.Workers); err != nil {
			return nil, fmt.Errorf("init right matcher: %w", err)
		}
	}
	if cfg.Filter != FilterNone {
		if p.filter, err = wls.New(cfg.FilterParams()); err != nil {
			return nil, fmt.Errorf("init filter: %w", err)
		}
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info summarises the resolved settings.
func (p *Pipeline) Info() map[string]any {
	mp := p.left.Params()
	info := map[string]any{
		"algorithm":       string(p.cfg.Algorithm),
		"filter":          string(p.cfg.Filter),
		"min_disparity":   mp.MinDisparity,
		"num_disparities": mp.NumDisparities,
		"window_size":     mp.BlockSize,
		"downscale":       p.cfg.Downscale,
	}
	if p.filter != nil {
		fp := p.filter.Params()
		info["lambda"] = fp.Lambda
		info["sigma"] = fp.SigmaColor
		info["discontinuity_radius"] = fp.DiscontinuityRadius
	}
	return info
}

// Run estimates and refines the disparity of a rectified 8-bit pair. The
// left view, in colour or gray, is the guide. ctx is checked between
// stages.
func (p *Pipeline) Run(ctx context.Context, left, right *imgbuf.Mat) (res *Result, err error) {
	start := time.Now()
	defer func() { p.metrics.observeRun(modeLabel(p.cfg), time.Since(start), res, err) }()

	if err := checkViews(left, right); err != nil {
		return nil, err
	}
	size := image.Pt(left.Width, left.Height)
	if err := p.cfg.ValidateFor(size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm, rm := left.Gray(), right.Gray()
	if p.cfg.Downscaled() {
		ms := p.cfg.matchSize(size)
		if lm, err = downscale(lm, ms); err != nil {
			return nil, err
		}
		if rm, err = downscale(rm, ms); err != nil {
			return nil, err
		}
	}

	res = &Result{Params: p.left.Params()}
	res.Invalid = float64(res.Params.InvalidValue())

	var rightRaw *imgbuf.Mat
	err = p.stage(StageMatch, &res.Timings.Matching, func() error {
		var err error
		res.Raw, rightRaw, err = p.match(lm, rm)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.right != nil {
		err = p.stage(StageConfidence, &res.Timings.Confidence, func() error {
			opts := confidence.OptionsFor(res.Params, p.cfg.LRCThreshold)
			opts.Workers = p.cfg.Workers
			var err error
			res.Confidence, err = confidence.CrossCheck(res.Raw, rightRaw, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	res.ROI, err = stereo.ComputeROI(image.Pt(lm.Width, lm.Height),
		res.Params.MinDisparity, res.Params.NumDisparities, res.Params.BlockSize)
	if err != nil {
		return nil, err
	}
	if p.cfg.Downscaled() {
		if err := res.upscale(size, p.cfg.Downscale); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.filter == nil {
		res.Filtered = res.Raw
	} else {
		err = p.stage(StageFilter, &res.Timings.Filtering, func() error {
			var err error
			res.Filtered, err = p.filter.Apply(wls.Input{
				Disparity:  res.Raw,
				Guide:      left,
				Confidence: res.Confidence,
				ROI:        res.ROI,
				Unmatched:  wls.AtOrBelow(res.Invalid),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	res.Stats = ComputeStats(res.Filtered, res.ROI, stereo.DisparityScale, wls.AtOrBelow(res.Invalid))
	res.Timings.Total = time.Since(start)
	slog.Debug("Stereo run finished",
		"algorithm", string(p.cfg.Algorithm),
		"filter", string(p.cfg.Filter),
		"size", fmt.Sprintf("%dx%d", size.X, size.Y),
		"matching", res.Timings.Matching,
		"filtering", res.Timings.Filtering,
		"valid_ratio", res.Stats.ValidRatio)
	return res, nil
}

// match runs the left matcher and, in confidence mode, the right matcher
// concurrently. Both finish before either result is used.
func (p *Pipeline) match(l, r *imgbuf.Mat) (leftRaw, rightRaw *imgbuf.Mat, err error) {
	if p.right == nil {
		leftRaw, err = p.left.Compute(l, r)
		return leftRaw, nil, err
	}
	var (
		wg      sync.WaitGroup
		rightEr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rightRaw, rightEr = p.right.Compute(r, l)
	}()
	leftRaw, err = p.left.Compute(l, r)
	wg.Wait()
	if err != nil {
		return nil, nil, fmt.Errorf("left matching: %w", err)
	}
	if rightEr != nil {
		return nil, nil, fmt.Errorf("right matching: %w", rightEr)
	}
	return leftRaw, rightRaw, nil
}

// stage times fn and reports it to the observer and the metrics.
func (p *Pipeline) stage(s Stage, d *time.Duration, fn func() error) error {
	if p.observer != nil {
		p.observer.StageStarted(s)
	}
	t := time.Now()
	err := fn()
	*d = time.Since(t)
	if p.observer != nil {
		p.observer.StageFinished(s, *d, err)
	}
	p.metrics.observeStage(s, *d)
	return err
}

// upscale brings the low resolution maps back to size: disparities are
// interpolated and multiplied by 1/factor, the confidence interpolated and
// the ROI scaled.
func (r *Result) upscale(size image.Point, factor float64) error {
	inv := 1 / factor
	up, err := imgbuf.Resize(r.Raw, size.X, size.Y)
	if err != nil {
		return err
	}
	r.Raw = up.ConvertTo(imgbuf.S16, inv, 0)
	r.Invalid = imgbuf.S16.Saturate(r.Invalid * inv)
	if r.Confidence != nil {
		if r.Confidence, err = imgbuf.Resize(r.Confidence, size.X, size.Y); err != nil {
			return err
		}
	}
	r.ROI = scaleRect(r.ROI, inv).Intersect(image.Rect(0, 0, size.X, size.Y))
	return nil
}

func scaleRect(r image.Rectangle, s float64) image.Rectangle {
	f := func(v int) int { return int(float64(v)*s + 0.5) }
	return image.Rect(f(r.Min.X), f(r.Min.Y), f(r.Max.X), f(r.Max.Y))
}

// downscale shrinks an 8-bit gray view with imaging's bilinear filter.
func downscale(m *imgbuf.Mat, size image.Point) (*imgbuf.Mat, error) {
	img, err := imgbuf.ToImage(m)
	if err != nil {
		return nil, err
	}
	return imgbuf.FromImage(imaging.Resize(img, size.X, size.Y, imaging.Linear), imgbuf.ReadGray)
}

// checkViews requires a same-size 8-bit pair.
func checkViews(left, right *imgbuf.Mat) error {
	if left.Empty() || right.Empty() {
		return errs.Parameter("images", "empty", "both views must have positive size")
	}
	if !left.SameSize(right) {
		return errs.Parameter("right_image", fmt.Sprintf("%dx%d", right.Width, right.Height),
			fmt.Sprintf("must match left image size %dx%d", left.Width, left.Height))
	}
	if left.Type != imgbuf.U8 || right.Type != imgbuf.U8 {
		return fmt.Errorf("%w: stereo views must be 8-bit, got %s and %s",
			errs.ErrUnsupportedSampleFormat, left.Type, right.Type)
	}
	return nil
}
