// Package confidence scores disparity pixels by left-right consistency.
package confidence

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
)

// MaxConfidence is the score of a fully trusted pixel.
const MaxConfidence = 255

// DefaultThreshold is the mismatch, in fixed-point units, still fully
// trusted (1.5 pixels at scale 16).
const DefaultThreshold = 24

// Options configures CrossCheck.
type Options struct {
	// Threshold is the largest |dL + dR| that keeps full confidence. Beyond
	// it the score decays as a Gaussian of the same width.
	Threshold float64
	// Scale is the fixed-point factor shared by both maps.
	Scale float64
	// LeftInvalid and RightInvalid are the unmatched sentinels; values at or
	// below them carry no confidence.
	LeftInvalid  float64
	RightInvalid float64
	Workers      int
}

// OptionsFor derives sentinels and scale from the left matcher parameters.
func OptionsFor(p stereo.Params, threshold float64) Options {
	return Options{
		Threshold:    threshold,
		Scale:        stereo.DisparityScale,
		LeftInvalid:  float64(p.InvalidValue()),
		RightInvalid: float64(stereo.RightParams(p).InvalidValue()),
	}
}

// Score maps an absolute mismatch to a confidence in [0, MaxConfidence]. It
// is non-increasing in mismatch.
func Score(mismatch, threshold float64) float64 {
	if mismatch <= threshold {
		return MaxConfidence
	}
	width := math.Max(threshold, 1)
	e := (mismatch - threshold) / width
	return MaxConfidence * math.Exp(-0.5*e*e)
}

// CrossCheck compares a left-reference map with a right-reference map of the
// same pair. A left disparity dL at (x, y) is looked up in the right map at
// (x - dL, y); a consistent right map holds -dL there. Pixels whose match
// falls outside the frame, or that are unmatched in either map, score 0.
// The result is a U8 map.
func CrossCheck(left, right *imgbuf.Mat, opts Options) (*imgbuf.Mat, error) {
	if left.Empty() || right.Empty() {
		return nil, errs.Parameter("disparity", "empty", "both maps must have positive size")
	}
	if !left.SameSize(right) || left.Channels != 1 || right.Channels != 1 {
		return nil, errs.Parameter("disparity",
			fmt.Sprintf("%dx%dx%d vs %dx%dx%d", left.Width, left.Height, left.Channels,
				right.Width, right.Height, right.Channels),
			"maps must be single-channel and the same size")
	}
	if opts.Scale <= 0 {
		return nil, errs.Parameter("scale", opts.Scale, "must be positive")
	}
	if opts.Threshold < 0 {
		return nil, errs.Parameter("lrc_threshold", opts.Threshold, "must be non-negative")
	}

	w, h := left.Width, left.Height
	out := imgbuf.New(w, h, 1, imgbuf.U8)
	parallel.For(h, opts.Workers, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				out.Data[y*w+x] = math.RoundToEven(score(left, right, x, y, opts))
			}
		}
	})
	return out, nil
}

func score(left, right *imgbuf.Mat, x, y int, opts Options) float64 {
	dl := left.Data[y*left.Width+x]
	if math.IsNaN(dl) || dl <= opts.LeftInvalid {
		return 0
	}
	xr := x - int(math.Round(dl/opts.Scale))
	if xr < 0 || xr >= right.Width {
		return 0
	}
	dr := right.Data[y*right.Width+xr]
	if math.IsNaN(dr) || dr <= opts.RightInvalid {
		return 0
	}
	return Score(math.Abs(dl+dr), opts.Threshold)
}
