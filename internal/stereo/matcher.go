package stereo

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
)

// Matcher is the capability shared by both strategies.
type Matcher interface {
	Algorithm() Algorithm
	Params() Params
	// Compute returns an S16 disparity map of ref against target, scaled by
	// DisparityScale. Inputs must be single-channel and the same size.
	Compute(ref, target *imgbuf.Mat) (*imgbuf.Mat, error)
}

// NewMatcher builds the strategy named by algo after validating p.
func NewMatcher(algo Algorithm, p Params, workers int) (Matcher, error) {
	switch algo {
	case AlgorithmBM:
		return NewBlockMatcher(p, workers)
	case AlgorithmSGBM:
		return NewSemiGlobalMatcher(p, workers)
	}
	return nil, errs.Algorithm("algorithm", string(algo), string(AlgorithmBM), string(AlgorithmSGBM))
}

// NewRightMatcher returns a matcher of the same strategy configured with
// RightParams, for use with the right image as reference.
func NewRightMatcher(left Matcher, workers int) (Matcher, error) {
	return NewMatcher(left.Algorithm(), RightParams(left.Params()), workers)
}

// Match runs one matching pass. With side Left, ref is the left image and
// disparities are positive; with side Right, ref is the right image, the
// mirrored range is searched and consistent disparities come out negated.
func Match(ref, target *imgbuf.Mat, algo Algorithm, p Params, side Side) (*imgbuf.Mat, error) {
	if side == Right {
		p = RightParams(p)
	}
	m, err := NewMatcher(algo, p, 0)
	if err != nil {
		return nil, err
	}
	return m.Compute(ref, target)
}

// checkPair enforces same-size single-channel inputs.
func checkPair(ref, target *imgbuf.Mat) error {
	if ref.Empty() || target.Empty() {
		return errs.Parameter("images", "empty", "both views must have positive size")
	}
	if !ref.SameSize(target) {
		return errs.Parameter("images",
			fmt.Sprintf("%dx%d vs %dx%d", ref.Width, ref.Height, target.Width, target.Height),
			"views must have the same size")
	}
	if ref.Channels != 1 || target.Channels != 1 {
		return errs.Parameter("channels", [2]int{ref.Channels, target.Channels},
			"views must be single-channel")
	}
	return nil
}

func emptyROI(size image.Point, p Params) error {
	return errs.Parameter("roi",
		fmt.Sprintf("size=%dx%d min_disparity=%d num_disparities=%d block_size=%d",
			size.X, size.Y, p.MinDisparity, p.NumDisparities, p.BlockSize),
		"no pixel can be matched")
}

// rows runs fn for every y in [0, n) on the worker pool.
func rows(n, workers int, fn func(y int)) {
	parallel.For(n, workers, func(start, end int) {
		for y := start; y < end; y++ {
			fn(y)
		}
	})
}

// subpixel returns the vertex offset of the parabola through the costs at
// d-1, d and d+1, rounded half away from zero to 1/DisparityScale pixel.
func subpixel(cm, c0, cp int) int {
	den := max(cm+cp-2*c0, 1)
	n := (cm - cp) * DisparityScale
	if n < 0 {
		return -((-n + den) / (den * 2))
	}
	return (n + den) / (den * 2)
}
