// Package wls implements the edge-aware weighted-least-squares disparity
// filter.
//
// Given a raw disparity map D0, a guide image G and a per-pixel trust c, the
// filter approximates the minimiser of
//
//	E(D) = sum_p c(p) (D(p) - D0(p))^2 + lambda sum_{p~q} w(p,q) (D(p) - D(q))^2
//
// with w(p,q) = exp(-|G(p) - G(q)| / sigma). The solve is separable: a few
// alternating passes of exact tridiagonal solves along rows and columns with
// a decreasing lambda schedule. The trust-weighted result is normalised by
// the filtered trust, so pixels with no trust take their value from
// neighbours along low-gradient paths of the guide.
package wls

import (
	"image"
	"math"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// Params controls the filter.
type Params struct {
	// Lambda is the smoothness strength.
	Lambda float64
	// SigmaColor is the edge sensitivity in guide intensity units.
	SigmaColor float64
	// DiscontinuityRadius is the distance, in pixels, around a raw
	// disparity jump within which trust is halved. Zero disables it.
	DiscontinuityRadius int
	// DiscontinuityJump is the smallest difference between 4-neighbours of
	// the raw map, in raw units, that counts as a jump.
	DiscontinuityJump float64
	// Iterations is the number of row/column pass pairs.
	Iterations int
	Workers    int
}

// DefaultParams returns the settings used for stereo refinement at 16x
// fixed-point scale.
func DefaultParams() Params {
	return Params{
		Lambda:            8000,
		SigmaColor:        1.0,
		DiscontinuityJump: 16,
		Iterations:        3,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if !(p.Lambda > 0) || math.IsInf(p.Lambda, 0) {
		return errs.Parameter("lambda", p.Lambda, "must be a positive finite number")
	}
	if !(p.SigmaColor > 0) || math.IsInf(p.SigmaColor, 0) {
		return errs.Parameter("sigma", p.SigmaColor, "must be a positive finite number")
	}
	if p.DiscontinuityRadius < 0 {
		return errs.Parameter("discontinuity_radius", p.DiscontinuityRadius, "must be non-negative")
	}
	if p.DiscontinuityRadius > 0 && !(p.DiscontinuityJump > 0) {
		return errs.Parameter("discontinuity_jump", p.DiscontinuityJump, "must be positive")
	}
	if p.Iterations < 1 {
		return errs.Parameter("iterations", p.Iterations, "must be at least 1")
	}
	return nil
}

// RadiusForWindow derives the discontinuity radius from the matcher window
// as ceil(fraction * window).
func RadiusForWindow(window int, fraction float64) int {
	return int(math.Ceil(fraction * float64(window)))
}

// Input bundles the maps consumed by Filter.
type Input struct {
	// Disparity is the raw single-channel map. Its type and scale are kept.
	Disparity *imgbuf.Mat
	// Guide has the same size; only its first three channels are used.
	Guide *imgbuf.Mat
	// Confidence is an optional single-channel map in [0, 255].
	Confidence *imgbuf.Mat
	// ROI is the trusted region when Confidence is nil; the zero rectangle
	// means the whole map.
	ROI image.Rectangle
	// Unmatched reports raw values that hold no measurement. Nil treats
	// every finite value as measured.
	Unmatched func(v float64) bool
}

// AtOrBelow returns an Unmatched predicate for a sentinel placed below the
// valid range.
func AtOrBelow(sentinel float64) func(float64) bool {
	return func(v float64) bool { return v <= sentinel }
}
