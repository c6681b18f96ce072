// Package stereo computes raw disparity maps from rectified stereo pairs.
//
// Two matcher strategies share one contract: BlockMatcher (fixed-block SAD
// correlation) and SemiGlobalMatcher (pixel cost aggregated along several
// scan directions). Disparities are returned as S16 fixed-point values
// scaled by DisparityScale; pixels without a reliable match carry
// Params.InvalidValue.
package stereo

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/stereowls/internal/errs"
)

// DisparityScale is the fixed-point factor of every disparity map produced
// by this package (4 fractional bits).
const DisparityScale = 16

// Algorithm selects a matcher strategy.
type Algorithm string

const (
	AlgorithmBM   Algorithm = "bm"
	AlgorithmSGBM Algorithm = "sgbm"
)

// ParseAlgorithm resolves a user supplied matcher name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case AlgorithmBM:
		return AlgorithmBM, nil
	case AlgorithmSGBM:
		return AlgorithmSGBM, nil
	}
	return "", errs.Algorithm("algorithm", name, string(AlgorithmBM), string(AlgorithmSGBM))
}

// Side says which view of the pair is the reference.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// PreFilterType selects the local normalisation applied before BM matching.
type PreFilterType int

const (
	// PreFilterNormalizedResponse subtracts the local mean over PreFilterSize.
	PreFilterNormalizedResponse PreFilterType = iota
	// PreFilterXSobel uses the horizontal Sobel derivative.
	PreFilterXSobel
)

// SGBMMode selects the scan directions aggregated by SemiGlobalMatcher.
type SGBMMode int

const (
	// ModeSGBM aggregates five directions in a single top-down pass.
	ModeSGBM SGBMMode = iota
	// ModeHH aggregates all eight directions (a second bottom-up pass).
	ModeHH
	// Mode3Way aggregates left-to-right, right-to-left and top-down.
	Mode3Way
)

func (m SGBMMode) String() string {
	switch m {
	case ModeHH:
		return "hh"
	case Mode3Way:
		return "3way"
	default:
		return "sgbm"
	}
}

// Params holds the knobs of both matcher strategies. Fields that only one
// strategy reads are ignored by the other.
type Params struct {
	MinDisparity   int
	NumDisparities int
	BlockSize      int

	PreFilterType PreFilterType // BM
	PreFilterSize int           // BM, normalized response only
	PreFilterCap  int

	TextureThreshold  int // BM
	UniquenessRatio   int
	SpeckleWindowSize int
	SpeckleRange      int // whole pixels

	// Disp12MaxDiff is the allowed left-right mismatch in whole pixels for
	// the built-in check of SemiGlobalMatcher; negative disables it.
	Disp12MaxDiff int

	P1, P2 int      // SGBM smoothness penalties
	Mode   SGBMMode // SGBM
}

// DefaultBMParams mirrors the classic block matcher defaults for the given
// range and block size.
func DefaultBMParams(numDisparities, blockSize int) Params {
	return Params{
		NumDisparities:   numDisparities,
		BlockSize:        blockSize,
		PreFilterType:    PreFilterXSobel,
		PreFilterSize:    9,
		PreFilterCap:     31,
		TextureThreshold: 10,
		UniquenessRatio:  15,
		Disp12MaxDiff:    -1,
	}
}

// DefaultSGBMParams returns semi-global parameters with penalties scaled to
// the block area.
func DefaultSGBMParams(minDisparity, numDisparities, blockSize int) Params {
	area := blockSize * blockSize
	return Params{
		MinDisparity:    minDisparity,
		NumDisparities:  numDisparities,
		BlockSize:       blockSize,
		PreFilterCap:    63,
		UniquenessRatio: 10,
		Disp12MaxDiff:   -1,
		P1:              8 * area,
		P2:              32 * area,
		Mode:            ModeSGBM,
	}
}

// MaxDisparity is the largest disparity searched.
func (p Params) MaxDisparity() int { return p.MinDisparity + p.NumDisparities - 1 }

// InvalidValue is the fixed-point sentinel written to unmatched pixels: one
// step below the search range.
func (p Params) InvalidValue() int { return (p.MinDisparity - 1) * DisparityScale }

// Validate checks the invariants shared by both strategies and the ones
// specific to algo.
func (p Params) Validate(algo Algorithm) error {
	if p.NumDisparities <= 0 || p.NumDisparities%16 != 0 {
		return errs.Parameter("num_disparities", p.NumDisparities, "must be a positive multiple of 16")
	}
	if p.BlockSize < 1 || p.BlockSize%2 == 0 {
		return errs.Parameter("block_size", p.BlockSize, "must be a positive odd integer")
	}
	if p.UniquenessRatio < 0 || p.UniquenessRatio >= 100 {
		return errs.Parameter("uniqueness_ratio", p.UniquenessRatio, "must be in [0, 100)")
	}
	if p.SpeckleWindowSize < 0 {
		return errs.Parameter("speckle_window_size", p.SpeckleWindowSize, "must be non-negative")
	}
	if p.SpeckleRange < 0 {
		return errs.Parameter("speckle_range", p.SpeckleRange, "must be non-negative")
	}
	if p.PreFilterCap < 0 || p.PreFilterCap > 63 {
		return errs.Parameter("prefilter_cap", p.PreFilterCap, "must be in [0, 63]")
	}

	switch algo {
	case AlgorithmBM:
		if p.PreFilterCap < 1 {
			return errs.Parameter("prefilter_cap", p.PreFilterCap, "must be in [1, 63] for bm")
		}
		if p.PreFilterType == PreFilterNormalizedResponse &&
			(p.PreFilterSize < 5 || p.PreFilterSize > 255 || p.PreFilterSize%2 == 0) {
			return errs.Parameter("prefilter_size", p.PreFilterSize, "must be odd and in [5, 255]")
		}
		if p.TextureThreshold < 0 {
			return errs.Parameter("texture_threshold", p.TextureThreshold, "must be non-negative")
		}
	case AlgorithmSGBM:
		if p.P1 < 0 || p.P2 < 0 {
			return errs.Parameter("p1/p2", [2]int{p.P1, p.P2}, "must be non-negative")
		}
		if p.P1 > 0 && p.P2 > 0 && p.P2 <= p.P1 {
			return errs.Parameter("p2", p.P2, fmt.Sprintf("must be greater than p1=%d", p.P1))
		}
	default:
		return errs.Algorithm("algorithm", string(algo), string(AlgorithmBM), string(AlgorithmSGBM))
	}
	return nil
}

// RightParams derives the parameters of the right-reference matcher: the
// same strategy searching the mirrored range, so a consistent right map
// holds the negated left disparities.
func RightParams(p Params) Params {
	r := p
	r.MinDisparity = -(p.MinDisparity + p.NumDisparities - 1)
	return r
}
