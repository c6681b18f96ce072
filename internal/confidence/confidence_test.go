package confidence

import (
	"image"
	"testing"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() Options {
	return OptionsFor(stereo.DefaultBMParams(16, 9), DefaultThreshold)
}

func TestCrossCheck_ConsistentPairIsFullyTrusted(t *testing.T) {
	const d = 5
	left := testutil.ConstantDisparity(40, 12, d, stereo.DisparityScale)
	right := testutil.ConstantDisparity(40, 12, -d, stereo.DisparityScale)

	conf, err := CrossCheck(left, right, defaultOpts())
	require.NoError(t, err)
	assert.Equal(t, imgbuf.U8, conf.Type)

	for y := 0; y < 12; y++ {
		for x := 0; x < 40; x++ {
			want := float64(MaxConfidence)
			if x < d {
				want = 0 // match falls left of the right frame
			}
			assert.InDelta(t, want, conf.At(x, y), 0, "(%d,%d)", x, y)
		}
	}
}

func TestCrossCheck_OccludedRegionScoresLower(t *testing.T) {
	const d = 4
	left := testutil.ConstantDisparity(48, 8, d, stereo.DisparityScale)
	right := testutil.ConstantDisparity(48, 8, -d, stereo.DisparityScale)

	// The right view sees a nearer surface where the left one sees the
	// background: right disparities disagree for left columns 20..27.
	occ := image.Rect(20, 0, 28, 8)
	for y := occ.Min.Y; y < occ.Max.Y; y++ {
		for x := occ.Min.X; x < occ.Max.X; x++ {
			right.Set(x-d, y, -12*stereo.DisparityScale)
		}
	}

	conf, err := CrossCheck(left, right, defaultOpts())
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := d; x < 48; x++ {
			if image.Pt(x, y).In(occ) {
				assert.Less(t, conf.At(x, y), conf.At(10, y))
			} else {
				assert.InDelta(t, float64(MaxConfidence), conf.At(x, y), 0)
			}
		}
	}
}

func TestCrossCheck_UnmatchedPixelsScoreZero(t *testing.T) {
	opts := defaultOpts()
	left := testutil.ConstantDisparity(20, 4, 2, stereo.DisparityScale)
	right := testutil.ConstantDisparity(20, 4, -2, stereo.DisparityScale)
	left.Set(10, 1, opts.LeftInvalid)
	right.Set(13, 2, opts.RightInvalid)

	conf, err := CrossCheck(left, right, opts)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, conf.At(10, 1), 0)
	assert.InDelta(t, 0.0, conf.At(15, 2), 0)
	assert.InDelta(t, float64(MaxConfidence), conf.At(15, 1), 0)
}

func TestCrossCheck_RejectsMismatchedMaps(t *testing.T) {
	_, err := CrossCheck(imgbuf.New(4, 4, 1, imgbuf.S16), imgbuf.New(5, 4, 1, imgbuf.S16), defaultOpts())
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	opts := defaultOpts()
	opts.Scale = 0
	_, err = CrossCheck(imgbuf.New(4, 4, 1, imgbuf.S16), imgbuf.New(4, 4, 1, imgbuf.S16), opts)
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestCrossCheck_MatchedStereoPair(t *testing.T) {
	left, right := testutil.PlanarPair(128, 48, 6, 3)
	p := stereo.DefaultBMParams(16, 11)

	dl, err := stereo.Match(left, right, stereo.AlgorithmBM, p, stereo.Left)
	require.NoError(t, err)
	dr, err := stereo.Match(right, left, stereo.AlgorithmBM, p, stereo.Right)
	require.NoError(t, err)

	conf, err := CrossCheck(dl, dr, OptionsFor(p, DefaultThreshold))
	require.NoError(t, err)

	// Centre of the frame is visible and matched in both views.
	trusted := 0
	for y := 10; y < 38; y++ {
		for x := 40; x < 90; x++ {
			if conf.At(x, y) == MaxConfidence {
				trusted++
			}
		}
	}
	assert.GreaterOrEqual(t, float64(trusted)/float64(28*50), 0.95)
}

func TestScore_MonotonicInMismatch(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("larger mismatch never scores higher", prop.ForAll(
		func(a, b, threshold float64) bool {
			if a > b {
				a, b = b, a
			}
			return Score(b, threshold) <= Score(a, threshold)
		},
		gen.Float64Range(0, 2000),
		gen.Float64Range(0, 2000),
		gen.Float64Range(0, 64),
	))

	properties.Property("score stays in range", prop.ForAll(
		func(m, threshold float64) bool {
			s := Score(m, threshold)
			return s >= 0 && s <= MaxConfidence
		},
		gen.Float64Range(0, 1e6),
		gen.Float64Range(0, 64),
	))

	properties.TestingRun(t)
}
