package wls

import (
	"image"
	"math"
	"testing"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyMap returns a map of type t holding base plus deterministic noise of
// the given amplitude.
func noisyMap(w, h int, t imgbuf.SampleType, base, amp float64) *imgbuf.Mat {
	m := imgbuf.New(w, h, 1, t)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := float64(testutil.Texture(x, y, 99))/255 - 0.5
			m.Set(x, y, base+amp*n)
		}
	}
	return m
}

// roughness is the sum of squared differences between 4-neighbours.
func roughness(m *imgbuf.Mat) float64 {
	e := 0.0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.At(x, y)
			if x+1 < m.Width {
				d := m.At(x+1, y) - v
				e += d * d
			}
			if y+1 < m.Height {
				d := m.At(x, y+1) - v
				e += d * d
			}
		}
	}
	return e
}

func newFilter(t *testing.T, mutate func(*Params)) *Filter {
	t.Helper()
	p := DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	f, err := New(p)
	require.NoError(t, err)
	return f
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	for name, mutate := range map[string]func(*Params){
		"zero lambda":      func(p *Params) { p.Lambda = 0 },
		"nan lambda":       func(p *Params) { p.Lambda = math.NaN() },
		"negative sigma":   func(p *Params) { p.SigmaColor = -1 },
		"negative radius":  func(p *Params) { p.DiscontinuityRadius = -2 },
		"no iterations":    func(p *Params) { p.Iterations = 0 },
		"zero jump in use": func(p *Params) { p.DiscontinuityRadius = 3; p.DiscontinuityJump = 0 },
	} {
		p := DefaultParams()
		mutate(&p)
		_, err := New(p)
		assert.ErrorIs(t, err, errs.ErrInvalidParameter, name)
	}
}

func TestRadiusForWindow(t *testing.T) {
	assert.Equal(t, 5, RadiusForWindow(15, 0.33))
	assert.Equal(t, 2, RadiusForWindow(3, 0.5))
	assert.Equal(t, 0, RadiusForWindow(0, 0.33))
}

func TestLambdaSchedule_Decreases(t *testing.T) {
	s := lambdaSchedule(630, 3)
	require.Len(t, s, 3)
	assert.InDelta(t, 1.5*630*16/63, s[0], 1e-9)
	assert.InDelta(t, s[0]/4, s[1], 1e-9)
	assert.InDelta(t, s[1]/4, s[2], 1e-9)
}

func TestApply_TinyLambdaReturnsRawInsideROI(t *testing.T) {
	raw := noisyMap(48, 32, imgbuf.S16, 400, 600)
	guide := testutil.TexturedImage(48, 32, 4)
	roi := image.Rect(6, 4, 42, 28)

	out, err := newFilter(t, func(p *Params) { p.Lambda = 1e-6 }).Apply(Input{
		Disparity: raw, Guide: guide, ROI: roi,
	})
	require.NoError(t, err)
	assert.Equal(t, imgbuf.S16, out.Type)

	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			assert.InDelta(t, raw.At(x, y), out.At(x, y), 1, "(%d,%d)", x, y)
		}
	}
}

func TestApply_UniformGuideSmoothsMonotonicallyWithLambda(t *testing.T) {
	raw := noisyMap(32, 24, imgbuf.F32, 160, 160)
	guide := imgbuf.NewFilled(32, 24, imgbuf.U8, 128)

	prev := roughness(raw)
	for _, lambda := range []float64{0.5, 5, 50, 500, 5000} {
		lambda := lambda // per-iteration copy (pre-Go 1.22 loop semantics)
		out, err := newFilter(t, func(p *Params) { p.Lambda = lambda; p.SigmaColor = 1.5 }).
			Apply(Input{Disparity: raw, Guide: guide})
		require.NoError(t, err)

		r := roughness(out)
		assert.LessOrEqual(t, r, prev*(1+1e-6)+1e-6, "lambda=%v", lambda)
		prev = r
	}
	assert.Less(t, prev, roughness(raw)*0.01)
}

func TestApply_PreservesGuideEdges(t *testing.T) {
	const w, h = 40, 20
	guide := imgbuf.New(w, h, 1, imgbuf.U8)
	raw := imgbuf.New(w, h, 1, imgbuf.S16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := float64(testutil.Texture(x, y, 5)%9) - 4
			if x < 20 {
				guide.Set(x, y, 50)
				raw.Set(x, y, 32+n)
			} else {
				guide.Set(x, y, 200)
				raw.Set(x, y, 160+n)
			}
		}
	}

	out, err := newFilter(t, nil).Apply(Input{Disparity: raw, Guide: guide})
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		assert.InDelta(t, 32, out.At(19, y), 2)
		assert.InDelta(t, 160, out.At(20, y), 2)
	}
	assert.Less(t, roughness(out), roughness(raw))
}

func TestApply_PropagatesIntoUntrustedArea(t *testing.T) {
	const invalid = -16
	raw := imgbuf.NewFilled(40, 30, imgbuf.S16, invalid)
	roi := image.Rect(10, 8, 30, 22)
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			raw.Set(x, y, 80)
		}
	}
	guide := imgbuf.NewFilled(40, 30, imgbuf.U8, 90)

	out, err := newFilter(t, nil).Apply(Input{
		Disparity: raw, Guide: guide, ROI: roi, Unmatched: AtOrBelow(invalid),
	})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 80, v, 0)
	}
}

func TestApply_NothingTrustedReturnsInput(t *testing.T) {
	raw := imgbuf.NewFilled(12, 12, imgbuf.S16, -16)
	out, err := newFilter(t, nil).Apply(Input{
		Disparity: raw, Guide: imgbuf.New(12, 12, 1, imgbuf.U8), Unmatched: AtOrBelow(-16),
	})
	require.NoError(t, err)
	assert.Equal(t, raw.Data, out.Data)
}

func TestApply_ColorGuideAndConfidence(t *testing.T) {
	raw := noisyMap(24, 16, imgbuf.S16, 320, 32)
	guide := imgbuf.New(24, 16, 3, imgbuf.U8)
	for i := range guide.Data {
		guide.Data[i] = 100
	}
	conf := imgbuf.NewFilled(24, 16, imgbuf.U8, 255)

	out, err := newFilter(t, nil).Apply(Input{Disparity: raw, Guide: guide, Confidence: conf})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 320, v, 16)
	}
}

func TestApply_RejectsMismatchedInputs(t *testing.T) {
	f := newFilter(t, nil)
	raw := imgbuf.New(10, 10, 1, imgbuf.S16)

	_, err := f.Apply(Input{Disparity: raw, Guide: imgbuf.New(9, 10, 1, imgbuf.U8)})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	_, err = f.Apply(Input{Disparity: raw, Guide: imgbuf.New(10, 10, 1, imgbuf.U8), Confidence: imgbuf.New(10, 10, 3, imgbuf.U8)})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	_, err = f.Apply(Input{Disparity: raw, Guide: imgbuf.New(10, 10, 1, imgbuf.U8), ROI: image.Rect(20, 20, 30, 30)})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	_, err = f.Apply(Input{Disparity: raw})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)
}

// The discontinuity radius composes with an explicit confidence map: trust
// near a raw jump is halved whichever trust signal is in use.
func TestTrustMap_DiscontinuityRadiusComposesWithConfidence(t *testing.T) {
	const w, h = 24, 6
	raw := imgbuf.New(w, h, 1, imgbuf.S16)
	for y := 0; y < h; y++ {
		for x := 10; x < w; x++ {
			raw.Set(x, y, 64)
		}
	}
	f := newFilter(t, func(p *Params) { p.DiscontinuityRadius = 2 })

	for name, in := range map[string]Input{
		"confidence": {Disparity: raw, Confidence: imgbuf.NewFilled(w, h, imgbuf.U8, 255)},
		"roi":        {Disparity: raw},
	} {
		trust := f.trustMap(in)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				want := float32(1)
				if x >= 7 && x <= 12 {
					want = 0.5
				}
				assert.InDelta(t, want, trust[y*w+x], 1e-6, "%s (%d,%d)", name, x, y)
			}
		}
	}

	// Half confidence stays half away from the jump and drops to a quarter
	// near it.
	trust := f.trustMap(Input{Disparity: raw, Confidence: imgbuf.NewFilled(w, h, imgbuf.U8, 127.5)})
	assert.InDelta(t, 0.5, trust[2], 0.01)
	assert.InDelta(t, 0.25, trust[10], 0.01)
}

func TestApply_PlanarSceneStaysWithinTolerance(t *testing.T) {
	const d0 = 6
	left, right := testutil.PlanarPair(128, 64, d0, 5)
	p := stereo.DefaultBMParams(16, 11)
	raw, err := stereo.Match(left, right, stereo.AlgorithmBM, p, stereo.Left)
	require.NoError(t, err)
	roi, err := stereo.ComputeROI(image.Pt(128, 64), 0, 16, 11)
	require.NoError(t, err)

	out, err := newFilter(t, func(q *Params) { q.DiscontinuityRadius = RadiusForWindow(11, 0.33) }).Apply(Input{
		Disparity: raw, Guide: left, ROI: roi, Unmatched: AtOrBelow(float64(p.InvalidValue())),
	})
	require.NoError(t, err)

	within := 0
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			if math.Abs(out.At(x, y)-d0*stereo.DisparityScale) <= 1 {
				within++
			}
		}
	}
	assert.GreaterOrEqual(t, float64(within)/float64(roi.Dx()*roi.Dy()), 0.95)
}
