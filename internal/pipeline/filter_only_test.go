package pipeline

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

func TestFixedPointScale(t *testing.T) {
	for typ, want := range map[imgbuf.SampleType]float64{
		imgbuf.U8:  16,
		imgbuf.F32: 16,
		imgbuf.F64: 16,
		imgbuf.U16: 1,
		imgbuf.S16: 1,
		imgbuf.S32: 1,
	} {
		got, err := FixedPointScale(typ)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0, typ.String())
	}
}

func TestFilterOnly_ConstantMapKeepsScaledValue(t *testing.T) {
	guide := imgbuf.NewFilled(48, 32, imgbuf.U8, 100)

	out, err := FilterOnly(context.Background(), guide, imgbuf.NewFilled(48, 32, imgbuf.U8, 20), DefaultFilterOptions())
	require.NoError(t, err)
	assert.Equal(t, imgbuf.S16, out.Type)
	assert.InDelta(t, 320.0, out.At(0, 0), 1)
	assert.InDelta(t, 320.0, out.At(47, 31), 1)

	out, err = FilterOnly(context.Background(), guide, imgbuf.NewFilled(48, 32, imgbuf.U16, 320), DefaultFilterOptions())
	require.NoError(t, err)
	assert.InDelta(t, 320.0, out.At(20, 10), 1)
}

func TestFilterOnly_MultiChannelDepthIsReducedToGray(t *testing.T) {
	guide := imgbuf.NewFilled(24, 16, imgbuf.U8, 60)
	depth := imgbuf.New(24, 16, 3, imgbuf.U8)
	for i := range depth.Data {
		depth.Data[i] = 10
	}

	out, err := FilterOnly(context.Background(), guide, depth, DefaultFilterOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Channels)
	assert.InDelta(t, 160.0, out.At(5, 5), 1)
}

func TestFilterOnly_Rejections(t *testing.T) {
	guide := imgbuf.NewFilled(24, 16, imgbuf.U8, 60)

	_, err := FilterOnly(context.Background(), guide, imgbuf.NewFilled(20, 16, imgbuf.U8, 1), DefaultFilterOptions())
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	opts := DefaultFilterOptions()
	opts.Lambda = 0
	_, err = FilterOnly(context.Background(), guide, imgbuf.NewFilled(24, 16, imgbuf.U8, 1), opts)
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	opts = DefaultFilterOptions()
	opts.WindowSize = 4
	_, err = FilterOnly(context.Background(), guide, imgbuf.NewFilled(24, 16, imgbuf.U8, 1), opts)
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FilterOnly(ctx, guide, imgbuf.NewFilled(24, 16, imgbuf.U8, 1), DefaultFilterOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelfGuided_FlatMapIsUnchanged(t *testing.T) {
	depth := imgbuf.NewFilled(32, 24, imgbuf.F32, 5.5)

	out, err := SelfGuided(context.Background(), depth, DefaultSelfGuidedOptions())
	require.NoError(t, err)
	assert.Equal(t, imgbuf.F32, out.Type)
	lo, hi := out.MinMax()
	assert.InDelta(t, 5.5, lo, 1.0/16)
	assert.InDelta(t, 5.5, hi, 1.0/16)
}

func TestSelfGuided_RemovesOutliersAndKeepsStep(t *testing.T) {
	const w, h = 40, 24
	depth := imgbuf.New(w, h, 1, imgbuf.U8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 50.0
			if x >= w/2 {
				v = 150
			}
			depth.Set(x, y, v)
		}
	}
	depth.Set(5, 5, 255)
	depth.Set(30, 12, 0)

	var stages []Stage
	opts := DefaultSelfGuidedOptions()
	opts.Observer = StageFunc(func(s Stage, _ time.Duration, _ error) { stages = append(stages, s) })

	out, err := SelfGuided(context.Background(), depth, opts)
	require.NoError(t, err)
	assert.Equal(t, imgbuf.U8, out.Type)
	assert.Equal(t, []Stage{StageMedian, StageFilter}, stages)

	assert.InDelta(t, 50.0, out.At(5, 5), 1)
	assert.InDelta(t, 150.0, out.At(30, 12), 1)
	assert.InDelta(t, 50.0, out.At(w/2-2, 10), 1)
	assert.InDelta(t, 150.0, out.At(w/2+1, 10), 1)
}

func TestNormalizedGuide(t *testing.T) {
	m := imgbuf.New(3, 1, 1, imgbuf.F32)
	m.Set(0, 0, -2)
	m.Set(1, 0, 0)
	m.Set(2, 0, 2)

	g := normalizedGuide(m)
	assert.Equal(t, imgbuf.U8, g.Type)
	assert.InDelta(t, 0.0, g.At(0, 0), 0)
	assert.InDelta(t, 128.0, g.At(1, 0), 0)
	assert.InDelta(t, 255.0, g.At(2, 0), 0)

	flat := normalizedGuide(imgbuf.NewFilled(2, 2, imgbuf.F32, 7))
	assert.InDelta(t, 128.0, flat.At(1, 1), 0)
}

func TestComputeStats(t *testing.T) {
	m := imgbuf.New(4, 2, 1, imgbuf.S16)
	copy(m.Data, []float64{-16, 16, 32, 48, 64, -16, 16, 16})

	s := ComputeStats(m, image.Rectangle{}, 16, func(v float64) bool { return v <= -16 })
	assert.Equal(t, 8, s.Pixels)
	assert.Equal(t, 6, s.Valid)
	assert.InDelta(t, 0.75, s.ValidRatio, 1e-12)
	assert.InDelta(t, 1.0, s.Min, 0)
	assert.InDelta(t, 4.0, s.Max, 0)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.InDelta(t, 1.0, s.Median, 0)

	roi := ComputeStats(m, image.Rect(1, 0, 3, 1), 16, nil)
	assert.Equal(t, 2, roi.Pixels)
	assert.InDelta(t, 1.5, roi.Mean, 1e-12)

	none := ComputeStats(imgbuf.NewFilled(2, 2, imgbuf.S16, -16), image.Rectangle{}, 16, func(v float64) bool { return v <= -16 })
	assert.Zero(t, none.Valid)
	assert.Zero(t, none.ValidRatio)
}

func TestResult_WriteOutputs(t *testing.T) {
	res := &Result{
		Filtered: imgbuf.NewFilled(4, 4, imgbuf.S16, 100),
		Raw:      imgbuf.NewFilled(4, 4, imgbuf.S16, 100),
	}
	sink := depthio.NewMemorySink()
	require.NoError(t, res.WriteOutputs(sink))

	_, ok := sink.Get(depthio.OutputConfidence)
	assert.False(t, ok)
	raw, ok := sink.Get(depthio.OutputRawPreview)
	require.True(t, ok)
	assert.InDelta(t, 30.0, raw.At(0, 0), 0)
	filt, ok := sink.Get(depthio.OutputFiltPreview)
	require.True(t, ok)
	assert.InDelta(t, 100.0, filt.At(0, 0), 0)
}
