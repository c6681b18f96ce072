package depthfilter

import (
	"testing"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedian3x3_RemovesIsolatedOutliers(t *testing.T) {
	m := imgbuf.NewFilled(8, 8, imgbuf.F32, 10)
	m.Set(3, 3, 1000)
	m.Set(0, 0, -50)

	out := Median3x3(m, 2)
	assert.Equal(t, imgbuf.F32, out.Type)
	for _, v := range out.Data {
		assert.InDelta(t, 10, v, 0)
	}
}

func TestMedian3x3_KeepsStraightEdges(t *testing.T) {
	m := imgbuf.New(6, 4, 1, imgbuf.U16)
	for y := 0; y < 4; y++ {
		for x := 3; x < 6; x++ {
			m.Set(x, y, 500)
		}
	}
	out := Median3x3(m, 1)
	assert.Equal(t, m.Data, out.Data)
}

func TestMedian3x3_PerChannel(t *testing.T) {
	m := imgbuf.New(3, 3, 2, imgbuf.U8)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			m.SetC(x, y, 0, float64(x+3*y))
			m.SetC(x, y, 1, 7)
		}
	}
	out := Median3x3(m, 1)
	assert.InDelta(t, 4, out.AtC(1, 1, 0), 0)
	assert.InDelta(t, 7, out.AtC(1, 1, 1), 0)
}

func TestBilateral_FlatMapIsUnchanged(t *testing.T) {
	m := imgbuf.NewFilled(10, 10, imgbuf.U16, 1234)
	out, err := Bilateral(m, DefaultBilateralParams())
	require.NoError(t, err)
	assert.Equal(t, imgbuf.U16, out.Type)
	assert.Equal(t, m.Data, out.Data)
}

func TestBilateral_PreservesStepAndSmoothsNoise(t *testing.T) {
	m := imgbuf.New(20, 10, 1, imgbuf.F32)
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			v := 100.0
			if x >= 10 {
				v = 900
			}
			if (x+y)%2 == 0 {
				v += 4
			}
			m.Set(x, y, v)
		}
	}
	p := DefaultBilateralParams()
	p.Diameter = 4 // rounded up to 5
	p.SigmaColor = 20
	p.SigmaSpace = 3
	p.Iterations = 2
	out, err := Bilateral(m, p)
	require.NoError(t, err)

	for y := 2; y < 8; y++ {
		assert.InDelta(t, 102, out.At(9, y), 1.5)
		assert.InDelta(t, 902, out.At(10, y), 1.5)
		assert.InDelta(t, 102, out.At(4, y), 1)
	}
}

func TestBilateral_AutomaticSettings(t *testing.T) {
	p := BilateralParams{Diameter: 0, SigmaColor: -1, SigmaSpace: 1, Iterations: 1}
	assert.Equal(t, 9, p.diameter())
	p.Diameter = 6
	assert.Equal(t, 7, p.diameter())

	m := imgbuf.New(2, 1, 1, imgbuf.F64)
	m.Set(1, 0, 50)
	assert.InDelta(t, 5, p.sigmaColor(m), 1e-12)
	assert.InDelta(t, 1, p.sigmaColor(imgbuf.NewFilled(2, 2, imgbuf.F64, 3)), 0)
}

func TestBilateral_RejectsBadSettings(t *testing.T) {
	m := imgbuf.NewFilled(4, 4, imgbuf.U8, 1)
	for name, p := range map[string]BilateralParams{
		"sigma space": {SigmaSpace: 0, Iterations: 1},
		"iterations":  {SigmaSpace: 2, Iterations: 0},
	} {
		_, err := Bilateral(m, p)
		assert.ErrorIs(t, err, errs.ErrInvalidParameter, name)
	}
	_, err := Bilateral(imgbuf.New(0, 0, 1, imgbuf.U8), DefaultBilateralParams())
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)
}
