package edges

import (
	"testing"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepImage is dark left of column 8 and bright from it.
func stepImage() *imgbuf.Mat {
	m := imgbuf.New(16, 9, 1, imgbuf.U8)
	for y := 0; y < 9; y++ {
		for x := 8; x < 16; x++ {
			m.Set(x, y, 200)
		}
	}
	return m
}

func TestDetect_SobelRespondsOnlyAtTheStep(t *testing.T) {
	out, err := Detect(stepImage(), Sobel)
	require.NoError(t, err)
	assert.Equal(t, imgbuf.U8, out.Type)

	assert.InDelta(t, 128.0, out.At(7, 4), 1) // 0.5 * saturated |gx|
	assert.InDelta(t, 128.0, out.At(8, 4), 1)
	assert.InDelta(t, 0.0, out.At(3, 4), 0)
	assert.InDelta(t, 0.0, out.At(12, 4), 0)
}

func TestDetect_LaplacianMagnitude(t *testing.T) {
	out, err := Detect(stepImage(), Laplacian)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, out.At(7, 4), 1)
	assert.InDelta(t, 200.0, out.At(8, 4), 1)
	assert.InDelta(t, 0.0, out.At(2, 4), 0)
}

func TestDetect_ScharrOnColourInput(t *testing.T) {
	col := imgbuf.New(16, 9, 3, imgbuf.U8)
	for y := 0; y < 9; y++ {
		for x := 0; x < 16; x++ {
			v := 0.0
			if y >= 5 {
				v = 90
			}
			for c := 0; c < 3; c++ {
				col.SetC(x, y, c, v)
			}
		}
	}
	out, err := Detect(col, Scharr)
	require.NoError(t, err)
	assert.Greater(t, out.At(8, 4), 100.0)
	assert.InDelta(t, 0.0, out.At(8, 1), 0)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Sobel")
	require.NoError(t, err)
	assert.Equal(t, Sobel, m)

	_, err = ParseMethod("canny")
	assert.ErrorIs(t, err, errs.ErrUnsupportedAlgorithm)

	_, err = Detect(stepImage(), "prewitt")
	assert.ErrorIs(t, err, errs.ErrUnsupportedAlgorithm)
}
