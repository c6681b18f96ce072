package stereo

import (
	"image"
	"math"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
)

func TestSubpixel(t *testing.T) {
	tests := []struct {
		name       string
		cm, c0, cp int
		want       int
	}{
		{"centred", 10, 0, 10, 0},
		{"towards d+1", 10, 0, 2, 5},
		{"towards d-1", 2, 0, 10, -5},
		{"small negative offset", 5, 0, 7, -1},
		{"half way to d+1", 9, 5, 5, 8},
		{"half way to d-1", 5, 5, 9, -8},
		{"flat curve", 3, 3, 3, 0},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, subpixel(tt.cm, tt.c0, tt.cp))
		})
	}
}

func TestSubpixel_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("mirrored cost curves give opposite offsets", prop.ForAll(
		func(c0, a, b int) bool {
			return subpixel(c0+a, c0, c0+b) == -subpixel(c0+b, c0, c0+a)
		},
		gen.IntRange(0, 5000),
		gen.IntRange(0, 2000),
		gen.IntRange(0, 2000),
	))

	properties.Property("offset is the parabola vertex rounded to the nearest unit", prop.ForAll(
		func(c0, a, b int) bool {
			exact := float64(DisparityScale*(a-b)) / float64(2*(a+b))
			return math.Abs(float64(subpixel(c0+a, c0, c0+b))-exact) <= 0.5
		},
		gen.IntRange(0, 5000),
		gen.IntRange(1, 2000),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t)
}

// halfPixelPair renders a textured plane at disparity d+0.5: every right
// pixel averages the two left pixels it straddles.
func halfPixelPair(w, h, d int, seed uint32) (left, right *imgbuf.Mat) {
	left = testutil.TexturedImage(w, h, seed)
	right = imgbuf.New(w, h, 1, imgbuf.U8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := float64(testutil.Texture(x+d, y, seed))
			b := float64(testutil.Texture(x+d+1, y, seed))
			right.Data[y*w+x] = (a + b) / 2
		}
	}
	return left, right
}

func TestBlockMatcher_FractionalDisparityIsUnbiased(t *testing.T) {
	const d0 = 4
	left, right := halfPixelPair(128, 64, d0, 13)
	p := DefaultBMParams(16, 11)

	disp, err := Match(left, right, AlgorithmBM, p, Left)
	require.NoError(t, err)

	roi, err := ComputeROI(image.Pt(128, 64), p.MinDisparity, p.NumDisparities, p.BlockSize)
	require.NoError(t, err)

	var valid []float64
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			if v := disp.At(x, y); v != float64(p.InvalidValue()) {
				valid = append(valid, v)
			}
		}
	}
	require.NotEmpty(t, valid)
	sort.Float64s(valid)

	want := (d0 + 0.5) * DisparityScale
	assert.InDelta(t, want, valid[len(valid)/2], 2, "median disparity")
}
