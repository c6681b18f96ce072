// Package edges produces 8-bit edge-strength maps of guide or disparity
// images with bild convolutions.
package edges

import (
	"image"
	"strings"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// Method selects the derivative operator.
type Method string

const (
	Sobel     Method = "sobel"
	Scharr    Method = "scharr"
	Laplacian Method = "laplacian"
)

// Methods lists the supported operators.
func Methods() []Method { return []Method{Sobel, Scharr, Laplacian} }

// ParseMethod resolves a user supplied operator name.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Methods() {
		if m == known {
			return m, nil
		}
	}
	return "", errs.Algorithm("edge method", name, string(Sobel), string(Scharr), string(Laplacian))
}

var (
	sobelX  = []float64{-1, 0, 1, -2, 0, 2, -1, 0, 1}
	scharrX = []float64{-3, 0, 3, -10, 0, 10, -3, 0, 3}
	laplace = []float64{0, 1, 0, 1, -4, 1, 0, 1, 0}
)

// Detect converts m to grayscale and returns a U8 edge map: for gradient
// operators 0.5*|gx| + 0.5*|gy| with each magnitude saturated to 255, for
// the Laplacian its saturated magnitude.
func Detect(m *imgbuf.Mat, method Method) (*imgbuf.Mat, error) {
	if m.Empty() {
		return nil, errs.Parameter("image", "empty", "must have positive size")
	}
	src, err := imgbuf.ToImage(m)
	if err != nil {
		return nil, err
	}
	gray := effect.Grayscale(src)

	switch method {
	case Sobel, Scharr:
		kx := sobelX
		if method == Scharr {
			kx = scharrX
		}
		gx := absResponse(gray, kx)
		gy := absResponse(gray, transpose3(kx))
		out := imgbuf.New(m.Width, m.Height, 1, imgbuf.U8)
		for i := range out.Data {
			out.Data[i] = imgbuf.U8.Saturate(0.5*gx[i] + 0.5*gy[i])
		}
		return out, nil
	case Laplacian:
		lap := absResponse(gray, laplace)
		out := imgbuf.New(m.Width, m.Height, 1, imgbuf.U8)
		copy(out.Data, lap)
		return out, nil
	}
	return nil, errs.Algorithm("edge method", string(method), string(Sobel), string(Scharr), string(Laplacian))
}

// absResponse returns |k * img| saturated to [0, 255]. bild clamps each
// convolution to [0, 255], so the magnitude is the sum of the responses to
// k and -k.
func absResponse(img image.Image, k []float64) []float64 {
	pos := convolution.Convolve(img, kernel(k, 1), nil)
	neg := convolution.Convolve(img, kernel(k, -1), nil)
	b := img.Bounds()
	out := make([]float64, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := pos.PixOffset(x, y)
			out[y*b.Dx()+x] = min(float64(pos.Pix[i])+float64(neg.Pix[i]), 255)
		}
	}
	return out
}

func kernel(values []float64, sign float64) *convolution.Kernel {
	k := convolution.NewKernel(3, 3)
	for i, v := range values {
		k.Matrix[i] = sign * v
	}
	return k
}

func transpose3(k []float64) []float64 {
	t := make([]float64, 9)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			t[x*3+y] = k[y*3+x]
		}
	}
	return t
}
