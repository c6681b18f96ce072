package imgbuf

import "github.com/MeKo-Tech/stereowls/internal/errs"

// Resize resamples m to width x height with bilinear interpolation on
// pixel centres. Samples are interpolated in float64 and saturated to the
// Mat's type, so signed fixed-point disparities survive the round trip.
func Resize(m *Mat, width, height int) (*Mat, error) {
	if width <= 0 || height <= 0 {
		return nil, errs.Parameter("size", [2]int{width, height}, "must be positive")
	}
	if m.Empty() {
		return nil, errs.Parameter("image", "empty", "must have positive width and height")
	}
	out := New(width, height, m.Channels, m.Type)
	sx := float64(m.Width) / float64(width)
	sy := float64(m.Height) / float64(height)

	for y := 0; y < height; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0, wy := splitCoord(fy, m.Height)
		y1 := min(y0+1, m.Height-1)
		for x := 0; x < width; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0, wx := splitCoord(fx, m.Width)
			x1 := min(x0+1, m.Width-1)
			for c := 0; c < m.Channels; c++ {
				top := m.AtC(x0, y0, c)*(1-wx) + m.AtC(x1, y0, c)*wx
				bot := m.AtC(x0, y1, c)*(1-wx) + m.AtC(x1, y1, c)*wx
				out.SetC(x, y, c, top*(1-wy)+bot*wy)
			}
		}
	}
	return out, nil
}

// splitCoord clamps a source coordinate and splits it into a base index and
// the fractional weight of the next sample.
func splitCoord(f float64, n int) (int, float64) {
	if f <= 0 {
		return 0, 0
	}
	if f >= float64(n-1) {
		return n - 1, 0
	}
	i := int(f)
	return i, f - float64(i)
}
