package stereo

import "github.com/MeKo-Tech/stereowls/internal/imgbuf"

// plane is a single-channel integer image used by the matchers.
type plane struct {
	w, h int
	pix  []int
}

func (p *plane) at(x, y int) int { return p.pix[y*p.w+x] }

// clampAt reads with replicated borders.
func (p *plane) clampAt(x, y int) int {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)
	return p.pix[y*p.w+x]
}

// toPlane rounds a single-channel Mat into an integer plane.
func toPlane(m *imgbuf.Mat) *plane {
	p := &plane{w: m.Width, h: m.Height, pix: make([]int, m.Width*m.Height)}
	for i := range p.pix {
		p.pix[i] = int(imgbuf.S32.Saturate(m.Data[i*m.Channels]))
	}
	return p
}

// xSobel returns the horizontal Sobel response clipped to [-cap, cap] and
// shifted by cap, so values lie in [0, 2*cap].
func xSobel(src *plane, capv int, workers int) *plane {
	out := &plane{w: src.w, h: src.h, pix: make([]int, len(src.pix))}
	rows(src.h, workers, func(y int) {
		for x := 0; x < src.w; x++ {
			v := src.clampAt(x+1, y-1) - src.clampAt(x-1, y-1) +
				2*(src.clampAt(x+1, y)-src.clampAt(x-1, y)) +
				src.clampAt(x+1, y+1) - src.clampAt(x-1, y+1)
			out.pix[y*src.w+x] = min(max(v, -capv), capv) + capv
		}
	})
	return out
}

// normalizedResponse subtracts the local mean over a size x size window,
// clipped to [-cap, cap] and shifted by cap.
func normalizedResponse(src *plane, size, capv int, workers int) *plane {
	integ := integral(src)
	r := size / 2
	out := &plane{w: src.w, h: src.h, pix: make([]int, len(src.pix))}
	rows(src.h, workers, func(y int) {
		y0, y1 := max(y-r, 0), min(y+r+1, src.h)
		for x := 0; x < src.w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, src.w)
			n := (x1 - x0) * (y1 - y0)
			sum := integ.box(x0, y0, x1, y1)
			mean := (sum + n/2) / n
			v := src.at(x, y) - mean
			out.pix[y*src.w+x] = min(max(v, -capv), capv) + capv
		}
	})
	return out
}

// integralImage holds inclusive prefix sums with a zero first row/column.
type integralImage struct {
	w   int
	sum []int
}

func integral(src *plane) integralImage {
	w := src.w + 1
	s := make([]int, w*(src.h+1))
	for y := 0; y < src.h; y++ {
		row := 0
		for x := 0; x < src.w; x++ {
			row += src.at(x, y)
			s[(y+1)*w+x+1] = s[y*w+x+1] + row
		}
	}
	return integralImage{w: w, sum: s}
}

// box sums [x0,x1) x [y0,y1).
func (ii integralImage) box(x0, y0, x1, y1 int) int {
	return ii.sum[y1*ii.w+x1] - ii.sum[y0*ii.w+x1] - ii.sum[y1*ii.w+x0] + ii.sum[y0*ii.w+x0]
}
