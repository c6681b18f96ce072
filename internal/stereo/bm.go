package stereo

import (
	"image"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// BlockMatcher finds, per reference pixel, the disparity minimising the sum
// of absolute differences between prefiltered blocks.
type BlockMatcher struct {
	params  Params
	workers int
}

// NewBlockMatcher validates p and returns a block matcher. workers <= 0
// uses every CPU.
func NewBlockMatcher(p Params, workers int) (*BlockMatcher, error) {
	if err := p.Validate(AlgorithmBM); err != nil {
		return nil, err
	}
	return &BlockMatcher{params: p, workers: workers}, nil
}

func (m *BlockMatcher) Algorithm() Algorithm { return AlgorithmBM }
func (m *BlockMatcher) Params() Params       { return m.params }

// Compute returns the S16 fixed-point disparity of ref against target.
func (m *BlockMatcher) Compute(ref, target *imgbuf.Mat) (*imgbuf.Mat, error) {
	if err := checkPair(ref, target); err != nil {
		return nil, err
	}
	p := m.params
	size := image.Pt(ref.Width, ref.Height)
	rect := matchRect(size, p)
	if rect.Empty() {
		return nil, emptyROI(size, p)
	}

	l, r := toPlane(ref), toPlane(target)
	if p.PreFilterType == PreFilterNormalizedResponse {
		l = normalizedResponse(l, p.PreFilterSize, p.PreFilterCap, m.workers)
		r = normalizedResponse(r, p.PreFilterSize, p.PreFilterCap, m.workers)
	} else {
		l = xSobel(l, p.PreFilterCap, m.workers)
		r = xSobel(r, p.PreFilterCap, m.workers)
	}

	invalid := float64(p.InvalidValue())
	out := imgbuf.NewFilled(size.X, size.Y, imgbuf.S16, invalid)
	rows(rect.Dy(), m.workers, func(i int) {
		y := rect.Min.Y + i
		bmRow(l, r, p, rect, y, out.Data[y*size.X:(y+1)*size.X])
	})

	if p.SpeckleWindowSize > 0 {
		FilterSpeckles(out, invalid, p.SpeckleWindowSize, p.SpeckleRange*DisparityScale)
	}
	return out, nil
}

// bmRow matches one row of the rectangle and writes fixed-point results into
// dst, the full output row.
func bmRow(l, r *plane, p Params, rect image.Rectangle, y int, dst []float64) {
	nd := p.NumDisparities
	bs2 := p.BlockSize / 2
	x0, x1 := rect.Min.X-bs2, rect.Max.X+bs2
	span := x1 - x0

	// Column sums of |l - r| over the block height, per disparity.
	col := make([]int, span*nd)
	for j := -bs2; j <= bs2; j++ {
		lrow := l.pix[(y+j)*l.w:]
		rrow := r.pix[(y+j)*r.w:]
		for x := x0; x < x1; x++ {
			lv := lrow[x]
			base := (x - x0) * nd
			for d := 0; d < nd; d++ {
				diff := lv - rrow[x-p.MinDisparity-d]
				if diff < 0 {
					diff = -diff
				}
				col[base+d] += diff
			}
		}
	}

	var texCol []int
	if p.TextureThreshold > 0 {
		texCol = make([]int, span)
		for j := -bs2; j <= bs2; j++ {
			lrow := l.pix[(y+j)*l.w:]
			for x := x0; x < x1; x++ {
				t := lrow[x] - p.PreFilterCap
				if t < 0 {
					t = -t
				}
				texCol[x-x0] += t
			}
		}
	}

	// Slide the block horizontally.
	sad := make([]int, nd)
	for k := 0; k < p.BlockSize; k++ {
		for d := 0; d < nd; d++ {
			sad[d] += col[k*nd+d]
		}
	}
	tex := 0
	if texCol != nil {
		for k := 0; k < p.BlockSize; k++ {
			tex += texCol[k]
		}
	}

	for x := rect.Min.X; x < rect.Max.X; x++ {
		if x > rect.Min.X {
			in := (x + bs2 - x0) * nd
			out := (x - bs2 - 1 - x0) * nd
			for d := 0; d < nd; d++ {
				sad[d] += col[in+d] - col[out+d]
			}
			if texCol != nil {
				tex += texCol[x+bs2-x0] - texCol[x-bs2-1-x0]
			}
		}
		if texCol != nil && tex < p.TextureThreshold {
			continue
		}
		if v, ok := pickBM(sad, p); ok {
			dst[x] = float64(v)
		}
	}
}

// pickBM applies winner-takes-all, the uniqueness test and sub-pixel
// refinement to one SAD curve.
func pickBM(sad []int, p Params) (int, bool) {
	nd := len(sad)
	best, bestD := sad[0], 0
	for d := 1; d < nd; d++ {
		if sad[d] < best {
			best, bestD = sad[d], d
		}
	}

	if p.UniquenessRatio > 0 {
		thresh := best + best*p.UniquenessRatio/100
		for d := 0; d < nd; d++ {
			if (d < bestD-1 || d > bestD+1) && sad[d] <= thresh {
				return 0, false
			}
		}
	}

	d16 := (p.MinDisparity + bestD) * DisparityScale
	if bestD > 0 && bestD < nd-1 {
		d16 += subpixel(sad[bestD-1], best, sad[bestD+1])
	}
	return d16, true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
