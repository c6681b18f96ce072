package stereo

import (
	"image"
	"math"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
)

// SemiGlobalMatcher aggregates a sampling-insensitive pixel cost along
// several scan directions, penalising disparity changes of one step by P1
// and larger jumps by P2, and picks the minimum of the summed cost.
type SemiGlobalMatcher struct {
	params  Params
	workers int
}

// NewSemiGlobalMatcher validates p and returns a semi-global matcher.
func NewSemiGlobalMatcher(p Params, workers int) (*SemiGlobalMatcher, error) {
	if err := p.Validate(AlgorithmSGBM); err != nil {
		return nil, err
	}
	return &SemiGlobalMatcher{params: p, workers: workers}, nil
}

func (m *SemiGlobalMatcher) Algorithm() Algorithm { return AlgorithmSGBM }
func (m *SemiGlobalMatcher) Params() Params       { return m.params }

// penalties resolves P1/P2, falling back to small constants when unset.
func (p Params) penalties() (int32, int32) {
	p1 := p.P1
	if p1 <= 0 {
		p1 = 2
	}
	p2 := p.P2
	if p2 <= 0 {
		p2 = 5
	}
	return int32(p1), int32(max(p2, p1+1))
}

// costVolume is laid out row-major with the disparity axis innermost over
// columns [x0, x0+w).
type costVolume struct {
	x0, w, h, nd int
	c            []uint16
}

func (v *costVolume) at(x, y int) []uint16 {
	i := (y*v.w + x) * v.nd
	return v.c[i : i+v.nd]
}

// Compute returns the S16 fixed-point disparity of ref against target.
func (m *SemiGlobalMatcher) Compute(ref, target *imgbuf.Mat) (*imgbuf.Mat, error) {
	if err := checkPair(ref, target); err != nil {
		return nil, err
	}
	p := m.params
	size := image.Pt(ref.Width, ref.Height)
	if roiRect(size, p.MinDisparity, p.NumDisparities, p.BlockSize).Empty() {
		return nil, emptyROI(size, p)
	}

	// Columns whose whole search range falls inside the target.
	x0 := max(p.MaxDisparity(), 0)
	x1 := min(size.X, size.X+p.MinDisparity)

	capv := p.PreFilterCap
	if capv == 0 {
		capv = 15
	}
	l := xSobel(toPlane(ref), capv, m.workers)
	r := xSobel(toPlane(target), capv, m.workers)

	vol := m.pixelCosts(l, r, x0, x1)
	if p.BlockSize > 1 {
		vol = m.blockSum(vol, p.BlockSize/2)
	}
	sum := m.aggregate(vol)

	invalid := float64(p.InvalidValue())
	out := imgbuf.NewFilled(size.X, size.Y, imgbuf.S16, invalid)
	rows(size.Y, m.workers, func(y int) {
		m.selectRow(sum, vol, y, out.Data[y*size.X:(y+1)*size.X], size.X)
	})

	if p.SpeckleWindowSize > 0 {
		FilterSpeckles(out, invalid, p.SpeckleWindowSize, p.SpeckleRange*DisparityScale)
	}
	return out, nil
}

// pixelCosts builds the Birchfield-Tomasi dissimilarity between the
// prefiltered images for every column in [x0, x1) and every disparity.
func (m *SemiGlobalMatcher) pixelCosts(l, r *plane, x0, x1 int) *costVolume {
	p := m.params
	nd := p.NumDisparities
	vol := &costVolume{x0: x0, w: x1 - x0, h: l.h, nd: nd, c: make([]uint16, (x1-x0)*l.h*nd)}

	rows(l.h, m.workers, func(y int) {
		lmin, lmax := halfSampleRange(l, y)
		rmin, rmax := halfSampleRange(r, y)
		for x := x0; x < x1; x++ {
			a := l.at(x, y)
			dst := vol.at(x-x0, y)
			for d := 0; d < nd; d++ {
				xr := x - p.MinDisparity - d
				b := r.at(xr, y)
				d1 := max(0, a-rmax[xr], rmin[xr]-a)
				d2 := max(0, b-lmax[x], lmin[x]-b)
				dst[d] = uint16(min(d1, d2))
			}
		}
	})
	return vol
}

// halfSampleRange returns, per column, the min and max of the pixel and
// its two half-sample interpolations with the horizontal neighbours.
func halfSampleRange(pl *plane, y int) ([]int, []int) {
	lo := make([]int, pl.w)
	hi := make([]int, pl.w)
	for x := 0; x < pl.w; x++ {
		v := pl.at(x, y)
		left := (v + pl.clampAt(x-1, y)) / 2
		right := (v + pl.clampAt(x+1, y)) / 2
		lo[x] = min(v, left, right)
		hi[x] = max(v, left, right)
	}
	return lo, hi
}

// blockSum replaces every cost by its sum over the block window, clipped to
// the volume.
func (m *SemiGlobalMatcher) blockSum(vol *costVolume, bs2 int) *costVolume {
	nd := vol.nd
	horiz := make([]int32, len(vol.c))
	rows(vol.h, m.workers, func(y int) {
		pre := make([]int32, (vol.w+1)*nd)
		for x := 0; x < vol.w; x++ {
			src := vol.at(x, y)
			for d := 0; d < nd; d++ {
				pre[(x+1)*nd+d] = pre[x*nd+d] + int32(src[d])
			}
		}
		base := y * vol.w * nd
		for x := 0; x < vol.w; x++ {
			a, b := max(x-bs2, 0), min(x+bs2+1, vol.w)
			for d := 0; d < nd; d++ {
				horiz[base+x*nd+d] = pre[b*nd+d] - pre[a*nd+d]
			}
		}
	})

	out := &costVolume{x0: vol.x0, w: vol.w, h: vol.h, nd: nd, c: make([]uint16, len(vol.c))}
	stride := vol.w * nd
	rows(vol.h, m.workers, func(y int) {
		a, b := max(y-bs2, 0), min(y+bs2+1, vol.h)
		acc := make([]int32, stride)
		for yy := a; yy < b; yy++ {
			row := horiz[yy*stride : (yy+1)*stride]
			for i, v := range row {
				acc[i] += v
			}
		}
		dst := out.c[y*stride : (y+1)*stride]
		for i, v := range acc {
			dst[i] = uint16(min(v, math.MaxUint16))
		}
	})
	return out
}

// aggregate sums the path costs of every active direction.
func (m *SemiGlobalMatcher) aggregate(vol *costVolume) []int32 {
	p1, p2 := m.params.penalties()
	nd := vol.nd
	stride := vol.w * nd
	sum := make([]int32, len(vol.c))

	// Horizontal paths are independent per row.
	rows(vol.h, m.workers, func(y int) {
		lr := make([]int32, nd)
		prev := make([]int32, nd)
		s := sum[y*stride : (y+1)*stride]
		for _, dir := range [2]int{1, -1} {
			start, end := 0, vol.w
			if dir < 0 {
				start, end = vol.w-1, -1
			}
			var prevMin int32
			first := true
			for x := start; x != end; x += dir {
				if first {
					prevMin = pathStart(lr, vol.at(x, y))
					first = false
				} else {
					prevMin = pathStep(lr, vol.at(x, y), prev, prevMin, p1, p2)
				}
				acc := s[x*nd : (x+1)*nd]
				for d, v := range lr {
					acc[d] += v
				}
				lr, prev = prev, lr
			}
		}
	})

	var down []int
	switch m.params.Mode {
	case Mode3Way:
		down = []int{0}
	default:
		down = []int{0, 1, -1}
	}
	m.verticalPass(vol, sum, down, false, p1, p2)
	if m.params.Mode == ModeHH {
		m.verticalPass(vol, sum, down, true, p1, p2)
	}
	return sum
}

// verticalPass aggregates the paths whose predecessor lies in the previous
// row (or the next row when upward), for each horizontal step in dxs.
func (m *SemiGlobalMatcher) verticalPass(vol *costVolume, sum []int32, dxs []int, upward bool, p1, p2 int32) {
	nd := vol.nd
	stride := vol.w * nd
	prev := make([][]int32, len(dxs))
	cur := make([][]int32, len(dxs))
	prevMin := make([][]int32, len(dxs))
	curMin := make([][]int32, len(dxs))
	for i := range dxs {
		prev[i] = make([]int32, stride)
		cur[i] = make([]int32, stride)
		prevMin[i] = make([]int32, vol.w)
		curMin[i] = make([]int32, vol.w)
	}

	for n := 0; n < vol.h; n++ {
		n := n // per-iteration copy (pre-Go 1.22 loop semantics)
		y := n
		if upward {
			y = vol.h - 1 - n
		}
		s := sum[y*stride : (y+1)*stride]
		parallel.For(vol.w, m.workers, func(xs, xe int) {
			for x := xs; x < xe; x++ {
				c := vol.at(x, y)
				acc := s[x*nd : (x+1)*nd]
				for i, dx := range dxs {
					lr := cur[i][x*nd : (x+1)*nd]
					px := x - dx
					if n == 0 || px < 0 || px >= vol.w {
						curMin[i][x] = pathStart(lr, c)
					} else {
						curMin[i][x] = pathStep(lr, c, prev[i][px*nd:(px+1)*nd], prevMin[i][px], p1, p2)
					}
					for d, v := range lr {
						acc[d] += v
					}
				}
			}
		})
		prev, cur = cur, prev
		prevMin, curMin = curMin, prevMin
	}
}

// pathStart initialises a path with the raw cost and returns its minimum.
func pathStart(lr []int32, c []uint16) int32 {
	minv := int32(math.MaxInt32)
	for d, v := range c {
		lr[d] = int32(v)
		minv = min(minv, lr[d])
	}
	return minv
}

// pathStep applies the recurrence
// Lr(p,d) = C(p,d) + min(Lr(q,d), Lr(q,d+-1)+P1, min Lr(q)+P2) - min Lr(q)
// and returns min Lr(p).
func pathStep(lr []int32, c []uint16, prev []int32, prevMin, p1, p2 int32) int32 {
	nd := len(c)
	jump := prevMin + p2
	minv := int32(math.MaxInt32)
	for d := 0; d < nd; d++ {
		v := min(prev[d], jump)
		if d > 0 {
			v = min(v, prev[d-1]+p1)
		}
		if d < nd-1 {
			v = min(v, prev[d+1]+p1)
		}
		lr[d] = int32(c[d]) + v - prevMin
		minv = min(minv, lr[d])
	}
	return minv
}

// selectRow picks the winning disparity per column of row y, applies the
// uniqueness test, sub-pixel refinement and the optional left-right check.
func (m *SemiGlobalMatcher) selectRow(sum []int32, vol *costVolume, y int, dst []float64, width int) {
	p := m.params
	nd := vol.nd
	row := sum[y*vol.w*nd : (y+1)*vol.w*nd]

	// Best disparity for each target column, used by the left-right check.
	var disp2 []int
	if p.Disp12MaxDiff >= 0 {
		disp2 = make([]int, width)
		cost2 := make([]int32, width)
		for i := range disp2 {
			disp2[i] = p.MinDisparity - 1
			cost2[i] = math.MaxInt32
		}
		for x := 0; x < vol.w; x++ {
			s := row[x*nd : (x+1)*nd]
			for d, v := range s {
				xr := vol.x0 + x - p.MinDisparity - d
				if v < cost2[xr] {
					cost2[xr] = v
					disp2[xr] = p.MinDisparity + d
				}
			}
		}
	}

	for x := 0; x < vol.w; x++ {
		s := row[x*nd : (x+1)*nd]
		best, bestD := s[0], 0
		for d := 1; d < nd; d++ {
			if s[d] < best {
				best, bestD = s[d], d
			}
		}
		if !unique(s, best, bestD, p.UniquenessRatio) {
			continue
		}

		d16 := bestD * DisparityScale
		if bestD > 0 && bestD < nd-1 {
			d16 += subpixel(int(s[bestD-1]), int(best), int(s[bestD+1]))
		}
		d16 += p.MinDisparity * DisparityScale

		xi := vol.x0 + x
		if disp2 != nil && !consistent(disp2, xi, d16, p) {
			continue
		}
		dst[xi] = float64(d16)
	}
}

// unique rejects a winner when a non-adjacent disparity costs within
// ratio percent of it.
func unique(s []int32, best int32, bestD, ratio int) bool {
	if ratio <= 0 {
		return true
	}
	for d, v := range s {
		if (d < bestD-1 || d > bestD+1) && int64(v)*int64(100-ratio) < int64(best)*100 {
			return false
		}
	}
	return true
}

// consistent compares a fixed-point left disparity against the best right
// disparity at both integer neighbours of its match.
func consistent(disp2 []int, x, d16 int, p Params) bool {
	lo := d16 >> 4
	hi := (d16 + DisparityScale - 1) >> 4
	bad := func(d int) bool {
		xr := x - d
		return xr >= 0 && xr < len(disp2) && disp2[xr] >= p.MinDisparity &&
			absInt(disp2[xr]-d) > p.Disp12MaxDiff
	}
	return !(bad(lo) && bad(hi))
}
