package wls

import (
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/mempool"
)

// discontinuityTrust multiplies the trust of pixels near a raw jump.
const discontinuityTrust = 0.5

// minTrust is the filtered trust below which a pixel counts as
// unconstrained and is filled from its neighbours instead.
const minTrust = 1e-6

// Filter is a configured WLS disparity filter. It is safe for concurrent
// use.
type Filter struct {
	params Params
}

// New validates p and returns a filter.
func New(p Params) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Filter{params: p}, nil
}

// Params returns the filter settings.
func (f *Filter) Params() Params { return f.params }

// Apply refines in.Disparity. The result has the raw map's size, sample
// type and scale; the inputs are not modified.
func (f *Filter) Apply(in Input) (*imgbuf.Mat, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	raw := in.Disparity
	w, h := raw.Width, raw.Height
	n := w * h

	trust := f.trustMap(in)
	defer mempool.PutFloat32(trust)

	guide := guidePlanes(in.Guide)
	defer mempool.PutFloat32Multiple(guide)
	edges := newEdgeWeights(guide, w, h, f.params.SigmaColor, f.params.Workers)
	defer edges.release()

	num := mempool.GetFloat32(n)
	defer mempool.PutFloat32(num)
	for i, c := range trust {
		if c > 0 {
			num[i] = c * float32(raw.Data[i])
		}
	}
	den := mempool.GetFloat32(n)
	defer mempool.PutFloat32(den)
	copy(den, trust)

	smooth([][]float32{num, den}, edges, f.params.Lambda, f.params.Iterations, f.params.Workers)

	values := make([]float64, n)
	known := make([]bool, n)
	found := false
	for i := range values {
		if den[i] > minTrust {
			values[i] = float64(num[i] / den[i])
			known[i] = true
			found = true
		}
	}
	if !found {
		// Nothing was trusted; there is no better estimate than the input.
		return raw.Clone(), nil
	}
	fillUnknown(values, known, w, h)

	out := imgbuf.New(w, h, 1, raw.Type)
	for i, v := range values {
		out.Data[i] = raw.Type.Saturate(v)
	}
	return out, nil
}

func checkInput(in Input) error {
	raw := in.Disparity
	if raw.Empty() {
		return errs.Parameter("disparity", "empty", "must have positive size")
	}
	if raw.Channels != 1 {
		return errs.Parameter("disparity_channels", raw.Channels, "must be single-channel")
	}
	if !raw.SameSize(in.Guide) {
		return errs.Parameter("guide", sizeOf(in.Guide), fmt.Sprintf("must match disparity size %dx%d", raw.Width, raw.Height))
	}
	if in.Confidence != nil {
		if !raw.SameSize(in.Confidence) || in.Confidence.Channels != 1 {
			return errs.Parameter("confidence", sizeOf(in.Confidence),
				fmt.Sprintf("must be single-channel %dx%d", raw.Width, raw.Height))
		}
	} else if !in.ROI.Empty() && in.ROI.Intersect(raw.Bounds()).Empty() {
		return errs.Parameter("roi", in.ROI, "does not overlap the disparity map")
	}
	return nil
}

func sizeOf(m *imgbuf.Mat) string {
	if m == nil {
		return "missing"
	}
	return fmt.Sprintf("%dx%dx%d", m.Width, m.Height, m.Channels)
}

// trustMap builds the per-pixel fidelity weight in [0, 1]: the explicit
// confidence scaled from [0, 255], or the ROI as a 1/0 mask. Unmatched raw
// pixels get 0, and pixels within DiscontinuityRadius of a raw jump have
// their trust halved in both modes.
func (f *Filter) trustMap(in Input) []float32 {
	raw := in.Disparity
	w, h := raw.Width, raw.Height
	trust := mempool.GetFloat32(w * h)

	switch {
	case in.Confidence != nil:
		for i := range trust {
			trust[i] = float32(math.Min(math.Max(in.Confidence.Data[i]/255, 0), 1))
		}
	default:
		roi := Bounds(in.ROI, image.Pt(w, h))
		for y := roi.Min.Y; y < roi.Max.Y; y++ {
			for x := roi.Min.X; x < roi.Max.X; x++ {
				trust[y*w+x] = 1
			}
		}
	}

	matched := func(v float64) bool {
		return !math.IsNaN(v) && !math.IsInf(v, 0) && (in.Unmatched == nil || !in.Unmatched(v))
	}
	for i, v := range raw.Data {
		if !matched(v) {
			trust[i] = 0
		}
	}

	if r := f.params.DiscontinuityRadius; r > 0 {
		mask := discontinuities(raw, matched, f.params.DiscontinuityJump)
		dilate(mask, w, h, r)
		for i, near := range mask {
			if near {
				trust[i] *= discontinuityTrust
			}
		}
		mempool.PutBool(mask)
	}
	return trust
}

// discontinuities marks both pixels of every matched 4-neighbour pair whose
// values differ by more than jump.
func discontinuities(raw *imgbuf.Mat, matched func(float64) bool, jump float64) []bool {
	w, h := raw.Width, raw.Height
	mask := mempool.GetBool(w * h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			v := raw.Data[i]
			if !matched(v) {
				continue
			}
			if x+1 < w {
				if u := raw.Data[i+1]; matched(u) && math.Abs(u-v) > jump {
					mask[i], mask[i+1] = true, true
				}
			}
			if y+1 < h {
				if u := raw.Data[i+w]; matched(u) && math.Abs(u-v) > jump {
					mask[i], mask[i+w] = true, true
				}
			}
		}
	}
	return mask
}

// dilate grows mask by r pixels with a square structuring element, as a
// horizontal then a vertical running-count pass.
func dilate(mask []bool, w, h, r int) {
	line := make([]bool, max(w, h))
	pass := func(n, count, stride, step int) {
		for k := 0; k < count; k++ {
			base := k * stride
			for i := 0; i < n; i++ {
				line[i] = mask[base+i*step]
			}
			hits := 0
			for i := 0; i < min(r, n); i++ {
				if line[i] {
					hits++
				}
			}
			for i := 0; i < n; i++ {
				if j := i + r; j < n && line[j] {
					hits++
				}
				if j := i - r - 1; j >= 0 && line[j] {
					hits--
				}
				mask[base+i*step] = hits > 0
			}
		}
	}
	pass(w, h, w, 1)
	pass(h, w, 1, w)
}

// fillUnknown assigns every unknown value the nearest known value on its
// row, and rows without any known value the nearest filled row.
func fillUnknown(values []float64, known []bool, w, h int) {
	rowKnown := make([]bool, h)
	for y := 0; y < h; y++ {
		row := values[y*w : (y+1)*w]
		k := known[y*w : (y+1)*w]
		rowKnown[y] = fillLine(row, k)
	}
	for y := 0; y < h; y++ {
		if rowKnown[y] {
			continue
		}
		src := -1
		for d := 1; d < h && src < 0; d++ {
			if y-d >= 0 && rowKnown[y-d] {
				src = y - d
			} else if y+d < h && rowKnown[y+d] {
				src = y + d
			}
		}
		if src >= 0 {
			copy(values[y*w:(y+1)*w], values[src*w:(src+1)*w])
		}
	}
}

// fillLine fills unknown entries from the nearest known entry, preferring
// the left one on ties, and reports whether any entry was known.
func fillLine(v []float64, known []bool) bool {
	n := len(v)
	last := -1
	dist := make([]int, n)
	for i := 0; i < n; i++ {
		if known[i] {
			last = i
			continue
		}
		if last >= 0 {
			v[i] = v[last]
			dist[i] = i - last
		} else {
			dist[i] = math.MaxInt
		}
	}
	if last < 0 {
		return false
	}
	next := -1
	for i := n - 1; i >= 0; i-- {
		if known[i] {
			next = i
			continue
		}
		if next >= 0 && next-i < dist[i] {
			v[i] = v[next]
		}
	}
	return true
}

// guidePlanes splits the first three channels of the guide into float32
// planes from the pool.
func guidePlanes(g *imgbuf.Mat) [][]float32 {
	nc := min(g.Channels, 3)
	planes := mempool.GetFloat32Multiple(nc, g.Width*g.Height)
	for i := 0; i < g.Width*g.Height; i++ {
		for c := 0; c < nc; c++ {
			planes[c][i] = float32(g.Data[i*g.Channels+c])
		}
	}
	return planes
}

// Bounds is the region a no-confidence filter trusts for a given ROI and
// map size.
func Bounds(roi image.Rectangle, size image.Point) image.Rectangle {
	full := image.Rectangle{Max: size}
	if roi.Empty() {
		return full
	}
	return roi.Intersect(full)
}
