package stereo

import "github.com/MeKo-Tech/stereowls/internal/imgbuf"

// speckleRegion is a 4-connected set of pixels whose neighbouring
// disparities differ by at most the speckle range.
type speckleRegion struct {
	count int
	small bool
}

// FilterSpeckles replaces every connected region of similar disparities
// with at most maxSize pixels by newVal, in place. Two 4-neighbours belong
// to the same region when their values differ by no more than maxDiff.
// Pixels already equal to newVal are never part of a region.
func FilterSpeckles(m *imgbuf.Mat, newVal float64, maxSize int, maxDiff int) {
	if maxSize <= 0 || m.Empty() {
		return
	}
	w, h := m.Width, m.Height
	labels := make([]int32, w*h)
	var regions []speckleRegion
	queue := make([]int, 0, 256)
	var label int32

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if labels[idx] != 0 || m.Data[idx] == newVal {
				continue
			}
			label++
			var st speckleRegion
			queue, st = growRegion(m, labels, queue[:0], idx, label, newVal, float64(maxDiff))
			st.small = st.count <= maxSize
			regions = append(regions, st)
		}
	}

	for i, lb := range labels {
		if lb > 0 && regions[lb-1].small {
			m.Data[i] = newVal
		}
	}
}

// growRegion labels the region containing seed with a breadth-first walk.
// The queue slice is returned for reuse.
func growRegion(m *imgbuf.Mat, labels []int32, queue []int, seed int, label int32,
	newVal, maxDiff float64,
) ([]int, speckleRegion) {
	w, h := m.Width, m.Height
	labels[seed] = label
	queue = append(queue, seed)
	var st speckleRegion

	for head := 0; head < len(queue); head++ {
		ci := queue[head]
		st.count++
		cx, cy := ci%w, ci/w
		v := m.Data[ci]
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := cx+d[0], cy+d[1]
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			ni := ny*w + nx
			nv := m.Data[ni]
			if labels[ni] != 0 || nv == newVal {
				continue
			}
			if diff := nv - v; diff <= maxDiff && -diff <= maxDiff {
				labels[ni] = label
				queue = append(queue, ni)
			}
		}
	}
	return queue, st
}
