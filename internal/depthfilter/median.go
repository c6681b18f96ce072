// Package depthfilter holds the depth-only smoothing filters used next to
// the guided WLS filter: a 3x3 median and an iterated bilateral filter.
package depthfilter

import (
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
)

// Median3x3 returns the per-channel 3x3 median of m with replicated borders.
// The result keeps m's layout and sample type.
func Median3x3(m *imgbuf.Mat, workers int) *imgbuf.Mat {
	out := imgbuf.New(m.Width, m.Height, m.Channels, m.Type)
	if m.Empty() {
		return out
	}
	parallel.For(m.Height, workers, func(start, end int) {
		var win [9]float64
		for y := start; y < end; y++ {
			for x := 0; x < m.Width; x++ {
				for c := 0; c < m.Channels; c++ {
					k := 0
					for dy := -1; dy <= 1; dy++ {
						yy := clamp(y+dy, m.Height)
						for dx := -1; dx <= 1; dx++ {
							win[k] = m.AtC(clamp(x+dx, m.Width), yy, c)
							k++
						}
					}
					out.Data[m.Index(x, y, c)] = median9(&win)
				}
			}
		}
	})
	return out
}

// median9 sorts the window in place and returns its middle element.
func median9(v *[9]float64) float64 {
	for i := 1; i < 9; i++ {
		x := v[i]
		j := i - 1
		for ; j >= 0 && v[j] > x; j-- {
			v[j+1] = v[j]
		}
		v[j+1] = x
	}
	return v[4]
}

func clamp(i, n int) int {
	switch {
	case i < 0:
		return 0
	case i >= n:
		return n - 1
	}
	return i
}
