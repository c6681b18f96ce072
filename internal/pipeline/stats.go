package pipeline

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// Stats summarises a disparity map inside a region, in pixels.
type Stats struct {
	Pixels     int     `json:"pixels" yaml:"pixels"`
	Valid      int     `json:"valid" yaml:"valid"`
	ValidRatio float64 `json:"valid_ratio" yaml:"valid_ratio"`
	Min        float64 `json:"min" yaml:"min"`
	Max        float64 `json:"max" yaml:"max"`
	Mean       float64 `json:"mean" yaml:"mean"`
	StdDev     float64 `json:"std_dev" yaml:"std_dev"`
	Median     float64 `json:"median" yaml:"median"`
}

// ComputeStats summarises the matched samples of m inside roi (the whole
// map when empty), dividing by scale. unmatched may be nil.
func ComputeStats(m *imgbuf.Mat, roi image.Rectangle, scale float64, unmatched func(float64) bool) Stats {
	if m.Empty() {
		return Stats{}
	}
	if roi.Empty() {
		roi = m.Bounds()
	}
	roi = roi.Intersect(m.Bounds())
	if scale <= 0 {
		scale = 1
	}

	var s Stats
	values := make([]float64, 0, roi.Dx()*roi.Dy())
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			s.Pixels++
			v := m.At(x, y)
			if math.IsNaN(v) || math.IsInf(v, 0) || (unmatched != nil && unmatched(v)) {
				continue
			}
			values = append(values, v/scale)
		}
	}
	s.Valid = len(values)
	if s.Pixels > 0 {
		s.ValidRatio = float64(s.Valid) / float64(s.Pixels)
	}
	if s.Valid == 0 {
		return s
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if s.Valid == 1 {
		s.StdDev = 0
	}
	sort.Float64s(values)
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return s
}
