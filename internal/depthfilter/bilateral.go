package depthfilter

import (
	"math"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
)

// BilateralParams configures Bilateral.
type BilateralParams struct {
	// Diameter of the pixel neighbourhood. Values <= 0 select 9; even values
	// are rounded up to the next odd one.
	Diameter int
	// SigmaColor is the range sigma. Negative selects 10% of the data range,
	// or 1 for a flat map.
	SigmaColor float64
	// SigmaSpace is the spatial sigma in pixels.
	SigmaSpace float64
	// Iterations applies the filter repeatedly.
	Iterations int
	Workers    int
}

// DefaultBilateralParams mirrors the command line defaults.
func DefaultBilateralParams() BilateralParams {
	return BilateralParams{Diameter: 9, SigmaColor: -1, SigmaSpace: 15, Iterations: 1}
}

// Validate checks the settings that have no automatic fallback.
func (p BilateralParams) Validate() error {
	if !(p.SigmaSpace > 0) || math.IsInf(p.SigmaSpace, 0) {
		return errs.Parameter("sigma_space", p.SigmaSpace, "must be positive")
	}
	if p.Iterations < 1 {
		return errs.Parameter("iterations", p.Iterations, "must be at least 1")
	}
	if math.IsNaN(p.SigmaColor) {
		return errs.Parameter("sigma_color", p.SigmaColor, "must be a number")
	}
	return nil
}

// diameter resolves the automatic and even diameters.
func (p BilateralParams) diameter() int {
	d := p.Diameter
	if d <= 0 {
		return 9
	}
	if d%2 == 0 {
		d++
	}
	return d
}

// sigmaColor resolves the automatic range sigma for m.
func (p BilateralParams) sigmaColor(m *imgbuf.Mat) float64 {
	if p.SigmaColor >= 0 {
		return p.SigmaColor
	}
	lo, hi := m.MinMax()
	if r := hi - lo; r > 0 {
		return 0.1 * r
	}
	return 1
}

// Bilateral smooths m with an edge-preserving bilateral filter over a
// circular window. Multi-channel maps use the summed absolute channel
// difference as range distance. The result has m's layout and sample type.
func Bilateral(m *imgbuf.Mat, p BilateralParams) (*imgbuf.Mat, error) {
	if m.Empty() {
		return nil, errs.Parameter("depth", "empty", "must have positive size")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	radius := p.diameter() / 2
	sc := p.sigmaColor(m)
	colorCoeff := 0.0
	if sc > 0 {
		colorCoeff = -0.5 / (sc * sc)
	}
	spaceCoeff := -0.5 / (p.SigmaSpace * p.SigmaSpace)

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if math.Sqrt(r2) > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(r2 * spaceCoeff)})
		}
	}

	cur := make([]float64, len(m.Data))
	copy(cur, m.Data)
	next := make([]float64, len(cur))
	w, h, nc := m.Width, m.Height, m.Channels

	for _i := 0; _i < p.Iterations; _i++ {
		parallel.For(h, p.Workers, func(start, end int) {
			acc := make([]float64, nc)
			for y := start; y < end; y++ {
				for x := 0; x < w; x++ {
					ci := (y*w + x) * nc
					clear(acc)
					norm := 0.0
					for _, t := range taps {
						qi := (clamp(y+t.dy, h)*w + clamp(x+t.dx, w)) * nc
						diff := 0.0
						for c := 0; c < nc; c++ {
							diff += math.Abs(cur[qi+c] - cur[ci+c])
						}
						wt := t.w
						if colorCoeff != 0 {
							wt *= math.Exp(diff * diff * colorCoeff)
						} else if diff != 0 {
							wt = 0
						}
						for c := 0; c < nc; c++ {
							acc[c] += wt * cur[qi+c]
						}
						norm += wt
					}
					for c := 0; c < nc; c++ {
						next[ci+c] = acc[c] / norm
					}
				}
			}
		})
		cur, next = next, cur
	}

	out := imgbuf.New(w, h, nc, m.Type)
	for i, v := range cur {
		out.Data[i] = m.Type.Saturate(v)
	}
	return out, nil
}
