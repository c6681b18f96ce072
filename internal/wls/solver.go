package wls

import (
	"math"

	"gonum.org/v1/gonum/lapack/gonum"

	"github.com/MeKo-Tech/stereowls/internal/mempool"
	"github.com/MeKo-Tech/stereowls/internal/parallel"
)

var lapack gonum.Implementation

// edgeWeights holds the guide affinities between horizontal neighbours
// (x, x+1) and vertical neighbours (y, y+1), indexed by the first pixel.
type edgeWeights struct {
	w, h  int
	horiz []float32
	vert  []float32
}

func (e *edgeWeights) release() {
	mempool.PutFloat32(e.horiz)
	mempool.PutFloat32(e.vert)
}

// newEdgeWeights computes exp(-|g_p - g_q| / sigma) over the guide planes.
func newEdgeWeights(guide [][]float32, w, h int, sigma float64, workers int) *edgeWeights {
	e := &edgeWeights{
		w: w, h: h,
		horiz: mempool.GetFloat32(w * h),
		vert:  mempool.GetFloat32(w * h),
	}
	dist := func(i, j int) float64 {
		s := 0.0
		for _, g := range guide {
			d := float64(g[i] - g[j])
			s += d * d
		}
		return math.Sqrt(s)
	}
	parallel.For(h, workers, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				if x+1 < w {
					e.horiz[i] = float32(math.Exp(-dist(i, i+1) / sigma))
				}
				if y+1 < h {
					e.vert[i] = float32(math.Exp(-dist(i, i+w) / sigma))
				}
			}
		}
	})
	return e
}

// lambdaSchedule returns the per-iteration smoothness, decreasing by 4x per
// step: 1.5 * lambda * 4^(T-t) / (4^T - 1) for t = 1..T.
func lambdaSchedule(lambda float64, iterations int) []float64 {
	out := make([]float64, iterations)
	denom := math.Pow(4, float64(iterations)) - 1
	for t := 1; t <= iterations; t++ {
		out[t-1] = 1.5 * lambda * math.Pow(4, float64(iterations-t)) / denom
	}
	return out
}

// smooth filters every plane in place with the separable solver. All planes
// share one system, so coefficients are factorised once per line.
func smooth(planes [][]float32, e *edgeWeights, lambda float64, iterations, workers int) {
	for _, lt := range lambdaSchedule(lambda, iterations) {
		lt := lt // per-iteration copy (pre-Go 1.22 loop semantics)
		// Rows.
		parallel.For(e.h, workers, func(start, end int) {
			s := newLineSolver(e.w, len(planes))
			for y := start; y < end; y++ {
				off := y * e.w
				s.solve(planes, off, 1, e.w, e.horiz[off:off+e.w], lt)
			}
		})
		// Columns.
		parallel.For(e.w, workers, func(start, end int) {
			s := newLineSolver(e.h, len(planes))
			col := make([]float32, e.h)
			for x := start; x < end; x++ {
				for y := 0; y < e.h; y++ {
					col[y] = e.vert[y*e.w+x]
				}
				s.solve(planes, x, e.w, e.h, col, lt)
			}
		})
	}
}

// lineSolver is per-worker scratch for the tridiagonal solves.
type lineSolver struct {
	d, e []float64 // diagonal and off-diagonal of I + lambda*L
	b    []float64 // n x planes right-hand sides, row-major
}

func newLineSolver(n, planes int) *lineSolver {
	return &lineSolver{
		d: make([]float64, n),
		e: make([]float64, n),
		b: make([]float64, n*planes),
	}
}

// solve replaces the n samples at off, off+stride, ... of every plane by the
// solution of (I + lambda*L) u = f, where L is the weighted path Laplacian
// with weights wt[i] between samples i and i+1. The system is symmetric
// positive definite, so it is factorised once and solved for all planes.
func (s *lineSolver) solve(planes [][]float32, off, stride, n int, wt []float32, lambda float64) {
	nrhs := len(planes)
	if n == 1 || nrhs == 0 {
		return
	}
	for i := 0; i < n; i++ {
		s.d[i] = 1
	}
	for i := 0; i < n-1; i++ {
		w := lambda * float64(wt[i])
		s.d[i] += w
		s.d[i+1] += w
		s.e[i] = -w
	}
	for k, p := range planes {
		for i := 0; i < n; i++ {
			s.b[i*nrhs+k] = float64(p[off+i*stride])
		}
	}

	if !lapack.Dpttrf(n, s.d, s.e) {
		return
	}
	lapack.Dpttrs(n, nrhs, s.d, s.e, s.b, nrhs)

	for k, p := range planes {
		for i := 0; i < n; i++ {
			p[off+i*stride] = float32(s.b[i*nrhs+k])
		}
	}
}
