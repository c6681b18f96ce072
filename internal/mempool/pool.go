// Package mempool recycles the large scratch planes of the filtering stages.
package mempool

import (
	"sync"
)

// step is the granularity of size classes.
const step = 1024

// sizeClass rounds n up to the next multiple of step, with step as the
// smallest class.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

// Pool hands out zeroed slices of T grouped by size class. The zero value is
// ready to use and safe for concurrent use.
type Pool[T any] struct {
	classes sync.Map // size class -> *sync.Pool
}

func (p *Pool[T]) class(cls int) *sync.Pool {
	if sp, ok := p.classes.Load(cls); ok {
		return sp.(*sync.Pool)
	}
	sp, _ := p.classes.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return sp.(*sync.Pool)
}

// Get returns a zeroed slice of length n. Return it with Put when done.
func (p *Pool[T]) Get(n int) []T {
	n = max(n, 0)
	cls := sizeClass(n)
	bp := p.class(cls).Get().(*[]T)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]T, cls)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

// Put returns buf to the pool. Nil slices and slices that did not come
// from a pool (capacity not a size class) are dropped.
func (p *Pool[T]) Put(buf []T) {
	c := cap(buf)
	if buf == nil || c < step || c%step != 0 {
		return
	}
	buf = buf[:c]
	p.class(c).Put(&buf)
}

var (
	float32s Pool[float32]
	bools    Pool[bool]
)

// GetFloat32 returns a zeroed []float32 of length n from the shared pool.
func GetFloat32(n int) []float32 { return float32s.Get(n) }

// PutFloat32 returns a buffer obtained from GetFloat32.
func PutFloat32(buf []float32) { float32s.Put(buf) }

// GetBool returns a zeroed []bool of length n from the shared pool.
func GetBool(n int) []bool { return bools.Get(n) }

// PutBool returns a buffer obtained from GetBool.
func PutBool(buf []bool) { bools.Put(buf) }

// GetFloat32Multiple returns count zeroed buffers of length n each.
func GetFloat32Multiple(count, n int) [][]float32 {
	if count <= 0 {
		return nil
	}
	bufs := make([][]float32, count)
	for i := range bufs {
		bufs[i] = GetFloat32(n)
	}
	return bufs
}

// PutFloat32Multiple returns every buffer in bufs. Nil entries are skipped.
func PutFloat32Multiple(bufs [][]float32) {
	for _, b := range bufs {
		PutFloat32(b)
	}
}
