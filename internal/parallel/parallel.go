// Package parallel splits independent row or column work across a pool of
// goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// span is a half-open range of rows handed to one worker.
type span struct {
	start, end int
}

// Workers resolves a configured worker count: zero or negative means
// runtime.NumCPU().
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// For calls fn over [0, n) in contiguous chunks using up to workers
// goroutines and returns once every chunk is done. fn must only write to
// memory owned by its own chunk.
func For(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers = min(Workers(workers), n)
	if workers == 1 {
		fn(0, n)
		return
	}

	// A few chunks per worker keeps the tail short when rows differ in cost.
	chunk := max(1, n/(workers*4))
	jobs := make(chan span, (n+chunk-1)/chunk)
	for s := 0; s < n; s += chunk {
		jobs <- span{start: s, end: min(s+chunk, n)}
	}
	close(jobs)

	var wg sync.WaitGroup
	for _i := 0; _i < workers; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				fn(j.start, j.end)
			}
		}()
	}
	wg.Wait()
}
