package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		hits := make([]int32, 1000)
		For(len(hits), workers, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, h)
			}
		}
	}
}

func TestFor_EmptyRangeDoesNothing(t *testing.T) {
	called := false
	For(0, 4, func(int, int) { called = true })
	assert.False(t, called)
}

func TestWorkers_DefaultsToCPUCount(t *testing.T) {
	assert.Positive(t, Workers(0))
	assert.Equal(t, 3, Workers(3))
}
