package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "small size gets minimum", input: 1, expected: 1024},
		{name: "exactly 1024", input: 1024, expected: 1024},
		{name: "just over 1024", input: 1025, expected: 2048},
		{name: "odd number", input: 1500, expected: 2048},
		{name: "one VGA plane", input: 640 * 480, expected: 307200},
		{name: "zero size", input: 0, expected: 1024},
		{name: "negative size", input: -1, expected: 1024},
	}

	for _, tt := range tests {
		tt := tt // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetFloat32_ReturnsZeroedBuffers(t *testing.T) {
	buf := GetFloat32(3000)
	require.Len(t, buf, 3000)
	for i := range buf {
		buf[i] = 7
	}
	PutFloat32(buf)

	again := GetFloat32(2500)
	require.Len(t, again, 2500)
	for i, v := range again {
		if v != 0 {
			t.Fatalf("reused buffer not cleared at %d: %v", i, v)
		}
	}
	PutFloat32(again)
}

func TestGetBool_ReturnsClearedMask(t *testing.T) {
	mask := GetBool(100)
	mask[3] = true
	PutBool(mask)

	mask = GetBool(100)
	assert.False(t, mask[3])
	PutBool(mask)
}

func TestPut_IgnoresForeignSlices(t *testing.T) {
	assert.NotPanics(t, func() {
		PutFloat32(nil)
		PutFloat32(make([]float32, 10))
		PutBool(make([]bool, 1500))
	})
}

func TestGetFloat32Multiple(t *testing.T) {
	bufs := GetFloat32Multiple(3, 640)
	require.Len(t, bufs, 3)
	for _, b := range bufs {
		assert.Len(t, b, 640)
	}
	bufs[1] = nil
	assert.NotPanics(t, func() { PutFloat32Multiple(bufs) })
	assert.Nil(t, GetFloat32Multiple(0, 10))
}

func TestPool_ConcurrentAccess(t *testing.T) {
	var p Pool[float64]
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		g := g // per-iteration copy (pre-Go 1.22 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := p.Get(1000 + g*100 + i)
				buf[0] = float64(i)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
