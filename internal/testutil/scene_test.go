package testutil

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanarPair_ShiftsByDisparity(t *testing.T) {
	left, right := PlanarPair(40, 10, 5, 7)
	for y := 0; y < 10; y++ {
		for x := 5; x < 40; x++ {
			assert.InDelta(t, left.At(x, y), right.At(x-5, y), 0)
		}
	}
}

func TestStepPair_ForegroundAndBackgroundCorrespond(t *testing.T) {
	fg := image.Rect(20, 0, 30, 10)
	left, right := StepPair(60, 10, 2, 8, fg, 3)

	assert.InDelta(t, left.At(25, 4), right.At(17, 4), 0, "foreground moves by 8")
	assert.InDelta(t, left.At(45, 4), right.At(43, 4), 0, "background moves by 2")
}

func TestTexture_IsDeterministic(t *testing.T) {
	assert.Equal(t, Texture(3, 4, 1), Texture(3, 4, 1))
	assert.NotEqual(t, TexturedImage(8, 8, 1).Data, TexturedImage(8, 8, 2).Data)
}
