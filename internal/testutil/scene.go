package testutil

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/stretchr/testify/require"
)

// Texture returns a deterministic pseudo-random intensity for (x, y). It is
// defined for any coordinate, so shifted copies never run out of pixels.
func Texture(x, y int, seed uint32) uint8 {
	h := uint32(x)*0x9E3779B1 ^ uint32(y)*0x85EBCA77 ^ seed*0xC2B2AE3D
	h ^= h >> 15
	h *= 0x2C1B3C6D
	h ^= h >> 12
	h *= 0x297A2D39
	h ^= h >> 15
	return uint8(h >> 24)
}

// TexturedImage fills a U8 image with Texture.
func TexturedImage(w, h int, seed uint32) *imgbuf.Mat {
	m := imgbuf.New(w, h, 1, imgbuf.U8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Data[y*w+x] = float64(Texture(x, y, seed))
		}
	}
	return m
}

// PlanarPair renders a fronto-parallel textured plane seen at disparity d:
// left(x, y) == right(x-d, y) everywhere.
func PlanarPair(w, h, d int, seed uint32) (left, right *imgbuf.Mat) {
	left = imgbuf.New(w, h, 1, imgbuf.U8)
	right = imgbuf.New(w, h, 1, imgbuf.U8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			left.Data[y*w+x] = float64(Texture(x, y, seed))
			right.Data[y*w+x] = float64(Texture(x+d, y, seed))
		}
	}
	return left, right
}

// StepPair renders a textured background at disparity bg with a textured
// foreground rectangle fg (left-image coordinates) at disparity front. The
// background strip of width front-bg left of fg is occluded in the right
// view.
func StepPair(w, h, bg, front int, fg image.Rectangle, seed uint32) (left, right *imgbuf.Mat) {
	left = imgbuf.New(w, h, 1, imgbuf.U8)
	right = imgbuf.New(w, h, 1, imgbuf.U8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(fg) {
				left.Data[y*w+x] = float64(Texture(x, y, seed+1))
			} else {
				left.Data[y*w+x] = float64(Texture(x, y, seed))
			}
			if image.Pt(x+front, y).In(fg) {
				right.Data[y*w+x] = float64(Texture(x+front, y, seed+1))
			} else {
				right.Data[y*w+x] = float64(Texture(x+bg, y, seed))
			}
		}
	}
	return left, right
}

// ConstantDisparity returns an S16 map holding d*scale everywhere.
func ConstantDisparity(w, h int, d float64, scale float64) *imgbuf.Mat {
	return imgbuf.NewFilled(w, h, imgbuf.S16, d*scale)
}

// EncodePNG encodes an 8- or 16-bit Mat as PNG bytes.
func EncodePNG(t *testing.T, m *imgbuf.Mat) []byte {
	t.Helper()

	img, err := imgbuf.ToImage(m)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// WritePNG writes m to path as PNG.
func WritePNG(t *testing.T, path string, m *imgbuf.Mat) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, EncodePNG(t, m), 0o600))
}
